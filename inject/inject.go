// Package inject links the goloader pool and the artifact repository into a host, so the
// process-wide [bypass.Default] context loads cfg.Module and polls cfg.Repo on its own.
//
// A preloaded library imports it for its side effects:
//
//	import _ "github.com/ZenLiuCN/bypass/inject"
package inject

import (
	_ "github.com/ZenLiuCN/bypass/pool"
	_ "github.com/ZenLiuCN/bypass/repo"
)

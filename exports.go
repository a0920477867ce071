package bypass

import "slices"

// Export is one externally visible entry name and the canonical call it shares an implementation with.
//
// Versioned and unversioned names (open and open64, __xstat and stat) are listed explicitly
// instead of relying on linker aliases.
type Export struct {
	Name   string
	Symbol string
}

var exports = []Export{
	{"open", "openat"},
	{"open64", "openat"},
	{"openat", "openat"},
	{"openat64", "openat"},
	{"close", "close"},
	{"renameat2", "renameat2"},
	{"truncate", "truncate"},
	{"truncate64", "truncate"},
	{"ftruncate", "ftruncate"},
	{"ftruncate64", "ftruncate"},
	{"fallocate", "fallocate"},
	{"fallocate64", "fallocate"},
	{"posix_fallocate", "posix_fallocate"},
	{"posix_fallocate64", "posix_fallocate"},

	{"chdir", "chdir"},
	{"fchdir", "fchdir"},
	{"getcwd", "getcwd"},
	{"mkdirat", "mkdirat"},
	{"rmdir", "rmdir"},
	{"opendir", "opendir"},
	{"fdopendir", "fdopendir"},
	{"readdir", "readdir"},
	{"readdir64", "readdir"},
	{"closedir", "closedir"},
	{"realpath", "realpath"},

	{"linkat", "linkat"},
	{"symlinkat", "symlinkat"},
	{"unlinkat", "unlinkat"},
	{"readlinkat", "readlinkat"},

	{"stat", "stat"},
	{"__xstat", "stat"},
	{"stat64", "stat64"},
	{"__xstat64", "stat64"},
	{"lstat", "lstat"},
	{"__lxstat", "lstat"},
	{"lstat64", "lstat64"},
	{"__lxstat64", "lstat64"},
	{"fstat", "fstat"},
	{"__fxstat", "fstat"},
	{"fstat64", "fstat64"},
	{"__fxstat64", "fstat64"},
	{"fstatat", "fstatat"},
	{"__fxstatat", "fstatat"},
	{"fstatat64", "fstatat64"},
	{"__fxstatat64", "fstatat64"},
	{"fchmod", "fchmod"},
	{"fchmodat", "fchmodat"},
	{"lchown", "lchown"},
	{"fchown", "fchown"},
	{"fchownat", "fchownat"},
	{"utime", "utime"},
	{"utimes", "utimes"},
	{"futimesat", "futimesat"},
	{"utimensat", "utimensat"},
	{"futimens", "futimens"},
	{"faccessat", "faccessat"},

	{"setxattr", "setxattr"},
	{"lsetxattr", "lsetxattr"},
	{"fsetxattr", "fsetxattr"},
	{"getxattr", "getxattr"},
	{"lgetxattr", "lgetxattr"},
	{"fgetxattr", "fgetxattr"},
	{"listxattr", "listxattr"},
	{"llistxattr", "llistxattr"},
	{"flistxattr", "flistxattr"},
	{"removexattr", "removexattr"},
	{"lremovexattr", "lremovexattr"},
	{"fremovexattr", "fremovexattr"},

	{"fcntl", "fcntl"},
	{"fcntl64", "fcntl"},
	{"dup2", "dup2"},
	{"dup3", "dup3"},

	{"read", "read"},
	{"readv", "readv"},
	{"pread", "pread"},
	{"pread64", "pread"},
	{"preadv", "preadv"},
	{"preadv64", "preadv"},
	{"write", "write"},
	{"writev", "writev"},
	{"pwrite", "pwrite"},
	{"pwrite64", "pwrite"},
	{"pwritev", "pwritev"},
	{"pwritev64", "pwritev"},
	{"lseek", "lseek"},
	{"lseek64", "lseek"},

	{"fdatasync", "fdatasync"},
	{"fsync", "fsync"},
}

// Exports returns a copy of the export table.
func Exports() []Export {
	return slices.Clone(exports)
}

// Lookup finds the export entry for an external name.
func Lookup(name string) (Export, bool) {
	i := slices.IndexFunc(exports, func(e Export) bool { return e.Name == name })
	if i < 0 {
		return Export{}, false
	}
	return exports[i], true
}

// SymbolNames lists the canonical call names in export order, each once.
func SymbolNames() []string {
	var out []string
	for _, e := range exports {
		if !slices.Contains(out, e.Symbol) {
			out = append(out, e.Symbol)
		}
	}
	return out
}

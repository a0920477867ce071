/*
Package bypass is the call interception core of a hot swappable storage client.

Every filesystem call a host makes through a [Context] is routed either to its genuine
implementation or to the client module that owns the managed namespace. The client module can
be replaced at runtime while any number of goroutines keep calling.

# Underwater

 1. Genuine implementations are resolved once, on the first call of any kind, into [Sys].
    A name that cannot be resolved aborts the process.
 2. Each call takes the [Guard] in read mode only when it targets a managed path or descriptor.
    A swap takes it in write mode; calls already in flight finish on the module they entered with.
 3. A [Watcher] polls a [Checker] every interval and swaps in newer modules. A module that fails
    to load or start never replaces the active one.
 4. The stop entry of the retiring module returns a [Token] that is handed unchanged to the
    start entry of its successor.

# Module entry points

A client module provides three entry points, see [Entries]:

	Start(config []byte, sys *bypass.Sys, prev bypass.Token) (bypass.Client, error)
	Stop() bypass.Token
	FlushLogs()

Clients use the given [Sys] for their own low level calls, which therefore never re-enter
the hooks.

# Notes

 1. Hooks must not be called after a symbol resolution failure when a non fatal abort handler
    was installed through [WithAbort].
 2. Relative paths are resolved against the managed working directory only while one is set
    through Chdir or Fchdir.
 3. A directory stream lists its entries at open time and is not refreshed.

# Process context

[Default] builds the process wide Context from [Configure] options, or from the file named by
BYPASS_CONFIG.
*/
package bypass

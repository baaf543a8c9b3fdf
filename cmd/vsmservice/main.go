// Command vsmservice is the process entry point that links the VSM
// core packages into a runnable binary and exposes the command-line/
// service-wrapper surface documented in spec.md §6. That surface
// (service registration, the account/password/startup-mode/description
// flags) is explicitly outside the core per spec.md's non-goals; this
// package specifies it declaratively and, outside of actually running
// the core (the "run" command), returns an error on every platform
// rather than implementing service control.
package main

import (
	"fmt"
	"os"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vsmservice:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to a process exit status: 0 on success
// (unreachable here - Execute only returns non-nil errors to this
// path), non-zero otherwise, per spec.md §6's "Exit codes: 0 success,
// non-zero for init or service-control failure".
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if vsmerr.Is(err, vsmerr.InvalidParam) {
		return 2
	}
	return 1
}

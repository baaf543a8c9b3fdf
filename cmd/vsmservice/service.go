package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

// serviceAction is a pflag.Value restricting --service to the
// documented verb set, per spec.md §6: "--service {create|delete|
// start|stop|restart|state} manages a service registration".
type serviceAction string

const (
	serviceActionCreate  serviceAction = "create"
	serviceActionDelete  serviceAction = "delete"
	serviceActionStart   serviceAction = "start"
	serviceActionStop    serviceAction = "stop"
	serviceActionRestart serviceAction = "restart"
	serviceActionState   serviceAction = "state"
)

func (a *serviceAction) String() string { return string(*a) }
func (a *serviceAction) Type() string   { return "action" }
func (a *serviceAction) Set(v string) error {
	switch serviceAction(v) {
	case serviceActionCreate, serviceActionDelete, serviceActionStart,
		serviceActionStop, serviceActionRestart, serviceActionState:
		*a = serviceAction(v)
		return nil
	default:
		return fmt.Errorf("must be one of create|delete|start|stop|restart|state, got %q", v)
	}
}

var _ pflag.Value = (*serviceAction)(nil)

var (
	serviceActionFlag  serviceAction
	serviceAccount     string
	servicePassword    string
	serviceStartupMode string
	serviceDescription string
)

// newServiceCommand declares the service-control surface of spec.md
// §6. It is specified because the core is linked into binaries that
// expose it, not because this module implements Windows service
// control manager integration (explicitly out of scope) - on every
// platform, windows included, it returns an error instead of silently
// no-opping.
func newServiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Create, control, or query the Windows service registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serviceActionFlag == "" {
				return vsmerr.New(vsmerr.InvalidParam, "--service requires one of create|delete|start|stop|restart|state")
			}
			if runtime.GOOS != "windows" {
				return vsmerr.Newf(vsmerr.Internal, "service control (%s) is only supported on windows", serviceActionFlag)
			}
			// Actual service control manager integration is outside the
			// core per spec.md's non-goals; a windows build would wire
			// golang.org/x/sys/windows/svc here.
			return vsmerr.New(vsmerr.Internal, "windows service control is not implemented in this build")
		},
	}

	cmd.Flags().VarP(&serviceActionFlag, "service", "s", "service action: create|delete|start|stop|restart|state")
	cmd.Flags().StringVar(&serviceAccount, "service-account", "", "account the service runs as")
	cmd.Flags().StringVar(&servicePassword, "service-password", "", "password for --service-account")
	cmd.Flags().StringVar(&serviceStartupMode, "service-startup-mode", "manual", "service startup mode: manual|auto")
	cmd.Flags().StringVar(&serviceDescription, "service-description", "", "service description text")
	return cmd
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/ugcs/vsm-go/internal/vsmlog"
)

var (
	configPath string
	verbose    bool

	logger *vsmlog.Logger
)

// newRootCommand builds the vsmservice command tree: the "run" command
// that actually boots the core, and the "service" command that
// specifies the Windows service-wrapper surface, per spec.md §6.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "vsmservice",
		Short: "Runs a Vehicle Specific Module core service",
		Long: `vsmservice links the VSM core packages (transport detection,
UCS multiplexing, service discovery) into a runnable process and exposes
the command-line/service-wrapper surface used to install and control it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := vsmlog.LevelInfo
			if verbose {
				level = vsmlog.LevelDebug
			}
			logger = vsmlog.New(cmd.ErrOrStderr(), level)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the .properties configuration file")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	root.AddCommand(newRunCommand())
	root.AddCommand(newServiceCommand())
	return root
}

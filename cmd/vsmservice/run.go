package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ugcs/vsm-go/detector"
	"github.com/ugcs/vsm-go/discovery"
	"github.com/ugcs/vsm-go/fileproc"
	"github.com/ugcs/vsm-go/internal/vsmerr"
	"github.com/ugcs/vsm-go/properties"
	"github.com/ugcs/vsm-go/reactor"
	"github.com/ugcs/vsm-go/shareddata"
	"github.com/ugcs/vsm-go/ucs"
)

var runtimeDir string

// newRunCommand wires the core packages together the way a VSM
// binary's startup code does: load --config, stand up the socket/file
// processors, the transport detector, the UCS multiplexer and service
// discovery, enable them against the loaded configuration, and block
// until a termination signal arrives.
func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the VSM core service in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return vsmerr.New(vsmerr.InvalidParam, "--config is required")
			}
			return runForeground(configPath, runtimeDir)
		},
	}
	cmd.Flags().StringVar(&runtimeDir, "runtime-dir", os.TempDir(), "directory holding the serial-port arbiter's shared state")
	return cmd
}

func runForeground(configPath, runtimeDir string) error {
	props, err := properties.LoadFile(configPath)
	if err != nil {
		return vsmerr.Wrap(vsmerr.Parse, "load configuration", err)
	}

	sockets := reactor.NewProcessor(logger)
	files := fileproc.NewProcessor()

	det := detector.New(sockets, files, logger)
	det.SetArbiter(shareddata.NewArbiterFunc(filepath.Clean(runtimeDir)))
	det.Enable()
	defer det.Disable()

	cucs := ucs.New(det, ucs.Config{}, logger)
	if err := cucs.Enable("ucs", props); err != nil {
		return vsmerr.Wrap(vsmerr.Internal, "enable ucs", err)
	}
	defer cucs.Disable()

	disc := discovery.New(sockets, logger)
	disc.Enable()
	defer disc.Disable()

	if props.Exists("discovery.type") {
		svcType, _ := props.Get("discovery.type")
		name, _ := props.Get("discovery.name")
		location, _ := props.Get("discovery.location")
		disc.Advertise(svcType, name, location)
		defer disc.Unadvertise(svcType, name, location)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	return nil
}

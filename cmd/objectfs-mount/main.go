// Command objectfs-mount mounts a remote-mirrored filesystem at a local
// mount point. Flags mirror spec.md §6's five recognized remote options plus
// --config; a flag set explicitly on the command line overrides whatever the
// loaded configuration file carries for the same option.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/objectfs/objectfs/internal/adapter"
	"github.com/objectfs/objectfs/internal/config"
	"github.com/objectfs/objectfs/pkg/memmon"
	"github.com/objectfs/objectfs/pkg/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		storageURI string
		username   string
		password   string
		server     string
		appID      string
		apiKey     string
		memMonitor bool
	)

	cmd := &cobra.Command{
		Use:   "objectfs-mount <mount-point>",
		Short: "Mount a revision-mirrored remote filesystem over FUSE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mountPoint := args[0]

			cfg := config.NewDefault()
			if configPath != "" {
				if err := cfg.LoadFromFile(configPath); err != nil {
					return fmt.Errorf("loading config file: %w", err)
				}
			}
			if err := cfg.LoadFromEnv(); err != nil {
				return fmt.Errorf("loading environment overrides: %w", err)
			}

			flags := cmd.Flags()
			if flags.Changed("username") {
				cfg.Remote.Username = username
			}
			if flags.Changed("password") {
				cfg.Remote.Password = password
			}
			if flags.Changed("server") {
				cfg.Remote.Server = server
			}
			if flags.Changed("app-id") {
				cfg.Remote.AppID = appID
			}
			if flags.Changed("api-key") {
				cfg.Remote.APIKey = apiKey
			}
			cfg.Remote.ConfigFile = configPath

			ctx := context.Background()

			if memMonitor {
				utils.EnableRuntimeProfiling()
				defer utils.DisableRuntimeProfiling()

				mon := memmon.NewMemoryMonitor(memmon.DefaultMonitorConfig())
				if err := mon.Start(ctx); err != nil {
					return fmt.Errorf("starting memory monitor: %w", err)
				}
				defer mon.Stop()
			}

			a, err := adapter.New(ctx, storageURI, mountPoint, cfg)
			if err != nil {
				return fmt.Errorf("creating adapter: %w", err)
			}
			return a.Start(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML configuration file")
	flags.StringVar(&storageURI, "storage-uri", "", "s3:// URI naming the bucket backing the mirror (required)")
	flags.StringVar(&username, "username", "", "remote account username")
	flags.StringVar(&password, "password", "", "remote account password")
	flags.StringVar(&server, "server", "", "remote API server (default \"www.mediafire.com\")")
	flags.StringVar(&appID, "app-id", "", "remote application id")
	flags.StringVar(&apiKey, "api-key", "", "remote API key")
	flags.BoolVar(&memMonitor, "memmon", false, "enable runtime memory monitoring and block/mutex profiling")
	_ = cmd.MarkFlagRequired("storage-uri")

	return cmd
}

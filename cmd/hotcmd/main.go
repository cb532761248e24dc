// Command hotcmd runs the command dispatcher daemon and talks to it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alucardeht/hotcmd/internal/config"
)

var version = "0.1.0-dev"

type globalFlags struct {
	configPath string
	socketPath string
	rootDir    string
}

func main() {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "hotcmd",
		Short:         "Hot-reloading command dispatcher",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", os.Getenv("HOTCMD_CONFIG"), "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.socketPath, "socket", "", "daemon socket path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flags.rootDir, "root", "", "command module directory (overrides config)")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newCallCmd(flags),
		newStatsCmd(flags),
		newListCmd(flags),
		newReloadCmd(flags),
		newStatusCmd(flags),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.socketPath != "" {
		cfg.SocketPath = f.socketPath
	}
	if f.rootDir != "" {
		cfg.RootDir = f.rootDir
	}
	return cfg, nil
}

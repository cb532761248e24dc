package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alucardeht/hotcmd/internal/daemon"
	"github.com/alucardeht/hotcmd/internal/dispatch"
	"github.com/alucardeht/hotcmd/pkg/protocol"
)

func connect(ctx context.Context, flags *globalFlags, onReply daemon.ReplyHandler) (*daemon.Client, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}
	return daemon.Dial(ctx, cfg.SocketPath, onReply)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCallCmd(flags *globalFlags) *cobra.Command {
	var (
		params protocol.DispatchParams
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "call <command> [args...]",
		Short: "Dispatch one invocation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Command = args[0]
			params.Args = args[1:]

			client, err := connect(cmd.Context(), flags, func(n protocol.ReplyNotification) {
				if !asJSON {
					fmt.Println(n.Text)
				}
			})
			if err != nil {
				return err
			}
			defer client.Close()

			out, err := client.Dispatch(cmd.Context(), params)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out)
			}
			if out.Status != dispatch.StatusSucceeded {
				return fmt.Errorf("%s: %s", out.Status, out.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&params.Invoker, "invoker", os.Getenv("USER"), "invoker id")
	cmd.Flags().StringSliceVar(&params.Contexts, "context", nil, "context ids")
	cmd.Flags().StringSliceVar(&params.InvokerCapabilities, "cap", nil, "capabilities held by the invoker")
	cmd.Flags().StringSliceVar(&params.HostCapabilities, "host-cap", nil, "capabilities held by the host (defaults to the daemon's)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

func newStatsCmd(flags *globalFlags) *cobra.Command {
	var (
		persisted bool
		since     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			if persisted {
				var from time.Time
				if since > 0 {
					from = time.Now().Add(-since)
				}
				stats, err := client.PersistedStats(cmd.Context(), from)
				if err != nil {
					return err
				}
				return printJSON(stats)
			}

			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
	cmd.Flags().BoolVar(&persisted, "persisted", false, "aggregate the usage database instead of recent history")
	cmd.Flags().DurationVar(&since, "since", 0, "with --persisted, only count records newer than this")
	return cmd
}

func newListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			list, err := client.Commands(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tALIASES\tCOOLDOWN\tKIND\tSOURCE")
			for _, info := range list {
				fmt.Fprintf(w, "%s\t%s\t%gs\t%s\t%s\n",
					info.Name, strings.Join(info.Aliases, ","), info.CooldownSeconds, info.Kind, info.SourcePath)
			}
			return w.Flush()
		},
	}
}

func newReloadCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reload <path>",
		Short: "Reload one command module now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			info, err := client.Reload(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("reloaded %s from %s\n", info.Name, info.SourcePath)
			return nil
		},
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			lifecycle := daemon.NewLifecycleManager(filepath.Dir(cfg.SocketPath), cfg.SocketPath)
			if !lifecycle.Running() {
				return fmt.Errorf("daemon not running on %s", cfg.SocketPath)
			}

			client, err := daemon.Dial(cmd.Context(), cfg.SocketPath, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			h, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(h)
		},
	}
}

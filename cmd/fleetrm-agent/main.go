package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/fleetrm/internal/agent"
	"github.com/3cpo-dev/fleetrm/internal/purge"
	"github.com/3cpo-dev/fleetrm/internal/telemetry"
)

var (
	version   = "1.0.0"
	commit    = ""
	buildDate = "6/2/2025"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleetrm-agent",
		Short: "Host-side agent for fleetrm",
		Long:  "fleetrm-agent deletes paths on its own host, either as a resident HTTP service or as a one-shot command invoked over SSH.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringP("log", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		levelStr, _ := c.Flags().GetString("log")
		switch levelStr {
		case "trace":
			zerolog.SetGlobalLevel(zerolog.TraceLevel)
		case "debug":
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		case "warn":
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		case "error":
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		default:
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPurgeCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Serve the agent HTTP endpoints until SIGINT/SIGTERM
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the resident agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			telemetry.InitGlobal(true)
			defer telemetry.Shutdown()

			srv := &agent.Server{Version: version}
			mtls := agent.LoadMTLSConfig()

			errc := make(chan error, 1)
			go func() {
				if mtls.Enabled() {
					errc <- srv.ListenAndServeTLS(addr, mtls)
					return
				}
				errc <- srv.ListenAndServe(addr)
			}()
			log.Info().Str("addr", addr).Bool("tls", mtls.Enabled()).Msg("fleetrm-agent listening")

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errc:
				return err
			case <-sigc:
			}
			log.Info().Msg("fleetrm-agent shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().String("addr", ":8088", "listen address")
	return cmd
}

// One-shot purge, invoked over SSH. Prints the result array as JSON on
// stdout and exits 0 regardless of per-path outcomes: failures are data.
func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge --host <name> -- <path>...",
		Short: "Delete the given paths on this host and print JSON results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, _ := cmd.Flags().GetString("host")
			results := purge.NewExecutor(host).Run(args)
			return json.NewEncoder(os.Stdout).Encode(results)
		},
	}
	cmd.Flags().String("host", "", "host identity to stamp on results (defaults to the hostname)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fleetrm-agent %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

func main() {
	// The daemon logs structured JSON; stdout stays reserved for the one-shot
	// purge output.
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(os.Stderr)
	root := newRootCmd()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/fleetrm/internal/config"
	"github.com/3cpo-dev/fleetrm/internal/core"
	"github.com/3cpo-dev/fleetrm/internal/deploy"
	"github.com/3cpo-dev/fleetrm/internal/inventory"
	"github.com/3cpo-dev/fleetrm/internal/notify"
	"github.com/3cpo-dev/fleetrm/internal/purge"
	"github.com/3cpo-dev/fleetrm/internal/remote"
	"github.com/3cpo-dev/fleetrm/internal/report"
	sshc "github.com/3cpo-dev/fleetrm/internal/ssh"
	"github.com/3cpo-dev/fleetrm/internal/store"
	"github.com/3cpo-dev/fleetrm/internal/telemetry"
	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// Load configuration from the --config flag
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return config.Load(cfgPath)
}

// Resolve the transport registry and pick the active transport
func resolveTransport(cmd *cobra.Command, cfg config.Config) (remote.Invoker, error) {
	name, _ := cmd.Flags().GetString("transport")
	if name == "" {
		name = cfg.Transport
	}

	reg := remote.NewRegistry()
	reg.Register(remote.NewLocal())
	reg.Register(&remote.AgentHTTP{
		Port:   cfg.Agent.Port,
		Token:  cfg.Agent.Token,
		Scheme: cfg.Agent.Scheme,
	})
	if name == "ssh" {
		signer, err := sshc.LoadPrivateKeySigner(filepath.Join(cfg.SSH.KeyDir, "id_ed25519"))
		if err != nil {
			return nil, fmt.Errorf("load ssh key (run fleetrm init first): %w", err)
		}
		kh, err := sshc.LoadKnownHostsCallback(cfg.SSH.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		reg.Register(&remote.SSH{
			User:       cfg.SSH.User,
			Port:       cfg.SSH.Port,
			AgentPath:  cfg.SSH.AgentPath,
			Signer:     signer,
			KnownHosts: kh,
			Timeout:    time.Duration(cfg.SSH.TimeoutSeconds) * time.Second,
		})
	}
	return reg.Get(name)
}

func mailerFromConfig(cfg config.Config) *notify.Mailer {
	if !cfg.Notify.Enabled {
		return nil
	}
	return &notify.Mailer{
		Host:     cfg.Notify.SMTPHost,
		Port:     cfg.Notify.SMTPPort,
		Username: cfg.Notify.Username,
		Password: cfg.Notify.Password,
		From:     cfg.Notify.From,
		To:       cfg.Notify.To,
	}
}

// Purge the inventory across the fleet
func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete the inventory's paths on their hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			invPath, _ := cmd.Flags().GetString("inventory")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			telemetry.InitGlobal(cfg.Telemetry.Enabled)
			defer telemetry.Shutdown()

			items, err := inventory.Load(invPath)
			if err != nil {
				return err
			}
			transport, err := resolveTransport(cmd, cfg)
			if err != nil {
				return err
			}

			runner := &core.Runner{
				Transport: transport,
				Mailer:    mailerFromConfig(cfg),
				ReportDir: cfg.Report.Dir,
			}
			st, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				log.Warn().Err(err).Msg("run history unavailable")
			} else {
				runner.Store = st
				defer st.Close()
			}

			outcome, runErr := runner.Run(cmd.Context(), items)

			if err := report.WriteTable(os.Stdout, outcome.Results); err != nil {
				return err
			}
			fmt.Printf("run %s %s: %s\n", outcome.RunID, outcome.Status, report.FormatSummary(outcome.Summary))
			if outcome.ReportPath != "" {
				fmt.Printf("report: %s\n", outcome.ReportPath)
			}

			if runErr != nil {
				return runErr
			}
			if outcome.Status != api.RunSucceeded {
				return fmt.Errorf("run %s finished %s", outcome.RunID, outcome.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringP("inventory", "i", "", "inventory file (.csv, .yaml)")
	cmd.Flags().String("transport", "", "transport override: ssh, agent or local")
	_ = cmd.MarkFlagRequired("inventory")
	return cmd
}

// Check reachability of the inventory's hosts
func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every host in the inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			invPath, _ := cmd.Flags().GetString("inventory")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			items, err := inventory.Load(invPath)
			if err != nil {
				return err
			}
			transport, err := resolveTransport(cmd, cfg)
			if err != nil {
				return err
			}

			batches := purge.GroupByHost(items)
			hosts := make([]string, len(batches))
			for i, b := range batches {
				hosts[i] = b.Host
			}

			statuses := core.CheckHosts(cmd.Context(), transport, hosts)
			unreachable := 0
			for _, s := range statuses {
				if s.Err != nil {
					unreachable++
					fmt.Printf("%s\tunreachable\t%v\n", s.Host, s.Err)
					continue
				}
				fmt.Printf("%s\tok\n", s.Host)
			}
			if unreachable > 0 {
				return fmt.Errorf("%d of %d hosts unreachable", unreachable, len(hosts))
			}
			return nil
		},
	}
	cmd.Flags().StringP("inventory", "i", "", "inventory file (.csv, .yaml)")
	cmd.Flags().String("transport", "", "transport override: ssh, agent or local")
	_ = cmd.MarkFlagRequired("inventory")
	return cmd
}

// Deploy the agent binary to hosts
func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Push the fleetrm-agent binary to hosts over SSH",
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, _ := cmd.Flags().GetString("bin")
			hosts, _ := cmd.Flags().GetStringSlice("hosts")
			dest, _ := cmd.Flags().GetString("dest")
			install, _ := cmd.Flags().GetBool("install")
			agentUser, _ := cmd.Flags().GetString("agent-user")
			wait, _ := cmd.Flags().GetBool("wait")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			telemetry.InitGlobal(cfg.Telemetry.Enabled)
			defer telemetry.Shutdown()

			if dest == "" {
				dest = cfg.SSH.AgentPath
			}
			signer, err := sshc.LoadPrivateKeySigner(filepath.Join(cfg.SSH.KeyDir, "id_ed25519"))
			if err != nil {
				return fmt.Errorf("load ssh key (run fleetrm init first): %w", err)
			}
			kh, err := sshc.LoadKnownHostsCallback(cfg.SSH.KnownHosts)
			if err != nil {
				return fmt.Errorf("load known hosts: %w", err)
			}
			d := &deploy.Deployer{
				User:       cfg.SSH.User,
				Port:       cfg.SSH.Port,
				Signer:     signer,
				KnownHosts: kh,
				Timeout:    time.Duration(cfg.SSH.TimeoutSeconds) * time.Second,
			}

			failed := 0
			for _, host := range hosts {
				log.Info().Str("host", host).Str("dest", dest).Msg("deploying agent")
				if err := d.PushBinary(cmd.Context(), host, bin, dest); err != nil {
					log.Error().Err(err).Str("host", host).Msg("deploy failed")
					failed++
					continue
				}
				if install {
					opts := deploy.UnitOptions{
						BinPath: dest,
						User:    agentUser,
						Port:    cfg.Agent.Port,
						Token:   cfg.Agent.Token,
					}
					if err := d.InstallUnit(cmd.Context(), host, opts); err != nil {
						log.Error().Err(err).Str("host", host).Msg("install failed")
						failed++
						continue
					}
				}
				if wait {
					probe := &remote.AgentHTTP{Port: cfg.Agent.Port, Token: cfg.Agent.Token, Scheme: cfg.Agent.Scheme}
					if err := remote.WaitReady(cmd.Context(), probe, host, 60*time.Second); err != nil {
						log.Error().Err(err).Str("host", host).Msg("agent never came up")
						failed++
						continue
					}
				}
				fmt.Printf("deployed %s to %s\n", dest, host)
			}
			if failed > 0 {
				return fmt.Errorf("deploy failed on %d of %d hosts", failed, len(hosts))
			}
			return nil
		},
	}
	cmd.Flags().String("bin", "", "local path of the fleetrm-agent binary")
	cmd.Flags().StringSlice("hosts", nil, "hosts to deploy to")
	cmd.Flags().String("dest", "", "remote path (defaults to ssh.agent_path)")
	cmd.Flags().Bool("install", false, "install and start a systemd unit")
	cmd.Flags().String("agent-user", "root", "user the systemd unit runs as")
	cmd.Flags().Bool("wait", false, "wait for the agent heartbeat after install")
	_ = cmd.MarkFlagRequired("bin")
	_ = cmd.MarkFlagRequired("hosts")
	return cmd
}

// List past runs
func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past purge runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				id := r.ID
				if len(id) > 8 {
					id = id[:8]
				}
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n",
					id, r.StartedAt.Format(time.RFC3339), r.Status, r.Transport,
					report.FormatSummary(r.Summary))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of runs to list (0 for all)")
	return cmd
}

// Show a stored run
func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Show a stored run (a unique id prefix works)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			html, _ := cmd.Flags().GetBool("html")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			run, results, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := report.WriteTable(os.Stdout, results); err != nil {
				return err
			}
			fmt.Printf("run %s %s: %s\n", run.ID, run.Status, report.FormatSummary(run.Summary))

			if html {
				meta := report.Meta{
					RunID:     run.ID,
					Status:    run.Status,
					Transport: run.Transport,
					Started:   run.StartedAt,
					Finished:  run.FinishedAt,
				}
				path, err := report.WriteHTML(cfg.Report.Dir, meta, run.Summary, results)
				if err != nil {
					return err
				}
				fmt.Printf("report: %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().Bool("html", false, "re-render the HTML report")
	return cmd
}

// Initialize configuration and SSH material
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "fleetrm initialization command. Run this the first time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				cfgPath = config.DefaultPath()
			}
			if _, err := os.Stat(cfgPath); err == nil {
				fmt.Printf("config exists: %s\n", cfgPath)
			} else {
				if err := config.WriteDefault(cfgPath); err != nil {
					return err
				}
				fmt.Printf("wrote config: %s\n", cfgPath)
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			keyPath := filepath.Join(cfg.SSH.KeyDir, "id_ed25519")
			if _, err := os.Stat(keyPath); err == nil {
				fmt.Printf("ssh key exists: %s\n", keyPath)
			} else {
				pub, err := sshc.GenerateEd25519Keypair(keyPath)
				if err != nil {
					return err
				}
				fmt.Printf("wrote ssh key: %s\n", keyPath)
				fmt.Printf("authorize this key on your hosts:\n%s", pub)
			}
			if err := sshc.EnsureKnownHostsFile(cfg.SSH.KnownHosts); err != nil {
				return err
			}
			fmt.Printf("known hosts file: %s\n", cfg.SSH.KnownHosts)
			return nil
		},
	}
}

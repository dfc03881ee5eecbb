// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for Keywarden using the Cobra
// library: the root command, the audit/fix/history/backup/restore
// subcommands, and the wiring between configuration, the credential
// broker, and the audit pipeline.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/keywarden/internal/audit"
	"github.com/toeirei/keywarden/internal/config"
	"github.com/toeirei/keywarden/internal/credentials"
	"github.com/toeirei/keywarden/internal/db"
	"github.com/toeirei/keywarden/internal/deploy"
	"github.com/toeirei/keywarden/internal/i18n"
	"github.com/toeirei/keywarden/internal/logging"
	"github.com/toeirei/keywarden/internal/policy"
	"github.com/toeirei/keywarden/internal/remediation"
	"github.com/toeirei/keywarden/internal/report"
	"github.com/toeirei/keywarden/internal/state"
	"golang.org/x/term"
)

var version = "dev" // set by the linker

var (
	cfgFile string
	cfg     config.Config
	store   *db.Store
)

// main is the entry point of the application.
func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already printed the error.
		os.Exit(1)
	}
}

var rootCmd *cobra.Command

func init() {
	rootCmd = newRootCmd()
}

// newRootCmd creates and configures the root cobra command. Tests create
// fresh instances for isolated runs.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywarden",
		Short: "Keywarden audits and reconciles authorized_keys across a fleet.",
		Long: `Keywarden compares a declarative access policy against the live
authorized_keys files of every managed account on every managed host.
'audit' reports matched, missing and unauthorized keys; 'fix' rewrites
the remote files so that only policy-declared keys remain.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cmd, cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			i18n.Init(cfg.Language)
			logging.SetDebug(cfg.Debug)

			store, err = db.Open(cfg.Database.Type, cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf(i18n.T("config.error_open_db"), err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if store != nil {
				_ = store.Close()
			}
		},
	}

	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newFixCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newRestoreCmd())

	cmd.Version = version

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is keywarden.yaml in the user config dir or current dir)")
	cmd.PersistentFlags().String("policy", "", "path to the access policy file")
	cmd.PersistentFlags().String("identity-file", "", "private key used for key-based auth on all hosts")
	cmd.PersistentFlags().String("known-hosts", "", "known_hosts file for strict host key checking")
	cmd.PersistentFlags().String("credentials-file", "", "YAML file seeding the password cache (account@host: password)")
	cmd.PersistentFlags().Int("connect-timeout", 10, "SSH connect timeout in seconds")
	cmd.PersistentFlags().String("db-type", "sqlite", "run-history database type (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("db-dsn", "./keywarden.db", "run-history database DSN")
	cmd.PersistentFlags().String("lang", "en", `output language ("en", "de")`)
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().Bool("ask-passphrase", false, "prompt for the identity file passphrase before connecting")

	// Viper keys differ from flag names where the config file uses
	// snake_case; config.Load binds the full flag set.
	return cmd
}

// pipeline bundles everything an audit or fix run needs.
type pipeline struct {
	policy   *policy.Policy
	broker   *credentials.Broker
	settings deploy.ConnectionConfig
	reporter report.Reporter
	cancel   context.CancelFunc
	ctx      context.Context
}

// newPipeline loads the policy and credential seed, starts the broker and
// installs the interrupt handler. Callers must call close().
func newPipeline(cmd *cobra.Command) (*pipeline, error) {
	if cfg.PolicyFile == "" {
		return nil, errors.New(i18n.T("audit.error_no_policy"))
	}
	pol, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	seed, err := config.LoadCredentialSeed(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}

	if askPass, _ := cmd.Flags().GetBool("ask-passphrase"); askPass {
		if err := promptPassphrase(); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	broker := credentials.NewBroker(seed, credentials.NewTerminalPrompter())
	remediation.InstallSignalHandler(func() {
		// Stop issuing new prompts first, then cancel in-flight work.
		broker.Close()
		cancel()
	})

	return &pipeline{
		policy: pol,
		broker: broker,
		settings: deploy.ConnectionConfig{
			IdentityFile:   cfg.IdentityFile,
			KnownHostsFile: cfg.KnownHostsFile,
			Timeout:        time.Duration(cfg.ConnectTimeoutSeconds) * time.Second,
		},
		reporter: report.NewConsole(os.Stdout),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (p *pipeline) close() {
	p.broker.Close()
	p.cancel()
	state.PassphraseCache.Clear()
}

// runAudit executes the fetch and classification phases.
func (p *pipeline) runAudit() *audit.Report {
	fetcher := &audit.SSHFetcher{Config: p.settings, Broker: p.broker}
	return audit.Run(p.ctx, p.policy, fetcher, p.reporter)
}

// saveRun records a completed run in the history store.
func saveRun(ctx context.Context, mode string, rep *audit.Report, remediationErrors int) {
	matched, missing, unauthorized := rep.Counts()
	run := &db.RunRecord{
		Mode:              mode,
		Matched:           matched,
		Missing:           missing,
		Unauthorized:      unauthorized,
		FetchErrors:       len(rep.FetchErrors),
		RemediationErrors: remediationErrors,
	}
	if _, err := store.SaveRun(ctx, run, rep.Results); err != nil {
		logging.Warnf("failed to record run: %v", err)
	}
}

// newAuditCmd builds the 'audit' command: fetch, classify and report, no
// remote writes.
func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Audit the fleet against the access policy",
		Long: `Fetches the authorized_keys file of every managed account, compares it
against the policy, and reports every key as MATCHED, MISSING or
UNAUTHORIZED. Makes no changes on any host.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline(cmd)
			if err != nil {
				return err
			}
			defer p.close()

			rep := p.runAudit()
			p.reporter.Summary(rep.Results, rep.FetchErrors)

			saveRun(cmd.Context(), "audit", rep, 0)
			_ = store.LogAction(cmd.Context(), "CLI_AUDIT",
				fmt.Sprintf("targets: %d, results: %d, fetch errors: %d",
					len(p.policy.Universe()), len(rep.Results), len(rep.FetchErrors)))

			matched, missing, unauthorized := rep.Counts()
			fmt.Println()
			fmt.Println(i18n.T("audit.summary", matched, missing, unauthorized, len(rep.FetchErrors)))
			return nil
		},
	}
}

// newFixCmd builds the 'fix' command: audit, then rewrite every planned
// target so only policy-declared keys remain, gated by a confirmation.
func newFixCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fix",
		Short: "Rewrite remote authorized_keys files to match the policy",
		Long: `Runs a full audit, then replaces the authorized_keys file of every
audited account with the policy-declared content. Keys present remotely
but absent from the policy are revoked. Asks for confirmation before
writing unless --yes is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline(cmd)
			if err != nil {
				return err
			}
			defer p.close()

			rep := p.runAudit()
			p.reporter.Summary(rep.Results, rep.FetchErrors)

			plans := remediation.BuildPlans(rep.Results)
			if len(plans) == 0 {
				fmt.Println(i18n.T("fix.nothing_to_do"))
				saveRun(cmd.Context(), "fix", rep, 0)
				return nil
			}

			assumeYes, _ := cmd.Flags().GetBool("yes")
			if !assumeYes {
				answer := promptForConfirmation(i18n.T("fix.confirm_prompt", len(plans)))
				if answer != "yes" && answer != "y" {
					fmt.Println(i18n.T("fix.aborted"))
					return nil
				}
			}

			uploader := &remediation.SSHUploader{Config: p.settings, Broker: p.broker}
			errs := remediation.Apply(p.ctx, plans, uploader, p.reporter)

			saveRun(cmd.Context(), "fix", rep, len(errs))
			_ = store.LogAction(cmd.Context(), "CLI_FIX",
				fmt.Sprintf("plans: %d, upload errors: %d", len(plans), len(errs)))

			if len(errs) > 0 {
				fmt.Println()
				fmt.Println(i18n.T("fix.completed_with_errors", len(plans)-len(errs), len(errs)))
				return nil
			}
			fmt.Println()
			fmt.Println(i18n.T("fix.completed", len(plans)))
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	return cmd
}

// newHistoryCmd builds the 'history' command listing recent runs.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent audit and fix runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf(i18n.T("history.error_list"), err)
			}
			if len(runs) == 0 {
				fmt.Println(i18n.T("history.empty"))
				return nil
			}
			fmt.Println(i18n.T("history.header"))
			for _, r := range runs {
				fmt.Printf("%6d  %s  %-5s  %s\n",
					r.ID,
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Mode,
					i18n.T("history.row", r.Matched, r.Missing, r.Unauthorized, r.FetchErrors, r.RemediationErrors))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of runs to list")
	return cmd
}

// newBackupCmd builds the 'backup' command writing a compressed dump of
// the run-history store.
func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <file>",
		Short: "Write a compressed backup of the run history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := store.Export(cmd.Context())
			if err != nil {
				return fmt.Errorf(i18n.T("backup.error_export"), err)
			}
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf(i18n.T("backup.error_create"), err)
			}
			defer f.Close()
			if err := db.WriteBackup(data, f); err != nil {
				return err
			}
			fmt.Println(i18n.T("backup.done", args[0]))
			return nil
		},
	}
}

// newRestoreCmd builds the 'restore' command importing a backup file.
func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore run history from a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf(i18n.T("restore.error_open"), err)
			}
			defer f.Close()
			data, err := db.ReadBackup(f)
			if err != nil {
				return err
			}
			if err := store.Import(cmd.Context(), data); err != nil {
				return fmt.Errorf(i18n.T("restore.error_import"), err)
			}
			fmt.Println(i18n.T("restore.done", len(data.Runs)))
			return nil
		},
	}
}

// promptPassphrase reads the identity file passphrase without echo and
// stores it in the passphrase mailbox for the transport workers.
func promptPassphrase() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New(i18n.T("prompt.error_not_a_terminal"))
	}
	fmt.Print(i18n.T("prompt.passphrase"))
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		log.Fatalf("%s", i18n.T("prompt.error_read_passphrase", err))
	}
	state.PassphraseCache.Set(passphrase)
	for i := range passphrase {
		passphrase[i] = 0
	}
	return nil
}

// promptForConfirmation displays a prompt and reads one line from stdin.
func promptForConfirmation(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}

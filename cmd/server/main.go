package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dennisdiepolder/monti/contactcore/internal/config"
	"github.com/dennisdiepolder/monti/contactcore/internal/rules"
	"github.com/dennisdiepolder/monti/contactcore/internal/storage"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "contactcore",
		Short:         "Contact center routing and outbound dialer core",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newValidateCmd(), newSeedCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the routing engine, dialer and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <ruleset.yaml>",
		Short: "Check a ruleset file and list quarantined records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateRuleset(cmd, args[0])
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <ruleset.yaml>",
		Short: "Write a ruleset file into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return seedRuleset(cmd.Context(), args[0])
		},
	}
}

func validateRuleset(cmd *cobra.Command, path string) error {
	set, report, err := rules.LoadFile(path)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		return err
	}

	out := cmd.OutOrStdout()
	for _, w := range report.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	for _, q := range report.Quarantined {
		fmt.Fprintf(out, "quarantined: %s\n", q)
	}
	fmt.Fprintf(out, "%d queues, %d routing rules, %d priority rules, %d menus, %d campaigns\n",
		len(set.Queues), len(set.RoutingRules), len(set.PriorityRules), len(set.Menus), len(set.Campaigns))

	if err := report.Err(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		return err
	}
	return nil
}

func seedRuleset(ctx context.Context, path string) error {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}
	setLogLevel(cfg.LogLevel)

	set, report, err := rules.LoadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to load ruleset")
		return err
	}
	for _, q := range report.Quarantined {
		log.Warn().Str("kind", q.Kind).Str("id", q.ID).Str("reason", q.Reason).Msg("record quarantined, not seeded")
	}

	scfg := storage.LoadConfig()
	if scfg.Backend == storage.BackendMemory {
		log.Warn().Msg("seeding the in-memory store has no lasting effect, set STORE_BACKEND")
	}
	store, retrying, err := storage.Open(ctx, scfg, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer store.Close()

	if err := store.SaveRuleSet(ctx, set); err != nil {
		log.Warn().Err(err).Msg("ruleset write queued for retry")
	}
	if n := retrying.Flush(ctx); n > 0 {
		err := fmt.Errorf("%d writes not persisted", n)
		log.Error().Err(err).Msg("seeding incomplete")
		return err
	}

	log.Info().
		Int("queues", len(set.Queues)).
		Int("routing_rules", len(set.RoutingRules)).
		Int("campaigns", len(set.Campaigns)).
		Msg("ruleset seeded")
	return nil
}

func setLogLevel(name string) {
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		log.Warn().Str("level", name).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

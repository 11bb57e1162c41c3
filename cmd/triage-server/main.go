package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ertriage/ertriage/internal/config"
	"github.com/ertriage/ertriage/internal/domain/emergency"
	"github.com/ertriage/ertriage/internal/domain/triage"
	"github.com/ertriage/ertriage/internal/platform/db"
	"github.com/ertriage/ertriage/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "triage-server",
		Short:        "Emergency department triage tracker",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(classifyCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(out)
	}
	return logger.Level(cfg.Level()).With().Timestamp().Str("service", "triage-server").Logger()
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)
			ctx := context.Background()

			if cfg.DatabaseDriver != db.DriverPostgres {
				gdb, err := db.OpenGorm(cfg.DatabaseDriver, cfg.DatabaseURL, int(cfg.DBMaxConns), logger)
				if err != nil {
					return err
				}
				defer closeGorm(gdb)
				if err := emergency.NewRepoGorm(gdb).AutoMigrate(ctx); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema for %s is up to date.\n", cfg.DatabaseDriver)
				return nil
			}

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseDriver != db.DriverPostgres {
				return fmt.Errorf("migration status is only tracked for %s; %s uses gorm AutoMigrate",
					db.DriverPostgres, cfg.DatabaseDriver)
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, newLogger(cfg, os.Stderr))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// classifyCmd runs the configured scorer over a JSON request read from
// --file or stdin. It needs no database.
func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a set of vital signs without admitting a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOffline(".env")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			file, _ := cmd.Flags().GetString("file")
			policy, rulesFile := cfg.TriagePolicy, cfg.TriageRulesFile
			if cmd.Flags().Changed("policy") {
				policy, _ = cmd.Flags().GetString("policy")
			}
			if cmd.Flags().Changed("rules") {
				rulesFile, _ = cmd.Flags().GetString("rules")
			}

			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open %s: %w", file, err)
				}
				defer f.Close()
				in = f
			}
			return runClassify(in, cmd.OutOrStdout(), policy, rulesFile)
		},
	}
	cmd.Flags().StringP("file", "f", "", "JSON file with vital signs (default: stdin)")
	cmd.Flags().String("policy", "", "Classification policy: rule_based or score_threshold (default: TRIAGE_POLICY)")
	cmd.Flags().String("rules", "", "YAML rule table overriding the built-in thresholds (default: TRIAGE_RULES_FILE)")
	return cmd
}

func runClassify(in io.Reader, out io.Writer, policyName, rulesFile string) error {
	scorer, err := newScorer(policyName, rulesFile)
	if err != nil {
		return err
	}

	var req emergency.ClassifyRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode classify request: %w", err)
	}

	res, err := emergency.NewService(nil, scorer).Preview(req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func newScorer(policyName, rulesFile string) (triage.Scorer, error) {
	policy, err := triage.ParsePolicy(policyName)
	if err != nil {
		return nil, err
	}
	rules, err := triage.LoadRules(rulesFile)
	if err != nil {
		return nil, fmt.Errorf("load triage rules: %w", err)
	}
	return triage.NewScorer(policy, rules)
}

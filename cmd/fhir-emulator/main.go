package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhir-emulator/internal/config"
	"github.com/ehr/fhir-emulator/internal/domain/resource"
	"github.com/ehr/fhir-emulator/internal/platform/db"
	"github.com/ehr/fhir-emulator/internal/platform/sandbox"
	"github.com/ehr/fhir-emulator/internal/platform/store"
	"github.com/ehr/fhir-emulator/internal/platform/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:          "fhir-emulator",
		Short:        "File-backed FHIR search emulator",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional env file")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadFile(envFile)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(queryCmd(load))
	rootCmd.AddCommand(dbCmd(load))
	rootCmd.AddCommand(seedCmd(load))
	return rootCmd
}

type configLoader func() (*config.Config, error)

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(out)
	}
	return logger.Level(cfg.Level()).With().Timestamp().Logger()
}

func serveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR emulator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg, os.Stdout))
		},
	}
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	src, err := buildSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	e := newServer(cfg, logger, src, telemetry.NewMetrics(version))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Str("base_path", cfg.BasePath).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func queryCmd(load configLoader) *cobra.Command {
	var (
		rawQuery string
		bodyFile string
		baseURL  string
	)

	cmd := &cobra.Command{
		Use:   "query <type> [id] [op]",
		Short: "Run one query against the configured store and print the JSON result",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			ctx := cmd.Context()
			src, err := buildSource(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer src.Close()

			req := resource.Request{
				ResourceType: args[0],
				Params:       resource.ParseParams(rawQuery),
				BaseURL:      baseURL + "/" + args[0],
			}
			if len(args) > 1 {
				req.ID = args[1]
				req.BaseURL += "/" + args[1]
			}
			if len(args) > 2 {
				req.Operation = args[2]
				req.BaseURL += "/" + args[2]
			}
			if bodyFile != "" {
				body, err := os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("read body: %w", err)
				}
				req.Body = body
			}

			res, err := resource.NewService(src).Search(ctx, req)
			if err != nil {
				return err
			}
			out, err := res.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&rawQuery, "params", "p", "", "Query string, e.g. \"gender=female&_count=5\"")
	cmd.Flags().StringVar(&bodyFile, "body", "", "File holding a Parameters request body")
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8000/fhir", "Base URL used in bundle links")
	return cmd
}

func dbCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the PostgreSQL record store",
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// db migrate up
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDB(load)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// db migrate status
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDB(load)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, db.Migrations()).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				state, applied := "pending", ""
				if s.Applied {
					state = "applied"
				}
				if s.AppliedAt != nil {
					applied = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, applied)
			}
			return nil
		},
	})
	cmd.AddCommand(migrateCmd)

	var dir string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Copy a files directory into the fhir_resources table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDB(load)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.FilesDir
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			stats, err := store.NewPostgres(pool, logger).Import(ctx, store.NewFile(dir, logger))
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	importCmd.Flags().StringVar(&dir, "dir", "", "Files directory to import (defaults to FILES_DIR)")
	cmd.AddCommand(importCmd)

	return cmd
}

func seedCmd(load configLoader) *cobra.Command {
	var dir string
	seedCfg := sandbox.DefaultSeedConfig()

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write synthetic Patient, Condition, Observation and Bundle records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := load()
				if err != nil {
					return err
				}
				dir = cfg.FilesDir
			}

			result, err := sandbox.NewSeeder(seedCfg).WriteFiles(dir)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Target files directory (defaults to FILES_DIR)")
	cmd.Flags().IntVar(&seedCfg.PatientCount, "patients", seedCfg.PatientCount, "Number of patients")
	cmd.Flags().IntVar(&seedCfg.ConditionsPerPatient, "conditions", seedCfg.ConditionsPerPatient, "Conditions per patient")
	cmd.Flags().IntVar(&seedCfg.ObservationsPerPatient, "observations", seedCfg.ObservationsPerPatient, "Observations per patient")
	cmd.Flags().IntVar(&seedCfg.BundleSize, "bundle-size", seedCfg.BundleSize, "Patients per collection Bundle (0 disables)")
	cmd.Flags().Int64Var(&seedCfg.Seed, "seed", 0, "Random seed (0 picks one from the clock)")
	return cmd
}

// loadDB loads the config and requires DATABASE_URL regardless of STORE.
func loadDB(load configLoader) (*config.Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

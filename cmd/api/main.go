package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"clinicflow/auth"
	"clinicflow/clinic"
	"clinicflow/config"
	"clinicflow/db"
	"clinicflow/engine"
	"clinicflow/httpapi"
	"clinicflow/memstore"
	"clinicflow/pgstore"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "clinicflow",
		Short:        "Clinic visit and order orchestration server",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tokenCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var w io.Writer = out
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(w).Level(cfg.Level()).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, newLogger(cfg, os.Stdout))
		},
	}
}

// backend is the store the engine runs on plus the health check that
// matches it.
type backend struct {
	store  clinic.Store
	health echo.HandlerFunc
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return backend{store: memstore.New(), close: func() {}}, nil
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return backend{}, err
		}
		return backend{store: pgstore.New(pool), health: db.HealthHandler(pool), close: pool.Close}, nil
	default:
		return backend{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	be, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer be.close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	tokens, err := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	authMW := auth.Middleware(tokens)
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: X-Actor-ID/X-Actor-Role headers are trusted")
		authMW = auth.DevMiddleware(tokens)
	}

	eng := engine.New(be.store, engine.WithLogger(logger))
	e := httpapi.NewServer(eng, logger).Handler(httpapi.Options{
		Auth:     authMW,
		Health:   be.health,
		Currency: cfg.Currency,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("currency", cfg.Currency).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
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

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, db.Migrations()).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tokenCmd() *cobra.Command {
	var (
		actor string
		role  string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an actor token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tokens, err := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)
			if err != nil {
				return err
			}
			r, err := clinic.ParseRole(strings.ToUpper(strings.TrimSpace(role)))
			if err != nil {
				return err
			}
			id := uuid.New()
			if actor != "" {
				if id, err = uuid.Parse(actor); err != nil {
					return fmt.Errorf("--actor: %w", err)
				}
			}
			issued, err := tokens.Issue(auth.TokenRequest{ActorID: id, Role: r, TTL: ttl})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), issued.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (random when empty)")
	cmd.Flags().StringVar(&role, "role", "", "staff role, e.g. NURSE")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (TOKEN_TTL when zero)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

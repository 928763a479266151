package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/nutrition/internal/config"
	"github.com/ehr/nutrition/internal/domain/clinicalrecord"
	"github.com/ehr/nutrition/internal/platform/auth"
	"github.com/ehr/nutrition/internal/platform/cache"
	"github.com/ehr/nutrition/internal/platform/db"
	"github.com/ehr/nutrition/internal/platform/logging"
	"github.com/ehr/nutrition/internal/platform/middleware"
	"github.com/ehr/nutrition/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nutrition-server",
		Short: "Evolutive clinical record API for nutrition practices",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(accessCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// loadConfig loads and validates configuration and opens the pool.
func loadConfig(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a practice schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, pool, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			schema := db.SchemaForTenant(tenant)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "default", "Practice identifier")
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status for a practice schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, pool, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			schema := db.SchemaForTenant(tenant)
			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "default", "Practice identifier")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage practices",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a practice schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			cfg, pool, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating practice schema: %s\n", db.SchemaForTenant(name))
			if err := db.CreateTenantSchema(ctx, pool, name, cfg.MigrationsDir); err != nil {
				return err
			}
			fmt.Println("Practice created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Practice identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func accessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Manage nutritionist to patient links",
	}

	run := func(grant bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			nutritionistID, err := uuid.Parse(flagString(cmd, "nutritionist"))
			if err != nil {
				return fmt.Errorf("invalid --nutritionist: %w", err)
			}
			patientID, err := uuid.Parse(flagString(cmd, "patient"))
			if err != nil {
				return fmt.Errorf("invalid --patient: %w", err)
			}

			ctx := context.Background()
			_, pool, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			conn, err := pool.Acquire(ctx)
			if err != nil {
				return fmt.Errorf("acquire connection: %w", err)
			}
			defer conn.Release()
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", db.SchemaForTenant(tenant))); err != nil {
				return fmt.Errorf("select practice: %w", err)
			}
			ctx = context.WithValue(ctx, db.DBConnKey, conn)

			links := auth.NewPatientAccessPG(pool)
			if grant {
				err = links.Link(ctx, nutritionistID, patientID)
			} else {
				err = links.Unlink(ctx, nutritionistID, patientID)
			}
			if err != nil {
				return err
			}
			fmt.Println("Done.")
			return nil
		}
	}

	for _, sub := range []*cobra.Command{
		{Use: "grant", Short: "Link a nutritionist to a patient", RunE: run(true)},
		{Use: "revoke", Short: "Remove a nutritionist's link to a patient", RunE: run(false)},
	} {
		sub.Flags().String("tenant", "default", "Practice identifier")
		sub.Flags().String("nutritionist", "", "Nutritionist user id")
		sub.Flags().String("patient", "", "Patient id")
		cmd.AddCommand(sub)
	}
	return cmd
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func runServer() error {
	ctx := context.Background()
	cfg, pool, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Development: cfg.IsDev(),
		File:        cfg.LogFile,
		MaxSizeMB:   cfg.LogMaxSizeMB,
		MaxBackups:  cfg.LogMaxBackups,
		MaxAgeDays:  cfg.LogMaxAgeDays,
	})
	logger.Info().Msg("connected to database")

	lexicon, err := clinicalrecord.LoadLexicon(cfg.UrgencyLexiconFile)
	if err != nil {
		return err
	}

	var opts []clinicalrecord.Option
	kv, err := cache.New(ctx, cfg.RedisURL, "nutrition")
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, previous-data cache disabled")
	} else if kv.IsEnabled() {
		defer kv.Close()
		opts = append(opts, clinicalrecord.WithCache(kv))
		logger.Info().Msg("previous-data cache enabled")
	}

	svc := clinicalrecord.NewService(clinicalrecord.NewRepo(pool), lexicon, serviceConfig(cfg), logger, opts...)
	handler := clinicalrecord.NewHandler(svc, auth.NewPatientAccessPG(pool))

	e := newServer(cfg, logger, pool, handler)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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

func serviceConfig(cfg *config.Config) clinicalrecord.Config {
	return clinicalrecord.Config{
		StabilityPct:    cfg.TrendStabilityPct,
		ChainMaxDepth:   cfg.ChainMaxDepth,
		StatsWindowDays: cfg.StatsWindowDays,
		CacheTTL:        time.Duration(cfg.CacheTTLSeconds) * time.Second,
	}
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

// newServer assembles the echo instance. Health and metrics stay outside
// authentication and practice resolution.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, handlers ...routeRegistrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(time.Duration(cfg.RequestTimeoutSeconds) * time.Second))
	e.Use(telemetry.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, cfg.DefaultTenant))
	e.GET("/metrics", telemetry.Handler())

	apiV1 := e.Group("/api/v1",
		authMiddleware(cfg),
		db.TenantMiddleware(pool, cfg.DefaultTenant),
		middleware.Audit(logger),
	)
	for _, h := range handlers {
		h.RegisterRoutes(apiV1)
	}
	return e
}

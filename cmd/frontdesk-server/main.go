package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/frontdesk/frontdesk/internal/config"
	"github.com/frontdesk/frontdesk/internal/domain/scheduling"
	"github.com/frontdesk/frontdesk/internal/platform/db"
	"github.com/frontdesk/frontdesk/internal/platform/lock"
	"github.com/frontdesk/frontdesk/internal/platform/middleware"
	"github.com/frontdesk/frontdesk/internal/platform/telemetry"
	"github.com/frontdesk/frontdesk/internal/platform/websocket"
	"github.com/frontdesk/frontdesk/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "frontdesk-server",
		Short: "Clinic front-desk appointment and queue API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig reads the environment and rejects settings the server cannot
// run with.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func poolOptions(cfg *config.Config) db.PoolOptions {
	return db.PoolOptions{
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		MaxConnLifetime:   cfg.DBMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBHealthCheckPeriod,
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

// withMigrator loads config and hands fn a migrator for the tenant named by
// the --tenant flag.
func withMigrator(cmd *cobra.Command, fn func(m *db.Migrator, schema string) error) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	if !db.ValidTenantID(tenant) {
		return fmt.Errorf("invalid tenant identifier: %q", tenant)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}
	return fn(db.NewMigrator(cfg.DatabaseURL, migrations.FS), db.SchemaName(tenant))
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run tenant schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *db.Migrator, schema string) error {
				fmt.Printf("Running migrations on schema: %s\n", schema)
				changed, err := m.Up(schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				if !changed {
					fmt.Println("Schema already up to date.")
					return nil
				}
				fmt.Println("Migrations applied successfully.")
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *db.Migrator, schema string) error {
				st, err := m.Status(schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-24s %-10s %s\n", "SCHEMA", "VERSION", "DIRTY")
				fmt.Printf("%-24s %-10d %t\n", st.Schema, st.Version, st.Dirty)
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			return withMigrator(cmd, func(m *db.Migrator, schema string) error {
				fmt.Printf("Rolling back %d migration(s) on schema: %s\n", steps, schema)
				return m.Down(schema, steps)
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migrations to roll back")

	for _, c := range []*cobra.Command{upCmd, statusCmd, downCmd} {
		c.Flags().String("tenant", "default", "Tenant whose schema is migrated")
		cmd.AddCommand(c)
	}
	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required to create a tenant")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			migrator := db.NewMigrator(cfg.DatabaseURL, migrations.FS)
			if err := db.CreateTenantSchema(ctx, pool, name, migrator); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// boardPublisher pushes recomputed queue states to the tenant's board
// subscribers.
type boardPublisher struct {
	hub *websocket.Hub
	log zerolog.Logger
}

func (p *boardPublisher) PublishQueue(ctx context.Context, st *scheduling.QueueState) {
	tenant := db.TenantFromContext(ctx)
	if err := p.hub.Publish(ctx, tenant, st.Key.Topic(), "queue.updated", st); err != nil {
		p.log.Warn().Err(err).Str("topic", st.Key.Topic()).Msg("publish queue state")
	}
}

// dependencies are the long-lived resources the server owns.
type dependencies struct {
	pool   *pgxpool.Pool
	redis  *redis.Client
	store  scheduling.Store
	locker scheduling.Locker
}

func (d *dependencies) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

func openDependencies(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*dependencies, error) {
	deps := &dependencies{}

	switch cfg.StoreBackend {
	case config.StoreMemory:
		deps.store = scheduling.NewMemoryStore()
		logger.Warn().Msg("using in-memory store; data is lost on restart")
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
		if err != nil {
			return nil, err
		}
		deps.pool = pool
		deps.store = scheduling.NewStorePG(pool)
		logger.Info().Msg("connected to database")
	}

	if cfg.RedisURL == "" {
		deps.locker = lock.NewLocal(cfg.LockWait)
		return deps, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	deps.redis = redis.NewClient(opts)
	if err := deps.redis.Ping(ctx).Err(); err != nil {
		deps.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	deps.locker = lock.NewRedis(deps.redis, cfg.LockTTL, cfg.LockWait, logger)
	logger.Info().Msg("using redis booking locks")
	return deps, nil
}

func newServer(cfg *config.Config, deps *dependencies, logger zerolog.Logger) (*echo.Echo, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	scope, err := scheduling.ParseCapacityScope(cfg.CapacityScope)
	if err != nil {
		return nil, err
	}

	tel := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "frontdesk",
		MetricsEnabled: cfg.MetricsEnabled,
		TracingEnabled: cfg.TracingEnabled,
	})
	hub := websocket.NewHub(logger)

	svc := scheduling.NewService(deps.store, deps.locker, scheduling.Options{
		CapacityScope:              scope,
		DefaultConsultationMinutes: cfg.DefaultConsultationMinutes,
		Location:                   loc,
		Logger:                     logger,
		Metrics:                    telemetry.NewSchedulingMetrics(tel.Registerer()),
		Publisher:                  &boardPublisher{hub: hub, log: logger},
	})
	dir := scheduling.NewDirectory(deps.store, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))
	e.Use(tel.MetricsMiddleware())
	e.Use(tel.TracingMiddleware())

	// Ops endpoints stay outside the tenant and rate-limit middleware.
	checks := map[string]db.Pinger{}
	if deps.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return deps.redis.Ping(ctx).Err() }
	}
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(deps.pool, checks))
	e.GET("/metrics", tel.Handler())

	apiV1 := e.Group("/api/v1",
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
			IdleTTL:           10 * time.Minute,
		}),
		middleware.RequestTimeout(cfg.RequestTimeout),
		middleware.BodyLimit(cfg.BodyLimit),
		db.TenantMiddleware(deps.pool, cfg.DefaultTenant),
	)

	scheduling.NewHandler(svc, dir).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	return e, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		l := newLogger(nil)
		l.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	deps, err := openDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open dependencies")
	}
	defer deps.Close()

	e, err := newServer(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreBackend).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
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
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

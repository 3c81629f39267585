package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/opd"
	"github.com/hms/hms/internal/domain/patient"
	"github.com/hms/hms/internal/domain/tenancy"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/supabase"
	"github.com/hms/hms/internal/platform/telemetry"
	"github.com/hms/hms/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital front desk API: patients, appointments and the OPD queue",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

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

// openPool loads the config and connects; used by the one-shot commands.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.ServiceName+"-cli", 2, 0)
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
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format(time.DateTime)
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a hospital tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			code, _ := cmd.Flags().GetString("code")
			tz, _ := cmd.Flags().GetString("timezone")
			if name == "" || code == "" {
				return fmt.Errorf("--name and --code are required")
			}

			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc, err := tenancyService(cfg, pool, zerolog.Nop())
			if err != nil {
				return err
			}
			t, err := svc.Create(ctx, name, code, tz)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created tenant %s (%s): %s\n", t.Name, t.Code, t.ID)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Hospital name")
	createCmd.Flags().String("code", "", "Short code used in UHIDs (A-Z, 0-9)")
	createCmd.Flags().String("timezone", "", "IANA timezone of the operating day (default DEFAULT_TIMEZONE)")
	cmd.AddCommand(createCmd)

	grantCmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role to a user within a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawTenant, _ := cmd.Flags().GetString("tenant")
			rawUser, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")

			tenantID, err := uuid.Parse(rawTenant)
			if err != nil {
				return fmt.Errorf("--tenant must be a uuid: %w", err)
			}
			userID, err := uuid.Parse(rawUser)
			if err != nil {
				return fmt.Errorf("--user must be a uuid: %w", err)
			}

			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc, err := tenancyService(cfg, pool, zerolog.Nop())
			if err != nil {
				return err
			}
			if err := svc.GrantRole(ctx, userID, tenantID, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Granted %s to %s in %s\n", role, userID, tenantID)
			return nil
		},
	}
	grantCmd.Flags().String("tenant", "", "Tenant id")
	grantCmd.Flags().String("user", "", "User id (auth subject)")
	grantCmd.Flags().String("role", "", "One of superadmin, admin, reception, doctor, nurse, lab_staff, pharmacy")
	cmd.AddCommand(grantCmd)

	return cmd
}

func tenancyService(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*tenancy.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return tenancy.NewService(tenancy.NewRepo(pool), loc, logger), nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.TracingConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.ServiceName, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e, err := newServer(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(e, cfg.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// sequenceBackends picks where tokens and UHIDs are allocated: directly in
// Postgres, or through the PostgREST RPC endpoint of a Supabase project.
func sequenceBackends(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (opd.TokenCounterStore, patient.UHIDGenerator) {
	if cfg.SequenceBackend == "rpc" {
		rpc := supabase.NewRPCClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, logger)
		return rpc, rpc
	}
	return opd.NewCounterStore(pool), patient.NewUHIDGenerator(pool)
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
		Secret:   []byte(cfg.AuthJWTSecret),
	})
}

// newServer wires every component onto a fresh echo instance.
func newServer(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*echo.Echo, error) {
	tenancySvc, err := tenancyService(cfg, pool, logger)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetrics()
	metrics.Describe("opd_tokens_issued_total", "Tokens issued by counter scope.")
	metrics.Describe("opd_token_conflicts_total", "Token counter attempts lost to a concurrent writer.")
	metrics.Describe("opd_transitions_total", "Visit status transitions.")
	metrics.Describe("opd_transitions_rejected_total", "Rejected visit transitions by error kind.")
	metrics.GaugeFunc("db_pool_acquired_connections", "Checked out database connections.", func() float64 {
		return float64(pool.Stat().AcquiredConns())
	})

	hub := websocket.NewHub(logger)
	metrics.GaugeFunc("websocket_clients", "Connected queue board clients.", func() float64 {
		return float64(hub.ClientCount())
	})
	metrics.GaugeFunc("websocket_dropped_events", "Queue events dropped for slow clients.", func() float64 {
		return float64(hub.Dropped())
	})

	counter, uhids := sequenceBackends(cfg, pool, logger)

	opdSvc := opd.NewService(counter, opd.NewVisitRepo(pool), opd.NewAppointmentRepo(pool), tenancySvc, logger)
	opdSvc.SetTxRunner(db.NewTxRunner(pool))
	opdSvc.SetPublisher(hub)
	opdSvc.SetRetryLimit(cfg.TokenRetryLimit)
	opdSvc.SetCounters(metrics)

	patientSvc := patient.NewService(patient.NewRepo(pool), uhids, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	headers := middleware.DefaultSecurityHeadersConfig()
	headers.HSTS = cfg.IsProduction()
	e.Use(middleware.SecurityHeaders(headers))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, db.TenantHeader, auth.DevUserHeader, auth.DevRolesHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	api := e.Group("/api/v1",
		middleware.RequestTimeout(cfg.RequestTimeout()),
		authMiddleware(cfg),
		db.TenantMiddleware(cfg.DefaultTenant),
		tenancySvc.RequireActiveTenant(),
		auth.LoadRoles(tenancySvc),
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
			IdleTTL:           10 * time.Minute,
		}),
		middleware.Audit(logger, middleware.NewAuditStore(pool)),
	)

	opd.NewHandler(opdSvc).RegisterRoutes(api)
	patient.NewHandler(patientSvc).RegisterRoutes(api)
	websocket.NewHandler(hub, cfg.CORSOrigins, logger).RegisterRoutes(api)

	return e, nil
}

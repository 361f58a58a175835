package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/stkpush-checkout/internal"
	"github.com/frahmantamala/stkpush-checkout/internal/core/events"
	"github.com/frahmantamala/stkpush-checkout/internal/operator"
	"github.com/frahmantamala/stkpush-checkout/internal/pesaflux"
	"github.com/frahmantamala/stkpush-checkout/internal/transaction"
	txpostgres "github.com/frahmantamala/stkpush-checkout/internal/transaction/postgres"
	txredis "github.com/frahmantamala/stkpush-checkout/internal/transaction/redis"
	"github.com/frahmantamala/stkpush-checkout/internal/transport"
	"github.com/frahmantamala/stkpush-checkout/internal/transport/rest"
	"github.com/frahmantamala/stkpush-checkout/internal/transport/swagger"
	"github.com/frahmantamala/stkpush-checkout/pkg/logger"
)

var serverWithReconciler bool

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func init() {
	httpServerCmd.Flags().BoolVar(&serverWithReconciler, "reconcile", false, "also run the stale pending sweeper in this process")
}

type Dependencies struct {
	Config   *internal.Config
	DB       *sqlx.DB
	Gorm     *gorm.DB
	Redis    *goredis.Client
	EventBus *events.EventBus
	Service  *transaction.Service
	Logger   *slog.Logger
}

func startHTTPServer() {
	ctx := context.Background()

	deps, err := initializeDependencies(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	router, err := setupRoutes(deps)
	if err != nil {
		deps.Close()
		fmt.Fprintf(os.Stderr, "Failed to set up routes: %v\n", err)
		os.Exit(1)
	}

	var sweeper *transaction.Sweeper
	if serverWithReconciler {
		sweeper = newSweeper(deps)
		sweeper.Start(ctx)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		if sweeper != nil {
			sweeper.Shutdown()
		}
		if err := deps.EventBus.Drain(shutdownCtx); err != nil {
			deps.Logger.Warn("event handlers still running at shutdown", "error", err)
		}
		deps.Close()
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) (*chi.Mux, error) {
	cfg := deps.Config
	base := transport.NewBaseHandler(deps.Logger)

	spec, err := swagger.LoadSpec(cfg.Server.OpenAPIPath)
	if err != nil {
		return nil, err
	}

	operatorService := operator.NewService(
		cfg.Security.OperatorUsername,
		cfg.Security.OperatorPasswordHash,
		operator.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.AccessTokenDuration),
		cfg.Security.BCryptCost,
	)

	checks := map[string]rest.Checker{
		"postgres": deps.DB.PingContext,
	}
	if deps.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.Routes{
		Transaction:  transaction.NewHandler(base, deps.Service, deps.Logger),
		Webhook:      transaction.NewWebhookHandler(base, deps.Service, deps.Logger),
		Operator:     operator.NewHandler(base, operatorService),
		OperatorAuth: operatorService,
		Health:       rest.NewHealthHandler(checks),
		Spec:         spec,
	}, deps.Logger)

	return router, nil
}

func initializeDependencies(ctx context.Context) (*Dependencies, error) {
	config, err := loadValidConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.L()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	deps := &Dependencies{
		Config:   config,
		DB:       db,
		Gorm:     gormDB,
		EventBus: events.NewEventBus(log),
		Logger:   log,
	}

	opts := transaction.Options{ReferencePrefix: config.Checkout.ReferencePrefix}
	if config.Redis.Enabled {
		client, err := txredis.NewClient(ctx, config.Redis.Addr, config.Redis.Password, config.Redis.DB)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		deps.Redis = client
		opts.Cache = txredis.NewStatusCache(client, config.Redis.TTL)
	}

	subscribeAuditLog(deps.EventBus, log)

	provider := pesaflux.NewClient(pesaflux.Config{
		BaseURL: config.PesaFlux.BaseURL,
		APIKey:  config.PesaFlux.APIKey,
		Email:   config.PesaFlux.Email,
		Timeout: config.PesaFlux.Timeout,
	}, log)

	deps.Service = transaction.NewService(
		txpostgres.NewTransactionRepository(gormDB),
		txpostgres.NewRecentReader(db),
		provider,
		deps.EventBus,
		log,
		opts,
	)

	return deps, nil
}

func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("Redis close error", "error", err)
		}
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("Database close error", "error", err)
	}
}

// subscribeAuditLog writes one structured line per transaction lifecycle
// event.
func subscribeAuditLog(bus *events.EventBus, log *slog.Logger) {
	audit := func(ctx context.Context, event events.Event) error {
		log.Info("transaction event",
			"event_type", event.EventType(),
			"event_id", event.EventID(),
			"occurred_at", event.OccurredAt(),
			"payload", event.Payload())
		return nil
	}
	bus.Subscribe(events.EventTypeTransactionInitiated, audit)
	bus.Subscribe(events.EventTypeTransactionSettled, audit)
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx connection pool with gorm.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}

package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"quantlab/api"
	"quantlab/internal/config"
	"quantlab/internal/engine"
	"quantlab/internal/infrastructure"
	"quantlab/internal/oracle"
	"quantlab/internal/push"
	"quantlab/internal/storage"
)

// App owns the application dependencies and their lifecycles.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *pgxpool.Pool
	NC         *nats.Conn
	JS         nats.JetStreamContext
	Gateway    *push.Gateway
	Pool       *engine.RunnerPool
	HTTPServer *http.Server

	candles *storage.CandleStore
	results *storage.ResultStore
}

func NewApp() (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	infrastructure.Init()

	return &App{
		Config: &cfg,
		Logger: infrastructure.Logger,
	}, nil
}

// Init connects the external collaborators: postgres, NATS, the oracle
// process, and composes the backtest engine out of them.
func (a *App) Init(ctx context.Context) error {
	dbPool, err := pgxpool.Connect(ctx, a.Config.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = dbPool

	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	nc, js, err := infrastructure.InitNATS(a.Config.NatsURL, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.NC = nc
	a.JS = js

	a.candles = storage.NewCandleStore(a.DB)
	a.results = storage.NewResultStore(a.DB)
	strategies := storage.NewStrategyStore(a.DB)

	proc, err := oracle.NewProcess(
		a.Config.OracleCmd,
		time.Duration(a.Config.OracleTimeout)*time.Millisecond,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to configure oracle: %w", err)
	}

	backtester := engine.NewBacktester(a.candles, proc, a.results, strategies, a.Config.Lookback, a.Logger)
	a.Pool = engine.NewRunnerPool(a.Config.MaxBacktests, a.Config.MaxBacktests*2, backtester.Run, a.Logger)

	a.Gateway = push.NewGateway(js, a.Logger)

	return nil
}

// Run starts the workers and the HTTP server, then blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Pool.Start(ctx)

	if a.Config.IngestEnabled {
		a.startIngestWorker(ctx)
	}

	a.HTTPServer = &http.Server{
		Addr:    ":" + a.Config.Port,
		Handler: a.setupRouter(),
	}

	go func() {
		a.Logger.Info("starting http server", zap.String("port", a.Config.Port))
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	return a.waitForShutdown(cancel)
}

func (a *App) waitForShutdown(cancel context.CancelFunc) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	a.Logger.Info("shutting down...")
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	a.NC.Close()
	a.DB.Close()

	return nil
}

// initDatabase runs the schema bootstrap script.
func (a *App) initDatabase(ctx context.Context) error {
	sqlFile := "scripts/init.sql"
	content, err := os.ReadFile(sqlFile)
	if err != nil {
		return fmt.Errorf("failed to read init script: %w", err)
	}

	if _, err := a.DB.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute init script: %w", err)
	}

	a.Logger.Info("database initialized successfully")
	return nil
}

func (a *App) setupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	apiHandler := api.NewHandler(a.Pool, a.results, a.candles, a.JS, a.Logger)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/backtest", apiHandler.RunBacktest)
		v1.GET("/strategies/:id/backtests", apiHandler.ListBacktests)
		v1.GET("/strategies/:id/backtests/latest", apiHandler.LatestBacktest)
		v1.GET("/klines/:symbol", apiHandler.GetHistoryKLines)
	}

	r.GET("/ws", func(c *gin.Context) {
		a.Gateway.ServeHTTP(c.Writer, c.Request)
	})

	return r
}

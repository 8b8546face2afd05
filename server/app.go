package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"wgpeers/config"
	"wgpeers/internal/api"
	"wgpeers/internal/auth"
	"wgpeers/internal/db"
	"wgpeers/internal/health"
	"wgpeers/internal/logs"
	"wgpeers/internal/metrics"
	"wgpeers/internal/middleware"
	"wgpeers/internal/peering"
	"wgpeers/internal/projector"
	"wgpeers/internal/repo"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// OpenDB: логи, подключение и миграция. Нужна и serve, и migrate.
func (a *App) OpenDB(cfg *config.Config) error {
	a.cfg = cfg

	/* 1) Логи */
	if err := logs.Init(logs.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}); err != nil {
		return err
	}

	/* 2) DB */
	d, err := db.Open(db.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		LogSQL:       cfg.Database.LogSQL,
	})
	if err != nil {
		return fmt.Errorf("db open failed: %w", err)
	}
	a.db = d

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx, a.db); err != nil {
		return fmt.Errorf("db migrate failed: %w", err)
	}
	logs.Logger.WithField("driver", cfg.Database.Driver).Info("database ready")
	return nil
}

// Initialize собирает сервисы и роутер поверх открытой БД.
func (a *App) Initialize(cfg *config.Config) error {
	if err := a.OpenDB(cfg); err != nil {
		return err
	}

	store := repo.NewPeerStore(a.db)
	mgr := peering.NewManager(store, peering.Options{OpTimeout: cfg.Database.OpTimeout})
	proj := projector.New(store, cfg.API.Keepalive)

	/* 3) Router + middleware */
	a.Router = mux.NewRouter()
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	/* 4) Health + metrics без авторизации */
	health.RegisterRoutes(a.Router, a.db)
	a.Router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	/* 5) API под basic auth */
	basic, err := auth.NewBasic(cfg.API.Username, cfg.API.Password)
	if err != nil {
		return err
	}
	api.RegisterRoutes(a.Router, api.NewHandler(store, mgr, proj), basic.Middleware)

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := rt.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		logs.Logger.Debugf("route: %-6v %s", methods, path)
		return nil
	})
	return nil
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}
	defer a.closeDB()

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer a.cancel()

	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-a.ctx.Done():
		logs.Logger.Info("shutdown signal received")
	case err := <-errc:
		return fmt.Errorf("http server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	return nil
}

func (a *App) closeDB() {
	if a.db == nil {
		return
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Close: для migrate, где Run не вызывается.
func (a *App) Close() { a.closeDB() }

// Stop: остановка без сигнала (тесты, встраивание).
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}


package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"chat_web/internal/api"
	"chat_web/internal/middleware"
	"chat_web/internal/models"
	"chat_web/internal/repository"
	"chat_web/internal/service"
	"chat_web/internal/storage"
	"chat_web/pkg/config"
	"chat_web/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	// 載入應用程式配置
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(cfg.Log)

	// 初始化資料庫連接
	db, err := storage.Open(cfg.DB)
	if err != nil {
		return err
	}
	// 確保在程序結束時關閉數據庫連接
	defer db.Close()

	// 自動遷移資料庫結構
	if err := db.AutoMigrate(&models.Room{}, &models.Message{}); err != nil {
		return err
	}

	// 初始化 repositories 與 services
	repos := repository.NewRepositories(db)
	services, err := service.NewServices(repos, cfg, log)
	if err != nil {
		return err
	}

	// 設置 Gin 路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(log.With("component", "http")))
	api.SetupRoutes(r, services, cfg, log)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      middleware.CORS(cfg.Server.AllowedOrigins)(r),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// 啟動伺服器
	g.Go(func() error {
		log.Info("server starting", "addr", cfg.Server.Address, "db", cfg.DB.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 收到訊號後先停止接受新請求, 再關閉所有 WebSocket 連線
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		return errors.Join(err, services.Gateway.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"diary-bot/internal/config"
	"diary-bot/internal/handler"
	"diary-bot/internal/logger"
	"diary-bot/internal/middleware"
	"diary-bot/internal/model"
	"diary-bot/internal/service"
	"diary-bot/internal/telegram"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	configFile := flag.String("config", "", "config file path (e.g. etc/config-dev.yaml)")
	flag.Parse()

	cfg := config.Load(*configFile)
	logger.Init(cfg.Log)

	db, err := cfg.OpenGormDB()
	if err != nil {
		slog.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(&model.Participant{}, &model.Message{}, &model.DiaryEntry{}, &model.PendingEscalation{}); err != nil {
		slog.Error("db migrate failed", "err", err)
		os.Exit(1)
	}

	participants := service.NewParticipantService(db)
	diary := service.NewDiaryService(db)
	gateway := service.NewWorkbookGateway(cfg.Sheet.WorkbookPath)
	tg := telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.APIBaseURL)
	clock := service.RealClock{}

	sched, err := service.NewScheduler(participants, diary, gateway, tg, clock, cfg.Schedule)
	if err != nil {
		slog.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	// The index must be in place before any message can arrive.
	if err := participants.LoadIndex(ctx); err != nil {
		slog.Error("participant index load failed", "err", err)
		os.Exit(1)
	}
	sched.RecoverEscalations(ctx)
	sched.Start()

	poller := telegram.NewPoller(tg, participants, diary, gateway, clock, sched.Location(), cfg.Telegram.PollTimeoutSeconds)
	poller.Start()

	authH := handler.NewAuthHandler(cfg.Admin)
	dashH := handler.NewDashboardHandler(participants, diary, sched)

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.POST("/api/login", authH.Login)
	api := r.Group("/api", middleware.JWTAuth([]byte(cfg.Admin.JWTSecret)))
	api.GET("/participants", dashH.Participants)
	api.GET("/participants/:id/entries", dashH.Entries)
	api.GET("/today", dashH.Today)
	api.GET("/export", dashH.Export)

	srv := &http.Server{Addr: cfg.Addr(), Handler: r}
	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	slog.Info("shutting down")
	poller.Stop()
	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	slog.Info("all services stopped")
}

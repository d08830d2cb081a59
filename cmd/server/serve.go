package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/config"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/database"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/handler"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/middleware"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/repository"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/events"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/monitor"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/notify"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/retention"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/sbat"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control surface and the monitor",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type slotEventPublisher interface {
	Publish(ctx context.Context, ev model.SlotEvent) error
}

type operatorAlerter interface {
	Alert(ctx context.Context, text string) error
}

type routeRegistrar interface {
	RegisterRoutes(r chi.Router)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(pool); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Repositories
	requestRepo := repository.NewRequestRepository(pool)
	slotRepo := repository.NewSlotRepository(pool)
	subscriberRepo := repository.NewSubscriberRepository(pool)

	// Slot events are optional
	var slotEvents slotEventPublisher
	if cfg.RedisURL != "" {
		rdb, err := database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer rdb.Close()
		slotEvents = events.NewPublisher(rdb)
	}

	// Services
	client := sbat.NewClient(cfg.SBATBaseURL, cfg.SBATUsername, cfg.SBATPassword, cfg.SBATTimeout, requestRepo)
	mon := monitor.New(client, slotRepo, subscriberRepo, newDispatcher(cfg), slotEvents)

	if cfg.MonitorConfigFile != "" {
		monCfg, err := config.LoadMonitorConfiguration(cfg.MonitorConfigFile)
		if err != nil {
			return err
		}
		if err := mon.Reconfigure(monCfg); err != nil {
			return err
		}
	}

	pruner := retention.New(requestRepo, cfg.AuditRetention, cfg.AuditRetentionSchedule)
	if err := pruner.Start(ctx); err != nil {
		return err
	}
	defer pruner.Stop()

	if cfg.MonitorAutostart {
		if err := mon.Start(ctx); err != nil {
			return fmt.Errorf("autostart monitor: %w", err)
		}
	}

	// Router
	r := newRouter(cfg.CORSAllowOrigin, cfg.AdminToken,
		handler.NewHealthHandler(pool),
		handler.NewMonitorHandler(mon),
		handler.NewHistoryHandler(slotRepo, requestRepo),
	)

	// Server with graceful shutdown
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			slog.Error("server error", "error", err)
		}
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mon.Stop(shutdownCtx); err != nil && !errors.Is(err, monitor.ErrNotRunning) {
		slog.Error("failed to stop monitor", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

// newDispatcher enables every channel that has credentials.
func newDispatcher(cfg *config.Config) *notify.Dispatcher {
	var channels []notify.Channel
	var alerter operatorAlerter

	if cfg.EmailEnabled() {
		channels = append(channels, notify.NewEmail(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom))
	}
	if cfg.TelegramEnabled() {
		tg := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramOperatorChatID)
		channels = append(channels, tg)
		alerter = tg
	}
	if cfg.DiscordEnabled() {
		channels = append(channels, notify.NewDiscord(cfg.DiscordBotToken, cfg.DiscordChannelID))
	}

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	slog.Info("notification channels configured", "channels", names, "operator_alerts", alerter != nil)

	return notify.NewDispatcher(alerter, channels...)
}

func newRouter(corsOrigin, adminToken string, health *handler.HealthHandler, routes ...routeRegistrar) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(corsOrigin))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", health.Health)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminToken(adminToken))
			for _, rr := range routes {
				rr.RegisterRoutes(r)
			}
		})
	})
	return r
}

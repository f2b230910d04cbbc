// Command server runs one instance of the distributed timer fleet: the
// HTTP and WebSocket surfaces, the TTL Scheduler, the Fleet Event Bus and
// the Reconciliation Monitor, all sharing one Redis connection pool and one
// MySQL handle.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"timerfleet/config"
	"timerfleet/eventbus"
	"timerfleet/httpapi"
	"timerfleet/model"
	"timerfleet/monitor"
	"timerfleet/mysql"
	"timerfleet/presence"
	"timerfleet/schedule"
	"timerfleet/store"
	"timerfleet/timercore"
	"timerfleet/wsapi"
)

var logger = logrus.WithFields(logrus.Fields{"component": "main"})

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()
	if err := config.Read(cfg); err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	if cfg.ServerInstanceID == "" {
		cfg.ServerInstanceID = uuid.New().String()
	}
	logger.WithField("server_instance_id", cfg.ServerInstanceID).Info("starting timerfleet server")

	db, err := mysql.Open(ctx, cfg.MySQLDSN)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to mysql")
	}
	defer db.Close()

	presenceClient, err := presence.NewClient(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to presence redis")
	}
	defer presenceClient.Close()
	presenceIdx := presence.NewIndex(presenceClient, cfg)

	timers := store.NewTimerRepo(db)
	marks := store.NewTimestampMarkRepo(db)
	completions := store.NewCompletionLogRepo(db)
	eventLogs := store.NewEventLogRepo(db)

	hub := wsapi.NewHub()

	signals := make(chan model.CompletionSignal, 64)
	requests := make(chan model.ScheduleRequest, 64)

	bus := eventbus.New(presenceClient.Raw(), cfg.ServerInstanceID, presenceIdx, hub, eventLogs)
	dispatcher := timercore.New(timers, marks, presenceIdx, bus, hub, cfg.ServerInstanceID, requests)
	scheduler := schedule.New(presenceClient.Raw(), cfg, timers, completions, signals, requests)
	mon := monitor.New(timers, completions, eventLogs, cfg)

	go consumeCompletionSignals(ctx, dispatcher, signals)

	go func() {
		if err := bus.Start(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("event bus stopped")
		}
	}()
	go func() {
		if err := scheduler.Start(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("scheduler stopped")
		}
	}()
	go mon.Run(ctx)

	allowedOrigins := splitAndTrim(cfg.AllowedOrigins)

	mux := http.NewServeMux()
	apiMux := http.NewServeMux()
	httpapi.NewServer(dispatcher, mon, cfg.AuthToken).RegisterRoutes(apiMux)
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", apiMux))
	wsapi.NewServer(hub, dispatcher, presenceIdx, bus, cfg.ServerInstanceID, cfg.AuthToken, allowedOrigins).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http server shutdown did not complete cleanly")
	}
	scheduler.Stop()
	bus.Stop()
	mon.Stop()
}

// consumeCompletionSignals bridges the TTL Scheduler's CompletionSignal
// channel to TimerCore.OnCompletionSignal, the wiring the cyclic
// scheduler/core relationship is broken into (see model.CompletionSignal).
func consumeCompletionSignals(ctx context.Context, dispatcher *timercore.Dispatcher, signals <-chan model.CompletionSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			err := dispatcher.OnCompletionSignal(ctx, sig.TimerID)
			select {
			case sig.Result <- err:
			default:
			}
		}
	}
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

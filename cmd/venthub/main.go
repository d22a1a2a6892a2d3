package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/treepeck/venthub/internal/broker"
	"github.com/treepeck/venthub/internal/config"
	"github.com/treepeck/venthub/internal/mq"
	"github.com/treepeck/venthub/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier, release, err := setupNotifier(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer release()

	g := ws.NewGatekeeper(log, notifier, ws.Options{
		QueueTimeout:  cfg.QueueTimeout,
		SweepInterval: cfg.SweepInterval,
		SendBuffer:    cfg.SendBuffer,
		AllowedOrigin: cfg.AllowedOrigin,
	})
	defer g.Destroy()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", ws.Authorize([]byte(cfg.JWTSecret), g.HandleNewConnection))
	mux.HandleFunc("GET /stats", g.HandleStats)
	mux.HandleFunc("GET /health", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "address", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("cannot shut down the http server", "err", err)
	}

	log.Info("Program stopped cleanly")
	return nil
}

/*
setupNotifier connects to RabbitMQ and starts the notification publisher.  If
no URL is configured, notifications are discarded.
*/
func setupNotifier(ctx context.Context, log *slog.Logger, cfg config.Config) (broker.Notifier, func(), error) {
	if cfg.RabbitMQUrl == "" {
		log.Info("RABBITMQ_URL is not set, lifecycle notifications are disabled")
		return nil, func() {}, nil
	}

	d, err := mq.NewDialer(cfg.RabbitMQUrl)
	if err != nil {
		return nil, nil, err
	}

	ch, err := d.OpenChannel()
	if err != nil {
		d.Release()
		return nil, nil, err
	}

	if err = mq.DeclareTopology(ch, cfg.Exchange); err != nil {
		d.Release()
		return nil, nil, err
	}

	p := mq.NewPublisher(log, ch, cfg.Exchange, cfg.SendBuffer)
	go p.Run(ctx)

	return p, d.Release, nil
}

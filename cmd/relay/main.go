package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"smsrelay/internal/auth"
	"smsrelay/internal/awsutil"
	"smsrelay/internal/config"
	"smsrelay/internal/domain"
	"smsrelay/internal/httpserver"
	"smsrelay/internal/ingest"
	"smsrelay/internal/logging"
	"smsrelay/internal/observability"
	"smsrelay/internal/providers/smsapi"
	sqsqueue "smsrelay/internal/queue/sqs"
	"smsrelay/internal/reachability"
	"smsrelay/internal/scheduler"
	"smsrelay/internal/service"
	"smsrelay/internal/store"
	"smsrelay/internal/worker"
)

func main() {
	cfg := config.LoadRelay()
	logging.Init("relay", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startupCtx, startupCancel := context.WithTimeout(ctx, 5*time.Second)
	be, err := openBackend(startupCtx, cfg.StoreConfig)
	startupCancel()
	if err != nil {
		slog.Error("relay store init failed", "backend", cfg.QueueBackend, "err", err)
		os.Exit(1)
	}
	defer be.close()

	observability.Register(prometheus.DefaultRegisterer)

	queue := store.NewQueue(be.slot, cfg.QueueKey)

	var creds auth.Provider = auth.Static(cfg.APIToken)
	if cfg.APITokenFile != "" {
		creds = &auth.File{Path: cfg.APITokenFile}
	}
	client := &smsapi.Client{
		Endpoint:        cfg.APIEndpoint,
		HealthURL:       cfg.APIHealthURL,
		HTTP:            &http.Client{},
		Auth:            creds,
		Limiter:         rate.NewLimiter(rate.Limit(cfg.APIRPS), cfg.APIBurst),
		Breaker:         smsapi.NewBreaker("sms-api"),
		DeliveryTimeout: cfg.DeliveryTimeout,
		ProbeTimeout:    cfg.ProbeTimeout,
	}

	monitor := reachability.New(client.Probe, cfg.MonitorInterval)
	dispatcher := &service.Dispatcher{Queue: queue, Sender: client, Prober: monitor}
	drainer := &worker.Drainer{Queue: queue, Sender: client, Prober: monitor}

	// The first observation always notifies, so a relay that starts online
	// drains whatever survived the last run.
	unsubscribe := monitor.Subscribe(drainer.OnReachable)
	defer unsubscribe()
	monitor.Start(ctx)

	jobs := scheduler.NewRegistry()
	if _, err := jobs.Register(scheduler.DrainJobID, cfg.DrainInterval, scheduler.DrainTask(drainer)); err != nil {
		slog.Error("relay scheduled drain registration failed", "err", err)
		os.Exit(1)
	}

	listener := ingest.NewListener(dispatcher, drainer, ingest.ParseGrants(cfg.Grants))
	if !listener.Start(ctx) {
		slog.Warn("relay running without sms ingestion", "grants", cfg.Grants)
	}

	s := httpserver.New()
	s.RegisterHealth(2*time.Second, be.ping)
	(&httpserver.Webhook{Listener: listener, Secret: cfg.WebhookSecret}).Register(s.Mux)
	(&httpserver.QueueAPI{Queue: queue, Drainer: drainer, AdminToken: cfg.AdminToken}).Register(s.Mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErrCh := make(chan error, 1)
	go func() {
		slog.Info("relay listening", "port", cfg.Port)
		httpErrCh <- srv.ListenAndServe()
	}()

	pollErrCh := make(chan error, 1)
	polling := cfg.SQSQueueURL != ""
	if polling {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("relay sqs client init failed", "err", err)
			os.Exit(1)
		}
		consumer := &sqsqueue.Consumer{
			SQS:               sqsClient,
			QueueURL:          cfg.SQSQueueURL,
			WaitTimeSeconds:   cfg.SQSWaitTime,
			MaxMessages:       cfg.SQSMaxMsgs,
			VisibilityTimeout: cfg.SQSVizTimeout,
		}
		go func() {
			slog.Info("relay sqs source polling", "queue_url", cfg.SQSQueueURL, "workers", cfg.SQSConcurrency)
			pollErrCh <- consumer.PollConcurrent(ctx, cfg.SQSConcurrency, func(ctx context.Context, in domain.InboundSMS) error {
				return listener.Handle(ctx, "sqs", in)
			})
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		polling = false
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("relay sqs poll failed", "err", err)
		}
	case err := <-httpErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("relay http server failed", "err", err)
		}
	case sig := <-sigCh:
		slog.Info("relay shutdown", "signal", sig.String())
	}

	listener.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	jobs.StopAll()
	monitor.Stop()

	if polling {
		select {
		case <-pollErrCh:
		case <-shutdownCtx.Done():
			slog.Info("relay shutdown timeout waiting for sqs poll loop")
		}
	}
	slog.Info("relay stopped")
}

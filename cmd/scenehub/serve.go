package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"scenehub/internal/channels"
	"scenehub/internal/channels/telegram"
	"scenehub/internal/channels/vk"
	"scenehub/internal/config"
	"scenehub/internal/logging"
	"scenehub/internal/notify"
	"scenehub/internal/observability"
	"scenehub/internal/presence"
	"scenehub/internal/scene"
	"scenehub/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scenehub HTTP service and platform polling loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to scenehub-config.yaml")
	return cmd
}

func runServe(configPath string) error {
	logger := logging.NewComponentLogger("Main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	obsCfg, err := observability.LoadConfig(cfg.ObservabilityConfig)
	if err != nil {
		return fmt.Errorf("load observability config: %w", err)
	}

	accessLog := observability.NewLogger(observability.LogConfig{
		Level:  obsCfg.Logging.Level,
		Format: obsCfg.Logging.Format,
	})

	metrics, err := observability.NewMetricsCollector(obsCfg.Metrics)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	tracer, err := observability.NewTracerProvider(obsCfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	// The event hub exists before the directory so lifecycle events can be
	// streamed from the first scene onward.
	hub := server.NewEventHub(logging.NewComponentLogger("Events"))

	directory := scene.NewDirectory(
		logging.NewComponentLogger("Directory"),
		scene.WithDirectoryMetrics(metrics),
		scene.WithEventListener(func(ev scene.Event) {
			hub.Publish(server.StreamEvent{Type: string(ev.Type), At: ev.At, Payload: ev})
		}),
	)

	broadcaster := scene.NewBroadcaster(
		directory,
		logging.NewComponentLogger("Broadcast"),
		scene.WithActionTimeout(cfg.Scenes.ActionTimeout),
		scene.WithBroadcastMetrics(metrics),
	)

	tracker := presence.NewTracker(
		logging.NewComponentLogger("Presence"),
		presence.WithTTL(cfg.Presence.TTL),
		presence.WithMaxPerItem(cfg.Presence.MaxPerItem),
		presence.WithMetrics(metrics),
	)

	registry := channels.NewRegistry(logging.NewComponentLogger("Channels"))

	tgGateway, err := telegram.NewGateway(cfg.Channels.Telegram, logging.NewDeliveryLogger("Telegram"))
	if err != nil {
		return fmt.Errorf("init telegram gateway: %w", err)
	}
	vkGateway := vk.NewGateway(cfg.Channels.VK, logging.NewDeliveryLogger("VK"))

	deliveryMetrics := observability.NewDeliveryMetrics()
	tgGateway.SetMetrics(deliveryMetrics)
	vkGateway.SetMetrics(deliveryMetrics)

	// The only inbound interaction scenehub owns is the dismiss button on
	// its own notifications; everything else belongs to the bot service.
	dismissHandler := func(ctx context.Context, msg channels.InboundMessage) {
		if !strings.Contains(msg.Payload, "dismiss") {
			return
		}
		executor, ok := registry.Get(msg.Channel)
		if !ok {
			return
		}
		ref := channels.MessageRef{Channel: msg.Channel, ChatID: msg.ChatID, MessageID: msg.MessageID}
		if err := executor.DeleteMessage(ctx, ref); err != nil {
			logger.Warn("dismiss: delete %s message %d: %v", msg.Channel, msg.MessageID, err)
		}
	}
	tgGateway.SetHandler(dismissHandler)
	vkGateway.SetHandler(dismissHandler)

	registry.Register(tgGateway)
	registry.Register(vkGateway)

	// Delivery outcomes land in both the delivery log and the main log.
	notifyLog := logging.Multi(logging.NewDeliveryLogger("Notify"), logger)
	dispatcher := notify.NewDispatcher(
		directory,
		registry,
		cfg.Channels.Default,
		notifyLog,
		notify.WithDeliveryTimeout(cfg.Notify.DeliveryTimeout),
		notify.WithMetrics(metrics),
	)

	srv := server.New(cfg.Server, server.Deps{
		Directory:   directory,
		Broadcaster: broadcaster,
		Dispatcher:  dispatcher,
		Tracker:     tracker,
		Executors:   registry,
		Logger:      logging.NewComponentLogger("HTTP"),
		Hub:         hub,
		Tracer:      tracer,
		AccessLog:   accessLog,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pollDone := registry.StartAll(ctx)
	logger.Info("scenehub starting: listen=%s channels=%v default=%s telegram_token=%s",
		cfg.Server.Addr(), registry.Names(), cfg.Channels.Default,
		observability.SanitizeToken(cfg.Channels.Telegram.Token))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Give the polling loops a moment to wind down.
	deadline := time.After(shutdownTimeout)
	for _, done := range pollDone {
		select {
		case <-done:
		case <-deadline:
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if mErr := metrics.Shutdown(shutdownCtx); mErr != nil {
		logger.Warn("metrics shutdown: %v", mErr)
	}
	if tErr := tracer.Shutdown(shutdownCtx); tErr != nil {
		logger.Warn("tracing shutdown: %v", tErr)
	}

	logger.Info("scenehub stopped")
	return err
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	serial "github.com/luhtfiimanal/go-rx-serial"
	"github.com/luhtfiimanal/go-rx-serial/internal/bridge"
	"github.com/luhtfiimanal/go-rx-serial/internal/config"
	"github.com/luhtfiimanal/go-rx-serial/internal/logging"
	"github.com/luhtfiimanal/go-rx-serial/internal/metrics"
	"github.com/luhtfiimanal/go-rx-serial/internal/mqtt"
)

func main() {
	configPath := flag.String("config", "", "config file (YAML, TOML or JSON); RXSERIAL_CONFIG if empty")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	reg := metrics.NewRegistry()
	m := metrics.NewBridgeMetrics(reg)
	var httpSrv *http.Server
	if cfg.Metrics.Enable {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler(reg))
		httpSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	opts, err := cfg.Serial.Options()
	if err != nil {
		log.Fatal("serial options", zap.Error(err))
	}
	port := serial.New(cfg.Serial.Device, append(opts, serial.WithLogger(logger.Named("serial")))...)
	if err := port.Open(); err != nil {
		log.Fatal("open serial port", zap.String("device", cfg.Serial.Device), zap.Error(err))
	}

	topics := bridge.NewTopics(cfg.MQTT.TopicPrefix)
	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{Topic: topics.Status, Payload: bridge.StatusOffline}, logger.Named("mqtt"))
	if err != nil {
		port.Close()
		log.Fatal("connect mqtt", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bridge.New(port, client, bridge.Options{
		Topics:  topics,
		Retain:  cfg.MQTT.Retain,
		Metrics: m,
		Logger:  logger,
	})
	if err := b.Start(ctx); err != nil {
		client.Close()
		port.Close()
		log.Fatal("start bridge", zap.Error(err))
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-b.Done():
		log.Warn("serial port went away, shutting down")
	}

	if err := b.Close(); err != nil {
		log.Warn("close serial port", zap.Error(err))
	}
	client.Close()

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
}

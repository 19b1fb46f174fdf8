package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ledgerflow/config"
	"ledgerflow/internal/channel"
	"ledgerflow/internal/ledger"
	"ledgerflow/logger"
	"ledgerflow/notify"
	"ledgerflow/processor"
	binancereader "ledgerflow/reader/binance"
	bybitreader "ledgerflow/reader/bybit"
	"ledgerflow/reader/mailbox"
	"ledgerflow/reader/stream"
	"ledgerflow/writer"
)

type component interface {
	Start(ctx context.Context) error
	Stop()
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Ledgerflow.Name,
		"version": cfg.Ledgerflow.Version,
	}).Info("starting ledgerflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Logging.DashboardName)
	logger.StartReport(ctx, log, 30*time.Second)

	channels := channel.NewChannels(
		cfg.Channels.RawBuffer,
		cfg.Channels.RecordBuffer,
	)
	defer channels.Close()

	channels.StartMetricsReporting(ctx, 30*time.Second)

	led, err := ledger.Open(cfg.Ledger)
	if err != nil {
		log.WithError(err).Error("failed to open dedup ledger")
		os.Exit(1)
	}
	if closer, ok := led.(io.Closer); ok {
		defer closer.Close()
	}

	readers := make([]component, 0, 4)
	if cfg.Source.Mailbox.Enabled {
		readers = append(readers, mailbox.NewReader(cfg, channels))
	}
	if cfg.Source.Stream.Enabled {
		readers = append(readers, stream.NewReader(cfg, channels))
	}
	if cfg.Source.Binance.Enabled {
		readers = append(readers, binancereader.NewReader(cfg, channels))
	}
	if cfg.Source.Bybit.Enabled {
		readers = append(readers, bybitreader.NewReader(cfg, channels))
	}
	if len(readers) == 0 {
		log.WithComponent("main").Warn("no sources enabled")
	}

	proc := processor.NewProcessor(cfg, led, channels.Raw, channels.Records)

	fanout := writer.NewFanout(channels.Records)
	sinks := make([]component, 0, 4)

	if cfg.Storage.S3.Enabled {
		reportWriter, err := writer.NewReportWriter(cfg, fanout.Subscribe(cfg.Channels.RecordBuffer))
		if err != nil {
			log.WithError(err).Error("failed to create report writer")
			os.Exit(1)
		}
		sinks = append(sinks, reportWriter)

		archiveWriter, err := writer.NewArchiveWriter(cfg, fanout.Subscribe(cfg.Channels.RecordBuffer))
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
		sinks = append(sinks, archiveWriter)
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping report and archive writers")
	}

	if cfg.Storage.Kafka.Enabled {
		kafkaWriter, err := writer.NewKafkaWriter(cfg, fanout.Subscribe(cfg.Channels.RecordBuffer))
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
		sinks = append(sinks, kafkaWriter)
	}

	if cfg.Notify.Enabled {
		sinks = append(sinks, notify.NewDigester(cfg, fanout.Subscribe(cfg.Channels.RecordBuffer)))
	}

	var wg sync.WaitGroup

	for _, s := range sinks {
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil {
				log.WithError(err).Warn("sink failed to start")
			}
		}(s)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fanout.Start(ctx); err != nil {
			log.WithError(err).Warn("fanout failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := proc.Start(ctx); err != nil {
			log.WithError(err).Warn("processor failed to start")
		}
	}()

	for _, r := range readers {
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil {
				log.WithError(err).Warn("reader failed to start")
			}
		}(r)
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping readers")
	for _, r := range readers {
		r.Stop()
	}

	log.Info("stopping processor")
	proc.Stop()

	log.Info("stopping fanout")
	fanout.Stop()

	log.Info("stopping sinks")
	for _, s := range sinks {
		s.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("ledgerflow stopped")
}

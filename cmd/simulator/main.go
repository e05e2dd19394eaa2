package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/activityrecognition/internal/config"
	"example.com/activityrecognition/internal/events"
	"example.com/activityrecognition/internal/messaging"
	"example.com/activityrecognition/internal/simulator"
	"example.com/activityrecognition/internal/synth"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	if !cfg.KafkaEnabled() {
		log.Fatal("KAFKA_BROKERS is required")
	}
	if len(cfg.FeedTopics) == 0 || len(cfg.SampleTopics) == 0 {
		log.Fatal("FEED_TOPICS and SAMPLE_TOPICS must name at least one topic")
	}

	contentType := events.ContentTypeJSON
	if cfg.SimulatorEncoding == "msgpack" {
		contentType = events.ContentTypeMsgpack
	}

	profiles, err := synth.ProfilesFromFile(cfg.SynthProfilePath)
	if err != nil {
		log.Fatalf("failed to load synth profiles: %v", err)
	}
	generator, err := synth.New(profiles, uint64(time.Now().UnixNano()))
	if err != nil {
		log.Fatalf("failed to build synthesizer: %v", err)
	}

	producer := messaging.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()
	publisher := messaging.NewSensorPublisher(producer, cfg.FeedTopics[0], cfg.SampleTopics[0], contentType)

	sim, err := simulator.New(simulator.Config{
		DeviceID:       cfg.SimulatorDeviceID,
		Activity:       cfg.SimulatorActivity,
		Interval:       cfg.SimulatorInterval,
		Samples:        cfg.SimulatorSamples,
		SequenceLength: cfg.SequenceLength,
	}, generator, publisher)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("simulator metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server error: %v", err)
		}
	}()

	if err := sim.SeedSamples(ctx); err != nil {
		log.Printf("seed samples: %v", err)
	}
	if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("simulator stopped with error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}

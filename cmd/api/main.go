package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/activityrecognition/internal/api"
	"example.com/activityrecognition/internal/auth"
	"example.com/activityrecognition/internal/classifier"
	"example.com/activityrecognition/internal/config"
	"example.com/activityrecognition/internal/consumer"
	"example.com/activityrecognition/internal/feed"
	"example.com/activityrecognition/internal/messaging"
	"example.com/activityrecognition/internal/storage"
	"example.com/activityrecognition/internal/streaming"
	"example.com/activityrecognition/internal/synth"
	"example.com/activityrecognition/internal/training"
	httptransport "example.com/activityrecognition/internal/transport/http"
	"example.com/activityrecognition/internal/transport/ws"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := storage.Open(ctx, cfg, log.Default())
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer stores.Close()

	profiles, err := synth.ProfilesFromFile(cfg.SynthProfilePath)
	if err != nil {
		log.Fatalf("failed to load synth profiles: %v", err)
	}
	generator, err := synth.New(profiles, uint64(time.Now().UnixNano()))
	if err != nil {
		log.Fatalf("failed to build synthesizer: %v", err)
	}

	trainingOpts := []training.Option{training.WithHistoryLimit(cfg.TrainingHistoryLimit)}
	if stores.Runs != nil {
		trainingOpts = append(trainingOpts, training.WithRunRecorder(stores.Runs))
	}

	hub := feed.NewHub()
	var consumers sync.WaitGroup
	if cfg.KafkaEnabled() {
		producer := messaging.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		trainingOpts = append(trainingOpts, training.WithEventSink(messaging.NewRunEventPublisher(producer, cfg.RunEventsTopic)))

		// Every instance reads the whole feed so any session can follow any device.
		host, _ := os.Hostname()
		startConsumer(ctx, &consumers, cfg.KafkaBrokers, cfg.ConsumerGroupID+"-feed-"+host, cfg.FeedTopics, consumer.NewIngestHandler(hub, nil))
		startConsumer(ctx, &consumers, cfg.KafkaBrokers, cfg.ConsumerGroupID, cfg.SampleTopics, consumer.NewIngestHandler(nil, stores.Samples))
	}

	trainer := training.NewManager(stores.Samples, classifier.New(cfg.SequenceLength), cfg.SequenceLength, trainingOpts...)

	streams := streaming.NewManager(streaming.Config{
		TickInterval:    cfg.StreamTickInterval,
		DefaultDuration: time.Duration(cfg.StreamDefaultSeconds) * time.Second,
		MaxDuration:     time.Duration(cfg.StreamMaxSeconds) * time.Second,
		BufferSize:      cfg.StreamBufferSize,
		ConfigWait:      cfg.StreamConfigWait,
		WriteTimeout:    cfg.StreamWriteTimeout,
	}, trainer, generator, streaming.WithFeedHub(hub))

	handler := api.NewHandler(trainer, stores.Samples, generator,
		api.WithStream(ws.NewHandler(streams, ws.WithAllowedOrigins(cfg.CORSOrigin)), streams))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, "/v1/stream")
	requestLogger := log.New(log.Writer(), "[http] ", log.LstdFlags)

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress),
		authMiddleware.Wrap(httptransport.RequestLogger(requestLogger, httptransport.CORS(cfg.CORSOrigin, mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("activity-recognition api listening on %s (store=%s, kafka=%t)", cfg.HTTPAddress, stores.Driver, cfg.KafkaEnabled())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	log.Println("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := streams.Shutdown(shutdownCtx); err != nil {
		log.Printf("streaming shutdown: %v", err)
	}
	if err := trainer.Shutdown(shutdownCtx); err != nil {
		log.Printf("training shutdown: %v", err)
	}
	hub.Close()
	consumers.Wait()
}

func startConsumer(ctx context.Context, wg *sync.WaitGroup, brokers []string, groupID string, topics []string, handler consumer.Handler) {
	if len(topics) == 0 {
		return
	}
	reader := consumer.NewKafkaReader(brokers, groupID, topics...)
	proc := consumer.NewProcessor(reader, handler)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer reader.Close()

		log.Printf("consumer started (topics=%v, group=%s)", topics, groupID)
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("consumer stopped with error (topics=%v): %v", topics, err)
		}
	}()
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/moodwheel/agent/backend/internal/config"
	"github.com/moodwheel/agent/backend/internal/handler"
	"github.com/moodwheel/agent/backend/internal/handler/probe"
	"github.com/moodwheel/agent/backend/internal/handler/record"
	"github.com/moodwheel/agent/backend/internal/handler/transcribe"
	speechModel "github.com/moodwheel/agent/backend/internal/model/speech"
	agentservice "github.com/moodwheel/agent/backend/internal/service/agent"
	"github.com/moodwheel/agent/backend/internal/service/archive"
	"github.com/moodwheel/agent/backend/internal/service/inference"
	"github.com/moodwheel/agent/backend/internal/service/session"
	"github.com/moodwheel/agent/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize inference service
	var inferenceService *inference.Service
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
			log.Println("continuing without mood inference - check the Ark model environment variables")
		} else {
			inferenceService, err = inference.NewService(ctx, chatModel, inference.Config{})
			if err != nil {
				log.Fatalf("failed to build inference chains: %v", err)
			}
			log.Println("Inference service initialized successfully")
		}
	} else {
		log.Println("Ark credentials not configured, skipping mood inference")
	}

	// Initialize speech service
	var speechService *speech.Service
	if cfg.Speech.Enabled {
		speechConfig := &speechModel.SpeechConfig{
			AppID:       cfg.Speech.AppID,
			AccessToken: cfg.Speech.AccessToken,
			APIKey:      cfg.Speech.APIKey,
			BaseURL:     cfg.Speech.BaseURL,
			ASRModel:    cfg.Speech.ASRModel,
			ASRLanguage: cfg.Speech.ASRLanguage,
			TTSVoice:    cfg.Speech.TTSVoice,
			TTSSpeed:    cfg.Speech.TTSSpeed,
			TTSVolume:   cfg.Speech.TTSVolume,
			Timeout:     cfg.Speech.Timeout,
		}
		speechService = speech.NewService(speechConfig)
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("Speech credentials not configured, skipping speech features")
	}

	// Initialize session archive
	archiveService := archive.NewService(nil)
	if cfg.Archive.Enabled {
		store, err := connectArchive(ctx, cfg.Archive)
		if err != nil {
			log.Printf("warning: failed to connect session archive: %v", err)
			log.Println("continuing without persistence")
		} else {
			archiveService = archive.NewService(store)
			log.Println("Session archive initialized successfully")
		}
	} else {
		log.Println("MONGO_URI not set, sessions will not be archived")
	}

	registry := session.NewRegistry()

	agentCfg := agentservice.Config{
		MaxQuestions:        cfg.Agent.MaxQuestions,
		MaxDepth:            cfg.Agent.MaxDepth,
		ConfidenceThreshold: cfg.Agent.ConfidenceThreshold,
		PlaybackAckTimeout:  cfg.Agent.PlaybackAckTimeout,
		Greeting:            cfg.Agent.Greeting,
	}

	var probeHandler *probe.Handler
	if speechService != nil && inferenceService != nil {
		probeHandler = probe.New(
			agentCfg,
			agentservice.NewSpeechSpeaker(speechService.Synthesizer),
			agentservice.NewSpeechListener(speechService.Transcriber),
			inferenceService,
			inferenceService,
			archiveService,
			registry,
		)
	} else {
		log.Println("probing agent disabled: requires both speech and inference services")
	}

	var transcribeHandler *transcribe.Handler
	if speechService != nil {
		var analyzer inference.MoodAnalyzer
		if inferenceService != nil {
			analyzer = inferenceService
		}
		var archiver transcribe.Archiver
		if archiveService.Enabled() {
			archiver = archiveService
		}
		transcribeHandler = transcribe.New(speechService.Transcriber, analyzer, archiver)
	}

	var recordHandler *record.Handler
	if archiveService.Enabled() {
		recordHandler = record.New(archiveService)
	}

	router := handler.NewRouter(probeHandler, transcribeHandler, recordHandler, registry)

	startServer(ctx, cfg.Server, router)

	archiveService.Wait()
}

func connectArchive(ctx context.Context, cfg config.ArchiveConfig) (*archive.MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return archive.NewMongoStore(client.Database(cfg.Database), cfg.AudioBucket)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Mood agent backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

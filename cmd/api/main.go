package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"voice-qc-go/internal/config"
	"voice-qc-go/internal/credentials"
	"voice-qc-go/internal/evaluation"
	"voice-qc-go/internal/logger"
	"voice-qc-go/internal/processor"
	"voice-qc-go/internal/transcription"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "voice-qc-go").Info("starting service")
	cfg := config.Load()

	pool := credentials.NewPool()
	if cfg.CredentialsSheet != "" {
		ids, err := credentials.ImportSheet(pool, cfg.CredentialsSheet)
		if err != nil {
			log.WithError(err).Fatal("failed to import credential sheet")
		}
		log.WithField("count", len(ids)).Info("credentials imported from sheet")
	}
	if cfg.Credentials != "" {
		entries, err := credentials.ParseInline(cfg.Credentials)
		if err != nil {
			log.WithError(err).Fatal("failed to parse QC_CREDENTIALS")
		}
		log.WithField("count", len(credentials.Import(pool, entries))).Info("inline credentials imported")
	}

	transport, err := newTransport(cfg.Transcribe)
	if err != nil {
		log.WithError(err).Fatal("transcription provider")
	}
	orch := transcription.NewOrchestrator(transport, pool, cfg.Transcribe.Regions,
		transcription.WithPollInterval(cfg.Transcribe.PollInterval),
		transcription.WithMaxPollAttempts(cfg.Transcribe.MaxPollAttempts),
	)

	runner := evaluation.NewChatRunner(evaluation.ChatConfig{
		URL:         cfg.Evaluation.URL,
		Region:      cfg.Evaluation.Region,
		Timeout:     cfg.Evaluation.HTTPTimeout,
		RetryWindow: cfg.Evaluation.RetryWindow,
	}, pool)
	esc := evaluation.NewEscalator(runner,
		evaluation.WithCheapModels(cfg.Evaluation.CheapModels...),
		evaluation.WithThreshold(cfg.Evaluation.ConfidenceThreshold),
		evaluation.WithMaxTokens(cfg.Evaluation.MaxTokens),
	)

	s := &server{
		pool:          pool,
		proc:          processor.New(orch, esc, cfg.Evaluation.PrimaryModel, cfg.Evaluation.EscalatedModel),
		defaultRegion: cfg.Transcribe.PreferredRegion,
		datasetPath:   cfg.DatasetPath,
	}

	// POST /calls answers only after polling finishes
	writeTimeout := cfg.Transcribe.PollInterval*time.Duration(cfg.Transcribe.MaxPollAttempts) + 2*time.Minute

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{
		"addr":     addr,
		"provider": transport.Name(),
		"regions":  cfg.Transcribe.Regions,
	}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server terminated")
	}
	log.Info("server stopped")
}

func newTransport(cfg config.TranscribeConfig) (transcription.Transport, error) {
	cc := transcription.ClientConfig{
		Hosts:       cfg.Hosts,
		Timeout:     cfg.HTTPTimeout,
		RetryWindow: cfg.RetryWindow,
	}
	switch cfg.Provider {
	case "publish":
		return transcription.NewPublishAPI(cc), nil
	case "transcript":
		return transcription.NewTranscriptAPI(cc), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ahrav/go-versus/infrastructure/audio"
	"github.com/ahrav/go-versus/infrastructure/documents"
	"github.com/ahrav/go-versus/infrastructure/events"
	"github.com/ahrav/go-versus/infrastructure/middleware"
	"github.com/ahrav/go-versus/internal/application"
	"github.com/ahrav/go-versus/internal/ports"
)

// These function variables allow tests to stub external dependencies.
var (
	lookupEnv    = os.Getenv
	newLLMClient = func(cfg application.LLMConfig, metrics ports.MetricsCollector, env func(string) string) (ports.LLMClient, error) {
		return application.NewLLMClient(cfg, metrics, env)
	}
	connectBroker = func(url string, logger *slog.Logger) (ports.EventPublisher, error) {
		return events.ConnectNATS(url, "versus", logger)
	}
)

// app is the composition root shared by the duel and serve commands.
type app struct {
	loaded       *application.LoadedConfig
	registry     *prometheus.Registry
	metrics      *middleware.PrometheusMetrics
	orchestrator *application.Orchestrator
	extractor    *documents.Extractor
	narrator     *audio.Narrator
	broker       ports.EventPublisher
	logger       *slog.Logger
}

func loadConfig(path string) (*application.LoadedConfig, error) {
	loader, err := application.NewConfigLoader(lookupEnv)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return loader.LoadDefault()
	}
	return loader.LoadFromFile(path)
}

func newApp(opts *rootOptions) (*app, error) {
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}
	loaded, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := middleware.NewPrometheusMetrics(registry)

	client, err := newLLMClient(cfg.LLM, metrics, lookupEnv)
	if err != nil {
		return nil, err
	}
	logger.Info("generation backend ready", "provider", cfg.LLM.Provider, "model", client.GetModel())

	agents, err := application.NewAgentFactory(client, loaded, middleware.NewOTelBudgetObserver(metrics), logger)
	if err != nil {
		return nil, err
	}

	orchOpts := []application.OrchestratorOption{
		application.WithLogger(logger),
		application.WithObserver(application.NewMetricsObserver(metrics)),
		application.WithObserver(application.NewLogObserver(logger)),
	}
	var broker ports.EventPublisher
	if cfg.Events.NATSURL != "" {
		broker, err = connectBroker(cfg.Events.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		orchOpts = append(orchOpts, application.WithObserver(events.NewBrokerObserver(broker, cfg.Events.Subject, logger)))
	}

	orch, err := application.NewOrchestrator(loaded, agents, orchOpts...)
	if err != nil {
		return nil, err
	}

	extractor, err := documents.NewExtractor(documents.Config{
		MaxBytes:   cfg.Documents.MaxBytes,
		PDFCommand: cfg.Documents.PDFCommand,
		OCRCommand: cfg.Documents.OCRCommand,
		CacheTTL:   cfg.Documents.CacheTTL,
	}, documents.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("document extractor: %w", err)
	}
	narrator, err := audio.NewNarrator(cfg.Audio.Command, cfg.Audio.Timeout, audio.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("narrator: %w", err)
	}

	return &app{
		loaded:       loaded,
		registry:     registry,
		metrics:      metrics,
		orchestrator: orch,
		extractor:    extractor,
		narrator:     narrator,
		broker:       broker,
		logger:       logger,
	}, nil
}

// Close releases the broker connection.
func (a *app) Close() error {
	if a.broker == nil {
		return nil
	}
	return a.broker.Close()
}

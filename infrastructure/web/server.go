// Package web serves duels over HTTP: a JSON API, a websocket stream of
// round events, narrated audio, and a minimal HTML rendering of the poem.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-versus/infrastructure/cache"
	"github.com/ahrav/go-versus/infrastructure/events"
	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

// Request describes a duel to start. A nil Rounds selects the configured
// default.
type Request struct {
	PersonaA string `json:"persona_a" form:"persona_a"`
	PersonaB string `json:"persona_b" form:"persona_b"`
	Rounds   *int   `json:"rounds,omitempty" form:"rounds"`
	Document string `json:"document" form:"document"`
}

// Duel is a running duel.
type Duel interface {
	ID() string
	Run(ctx context.Context) (domain.Snapshot, error)
	Snapshot() domain.Snapshot
}

// DuelFactory validates requests and creates duels notifying observers.
type DuelFactory interface {
	NewDuel(req Request, observers ...ports.DuelObserver) (Duel, error)
	Catalog() domain.PersonaCatalog
	Rubric() domain.Rubric
	DefaultRounds() int
}

// Config holds the server dependencies. Extractor, Narrator, Gatherer and
// Observers are optional.
type Config struct {
	Factory        DuelFactory
	Extractor      ports.TextExtractor
	Narrator       ports.AudioRenderer
	Gatherer       prometheus.Gatherer
	Observers      []ports.DuelObserver
	SessionTTL     time.Duration
	MaxUploadBytes int
	Logger         *slog.Logger
}

type session struct {
	duel    Duel
	started time.Time
}

// Server is the HTTP presentation surface.
type Server struct {
	app       *fiber.App
	factory   DuelFactory
	extractor ports.TextExtractor
	narrator  ports.AudioRenderer
	observers []ports.DuelObserver
	sessions  ports.CacheStore
	hub       *events.Broadcaster
	ttl       time.Duration
	maxUpload int
	logger    *slog.Logger

	// Duels run on runCtx so they outlive the request that started them.
	runCtx    context.Context
	cancelRun context.CancelFunc
	running   sync.WaitGroup
}

// New builds the fiber application and registers every route.
func New(cfg Config) (*Server, error) {
	if cfg.Factory == nil {
		return nil, errors.New("web: duel factory is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	engine, err := newViewEngine()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		factory:   cfg.Factory,
		extractor: cfg.Extractor,
		narrator:  cfg.Narrator,
		observers: cfg.Observers,
		sessions:  cache.NewMemoryStore(cfg.SessionTTL),
		hub:       events.NewBroadcaster(cfg.Logger),
		ttl:       cfg.SessionTTL,
		maxUpload: cfg.MaxUploadBytes,
		logger:    cfg.Logger,
		runCtx:    runCtx,
		cancelRun: cancel,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "versus",
		Views:                 engine,
		BodyLimit:             cfg.MaxUploadBytes + 64<<10,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(s.logRequests)

	s.app.Get("/", s.indexPage)
	s.app.Get("/duels/:id", s.poemPage)

	api := s.app.Group("/api")
	api.Get("/personas", s.listPersonas)
	api.Post("/duels", s.createDuel)
	api.Get("/duels/:id", s.getDuel)
	api.Get("/duels/:id/audio", s.getAudio)

	s.app.Get("/ws/duels/:id", s.upgradeOnly, websocket.New(s.streamDuel))

	if cfg.Gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	return s, nil
}

// App exposes the fiber application, mainly for app.Test in tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("web server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown cancels running duels, waits for them to record their final
// state, then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelRun()
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("duels still running at shutdown", "error", ctx.Err())
	}
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	return nil
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	s.logger.Debug("http request",
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
		"duration", time.Since(start))
	return err
}

// handleError renders every error as {"error": "..."}.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) lookup(ctx context.Context, id string) (*session, error) {
	v, ok, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sess, isSession := v.(*session)
	if !ok || !isSession {
		return nil, fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("duel %s not found", id))
	}
	return sess, nil
}

// start stores the session and runs the duel in the background.
func (s *Server) start(ctx context.Context, duel Duel) error {
	sess := &session{duel: duel, started: time.Now()}
	if err := s.sessions.Set(ctx, duel.ID(), sess, s.ttl); err != nil {
		return err
	}

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		snap, err := duel.Run(s.runCtx)
		if err != nil {
			s.logger.Warn("duel ended early", "duel_id", duel.ID(), "rounds", len(snap.Verses), "error", err)
			return
		}
		s.logger.Info("duel finished", "duel_id", duel.ID(), "rounds", len(snap.Verses))
	}()
	return nil
}

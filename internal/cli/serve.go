package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-versus/infrastructure/web"
	"github.com/ahrav/go-versus/internal/application"
	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "serve",
		Short: "Serve the duel API, live round stream and poem pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, addr)
		},
	})
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, addr string) error {
	a, err := newApp(root)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("close event broker", "error", err)
		}
	}()

	cfg := a.loaded.Config.Server
	if addr == "" {
		addr = cfg.Addr
	}
	srv, err := web.New(web.Config{
		Factory:        duelFactory{orch: a.orchestrator},
		Extractor:      a.extractor,
		Narrator:       a.narrator,
		Gatherer:       a.registry,
		SessionTTL:     cfg.SessionTTL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// duelFactory adapts the orchestrator to the web package.
type duelFactory struct {
	orch *application.Orchestrator
}

func (f duelFactory) NewDuel(req web.Request, observers ...ports.DuelObserver) (web.Duel, error) {
	duel, err := f.orch.NewDuel(application.DuelRequest{
		PersonaA: req.PersonaA,
		PersonaB: req.PersonaB,
		Rounds:   req.Rounds,
		Document: req.Document,
	}, observers...)
	if err != nil {
		return nil, err
	}
	return duel, nil
}

func (f duelFactory) Catalog() domain.PersonaCatalog { return f.orch.Catalog() }
func (f duelFactory) Rubric() domain.Rubric          { return f.orch.Rubric() }
func (f duelFactory) DefaultRounds() int             { return f.orch.DefaultRounds() }

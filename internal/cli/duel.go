package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-versus/infrastructure/web"
	"github.com/ahrav/go-versus/internal/application"
	"github.com/ahrav/go-versus/internal/domain"
)

type duelOptions struct {
	personaA     string
	personaB     string
	rounds       int
	roundsSet    bool
	documentPath string
	text         string
	jsonPath     string
	htmlPath     string
	audioPath    string
}

func newDuelCmd(root *rootOptions) *cobra.Command {
	var opts duelOptions
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "duel (--document <file> | --text <text>)",
		Short: "Run a poetry duel grounded in a document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.roundsSet = cmd.Flags().Changed("rounds")
			return runDuel(cmd.Context(), root, cmd.InOrStdin(), opts)
		},
	})
	flags := cmd.Flags()
	flags.StringVarP(&opts.personaA, "persona-a", "a", "", "first poet's persona key (defaults to the first catalog entry)")
	flags.StringVarP(&opts.personaB, "persona-b", "b", "", "second poet's persona key (defaults to the second catalog entry)")
	flags.IntVarP(&opts.rounds, "rounds", "r", 0, "number of rounds (defaults to duel.default_rounds)")
	flags.StringVarP(&opts.documentPath, "document", "d", "", "source document: pdf, docx, txt, png or jpg; - reads stdin")
	flags.StringVar(&opts.text, "text", "", "source text given inline")
	flags.StringVar(&opts.jsonPath, "json", "", "write the final snapshot as JSON to this file (- for stdout)")
	flags.StringVar(&opts.htmlPath, "html", "", "write the poem as an HTML page to this file")
	flags.StringVar(&opts.audioPath, "audio", "", "write a narration of the poem to this file")
	cmd.MarkFlagsMutuallyExclusive("document", "text")
	cmd.MarkFlagsOneRequired("document", "text")
	return cmd
}

func runDuel(ctx context.Context, root *rootOptions, stdin io.Reader, opts duelOptions) error {
	a, err := newApp(root)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("close event broker", "error", err)
		}
	}()

	document, err := readDocument(ctx, a, stdin, opts)
	if err != nil {
		return err
	}

	personaA, personaB := opts.personaA, opts.personaB
	keys := a.loaded.Catalog.Keys()
	if personaA == "" {
		personaA = keys[0]
	}
	if personaB == "" {
		personaB = keys[1]
		if personaB == personaA {
			personaB = keys[0]
		}
	}

	var rounds *int
	if opts.roundsSet {
		rounds = &opts.rounds
	}
	duel, err := a.orchestrator.NewDuel(application.DuelRequest{
		PersonaA: personaA,
		PersonaB: personaB,
		Rounds:   rounds,
		Document: document,
	}, newTerminalObserver(root.stdout))
	if err != nil {
		return err
	}

	s := newStyles(root.stdout)
	pairing := duel.Personas()
	fmt.Fprintf(root.stdout, "%s %s vs %s, %d rounds\n\n",
		s.heading.Render("Duel "+duel.ID()+":"),
		s.persona(pairing.A), s.persona(pairing.B), duel.Rounds())

	snap, runErr := duel.Run(ctx)

	// Outputs are written for partial duels too; their failures never
	// change the duel's result.
	writeOutputs(ctx, a, root, opts, snap)

	if runErr != nil {
		var term *domain.DuelTerminatedError
		if errors.As(runErr, &term) && term.Remediation() != "" {
			fmt.Fprintln(root.stdout, s.muted.Render(term.Remediation()))
		}
		return runErr
	}
	return nil
}

func readDocument(ctx context.Context, a *app, stdin io.Reader, opts duelOptions) (string, error) {
	if opts.documentPath == "" {
		return opts.text, nil
	}

	var (
		data []byte
		err  error
		name = filepath.Base(opts.documentPath)
	)
	if opts.documentPath == "-" {
		name = "stdin"
		data, err = io.ReadAll(io.LimitReader(stdin, a.loaded.Config.Documents.MaxBytes+1))
	} else {
		data, err = os.ReadFile(opts.documentPath)
	}
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return a.extractor.Extract(ctx, name, data)
}

func writeOutputs(ctx context.Context, a *app, root *rootOptions, opts duelOptions, snap domain.Snapshot) {
	if opts.jsonPath != "" {
		if err := writeSnapshotJSON(root.stdout, opts.jsonPath, snap); err != nil {
			a.logger.Warn("json output failed", "path", opts.jsonPath, "error", err)
			fmt.Fprintln(root.stderr, "json output failed:", err)
		}
	}
	if opts.htmlPath != "" {
		if err := writeFile(opts.htmlPath, func(w io.Writer) error {
			return web.RenderPoem(w, snap, a.loaded.Rubric)
		}); err != nil {
			a.logger.Warn("html output failed", "path", opts.htmlPath, "error", err)
			fmt.Fprintln(root.stderr, "html output failed:", err)
		}
	}
	if opts.audioPath != "" {
		if len(snap.Verses) == 0 {
			fmt.Fprintln(root.stderr, "audio output skipped: the poem has no verses")
			return
		}
		data, err := a.narrator.Render(ctx, snap.Lines(), snap.Speakers())
		if err == nil {
			err = os.WriteFile(opts.audioPath, data, 0o644)
		}
		if err != nil {
			a.logger.Warn("audio output failed", "path", opts.audioPath, "error", err)
			fmt.Fprintln(root.stderr, "audio output failed:", err)
		}
	}
}

func writeSnapshotJSON(stdout io.Writer, path string, snap domain.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeFile(path string, render func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return render(f)
}

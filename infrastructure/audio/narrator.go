// Package audio narrates a finished poem through an external text-to-speech
// program.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ahrav/go-versus/infrastructure/command"
	"github.com/ahrav/go-versus/internal/ports"
)

// Preamble opens every narration.
const Preamble = "A collaborative poem."

// Output names the render target in RenderError.
const Output = "audio"

// ErrDisabled is returned when no text-to-speech command is configured.
var ErrDisabled = errors.New("narration is not configured")

var _ ports.AudioRenderer = (*Narrator)(nil)

// Narrator implements ports.AudioRenderer. The command reads narration text
// on stdin and writes audio to stdout.
type Narrator struct {
	argv    []string
	timeout time.Duration
	run     command.Runner
	logger  *slog.Logger
}

// Option configures a Narrator.
type Option func(*Narrator)

// WithRunner replaces the function used to run the speech program.
func WithRunner(r command.Runner) Option { return func(n *Narrator) { n.run = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(n *Narrator) { n.logger = l } }

// NewNarrator parses commandLine. An empty commandLine yields a Narrator
// whose Render always fails with ErrDisabled.
func NewNarrator(commandLine string, timeout time.Duration, opts ...Option) (*Narrator, error) {
	argv, err := command.Parse(commandLine)
	if err != nil {
		return nil, err
	}
	n := &Narrator{argv: argv, timeout: timeout, run: command.Exec, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Enabled reports whether a speech command is configured.
func (n *Narrator) Enabled() bool { return len(n.argv) > 0 }

// Script builds the narration text for lines. speakers is accepted for
// symmetry with Render; attributions are not read aloud.
func Script(lines, _ []string) string {
	var b strings.Builder
	b.WriteString(Preamble)
	b.WriteString("\n\n")
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Render narrates lines. Every failure is a *ports.RenderError.
func (n *Narrator) Render(ctx context.Context, lines, speakers []string) ([]byte, error) {
	if !n.Enabled() {
		return nil, &ports.RenderError{Output: Output, Err: ErrDisabled}
	}
	if len(lines) == 0 {
		return nil, &ports.RenderError{Output: Output, Err: errors.New("poem has no lines")}
	}
	if len(speakers) != 0 && len(speakers) != len(lines) {
		return nil, &ports.RenderError{
			Output: Output,
			Err:    fmt.Errorf("%d speakers for %d lines", len(speakers), len(lines)),
		}
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := n.run(ctx, n.argv, []byte(Script(lines, speakers)))
	if err != nil {
		return nil, &ports.RenderError{Output: Output, Err: err}
	}
	if len(out) == 0 {
		return nil, &ports.RenderError{Output: Output, Err: fmt.Errorf("%s produced no audio", n.argv[0])}
	}

	n.logger.DebugContext(ctx, "poem narrated",
		"lines", len(lines),
		"bytes", len(out),
		"duration", time.Since(start))
	return out, nil
}

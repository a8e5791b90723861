// Package cli implements the versus command line and wires the application
// together.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	envFile    string

	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// Execute runs the CLI with args.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts := &rootOptions{stdout: stdout, stderr: stderr}
	root := silenceUsageAndErrors(&cobra.Command{
		Use:   "versus",
		Short: "Two AI poets duel over a document while an AI judge keeps score.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup()
		},
	})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file (defaults to the built-in configuration)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before credentials are read")

	root.AddCommand(newDuelCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newPersonasCmd(opts))
	root.AddCommand(newRubricCmd(opts))
	root.AddCommand(newValidateConfigCmd(opts))

	executed, err := root.ExecuteContextC(ctx)
	if err != nil {
		maybePrintUsage(executed, root, err)
	}
	return err
}

// setup loads the dotenv file and installs the logger.
func (o *rootOptions) setup() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}
	logger, err := newLogger(o.stderr, o.logLevel, o.logFormat)
	if err != nil {
		return err
	}
	o.logger = logger
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want text or json", format)
	}
}

func silenceUsageAndErrors(cmd *cobra.Command) *cobra.Command {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

func maybePrintUsage(cmd, root *cobra.Command, err error) {
	target := cmd
	if target == nil {
		target = root
	}
	msg := strings.ToLower(err.Error())
	if strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "unknown flag") ||
		strings.Contains(msg, "accepts ") ||
		strings.Contains(msg, "required flag") {
		_ = target.Usage()
	}
}

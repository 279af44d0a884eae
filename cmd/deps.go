// Package cmd provides the subcommands of the council CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/otherjamesbrown/council-search/config"
	"github.com/otherjamesbrown/council-search/credentials"
	"github.com/otherjamesbrown/council-search/pkg/logging"
)

// GlobalOptions are the root persistent flags.
type GlobalOptions struct {
	ConfigFile string
	Output     string
	LogLevel   string
	Debug      bool
}

// Deps holds the dependencies shared by the subcommands. Tests replace
// individual fields.
type Deps struct {
	Options      *GlobalOptions
	LoadConfig   func() (*config.Config, error)
	OpenRuntime  func(ctx context.Context, cfg *config.Config, creds *credentials.Store, logger logging.Logger) (*Runtime, error)
	Credentials  *credentials.Store
	ReadPassword func() (string, error)
	IsTerminal   func() bool
}

// DefaultDeps returns the dependencies for production use.
func DefaultDeps(opts *GlobalOptions) *Deps {
	if opts == nil {
		opts = &GlobalOptions{}
	}
	return &Deps{
		Options: opts,
		LoadConfig: func() (*config.Config, error) {
			if opts.ConfigFile != "" {
				return config.LoadFrom(opts.ConfigFile)
			}
			return config.Load()
		},
		OpenRuntime:  OpenRuntime,
		Credentials:  credentials.NewStore(),
		ReadPassword: readPassword,
		IsTerminal: func() bool {
			return term.IsTerminal(int(os.Stdout.Fd()))
		},
	}
}

// config loads the configuration and applies the global flag overrides.
func (d *Deps) config() (*config.Config, error) {
	cfg, err := d.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if d.Options.LogLevel != "" {
		cfg.Logging.Level = d.Options.LogLevel
	}
	if d.Options.Debug {
		cfg.Logging.Level = string(logging.LevelDebug)
	}
	if d.Options.Output != "" {
		format := config.OutputFormat(strings.ToLower(d.Options.Output))
		if !format.IsValid() {
			return nil, fmt.Errorf("invalid --output %q (must be text, json, or yaml)", d.Options.Output)
		}
		cfg.OutputFormat = format
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return cfg, nil
}

// outputFormat picks the result format: the --output flag, then a non-text
// configured format, then text on a terminal and JSON otherwise.
func (d *Deps) outputFormat(cfg *config.Config) config.OutputFormat {
	if d.Options.Output != "" || cfg.OutputFormat != config.OutputFormatText {
		return cfg.OutputFormat
	}
	if d.IsTerminal != nil && d.IsTerminal() {
		return config.OutputFormatText
	}
	return config.OutputFormatJSON
}

// logger builds the command logger. CLI commands log to stderr so that
// stdout carries only results.
func (d *Deps) logger(cfg *config.Config) logging.Logger {
	lc := cfg.Logging.LoggerConfig()
	lc.Output = os.Stderr
	logger := logging.NewLogger(lc)
	logging.SetGlobal(logger)
	return logger
}

// open loads config and opens storage in one step.
func (d *Deps) open(ctx context.Context) (*Runtime, error) {
	cfg, err := d.config()
	if err != nil {
		return nil, err
	}
	return d.OpenRuntime(ctx, cfg, d.Credentials, d.logger(cfg))
}

// readPassword reads a line from stdin without echo when stdin is a terminal.
func readPassword() (string, error) {
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

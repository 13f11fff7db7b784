// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the process-wide zerolog logger.
//
// Every package logs through github.com/rs/zerolog/log. Setup is called once
// from the CLI before any command runs; until then zerolog's defaults apply.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Output formats accepted by Setup.
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options controls logger construction.
type Options struct {
	// Level is a zerolog level name. Empty means info.
	Level string
	// Format is auto, console or json. Auto picks console when Out is a terminal.
	Format string
	// Out is the destination. Nil means stderr.
	Out io.Writer
}

// Setup builds a logger from opts, installs it as the global logger and
// returns it.
func Setup(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var w io.Writer
	switch strings.ToLower(opts.Format) {
	case FormatJSON:
		w = out
	case FormatConsole:
		w = consoleWriter(out, false)
	case "", FormatAuto:
		if isTerminal(out) {
			w = consoleWriter(out, false)
		} else {
			w = out
		}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", opts.Format)
	}

	zerolog.SetGlobalLevel(level)
	zerolog.DurationFieldUnit = time.Millisecond
	logger := zerolog.New(w).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}

// Quiet silences the global logger. Interactive commands use it so log
// lines never interleave with rendered answers unless --log-level is set.
func Quiet() {
	log.Logger = zerolog.Nop()
}

func consoleWriter(out io.Writer, noColor bool) zerolog.ConsoleWriter {
	if os.Getenv("NO_COLOR") != "" {
		noColor = true
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Package logging configures the global zerolog logger used by both binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"github.com/rs/zerolog/log"
)

// Config describes the logger output.
type Config struct {
	// Level is a zerolog level name: debug, info, warn, error.
	Level string

	// Path to the logfile. "stdout" or "stderr" are possible too.
	Path string

	// DiodeBuf is the size of the non-blocking diode buffer. 0 disables it.
	DiodeBuf int

	// Pretty switches to the human readable console writer.
	Pretty bool
}

var closer io.Closer

// Close flushes buffered log entries. Call it before exiting when DiodeBuf
// is set; log.Fatal does not.
func Close() error {
	if closer == nil {
		return nil
	}
	c := closer
	closer = nil
	return c.Close()
}

// Init sets log.Logger according to cfg. Call it once at the start of main;
// afterwards packages just import "github.com/rs/zerolog/log".
func Init(cfg Config) error {
	var (
		output io.Writer
		err    error
	)

	// std streams are hidden behind a plain Writer so Close leaves them open
	switch cfg.Path {
	case "", "stderr":
		output = struct{ io.Writer }{os.Stderr}
	case "stdout":
		output = struct{ io.Writer }{os.Stdout}
	default:
		output, err = os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	closer = nil
	if cfg.DiodeBuf > 0 {
		dw := diode.NewWriter(output, cfg.DiodeBuf, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "WARNING: Dropped %d log entries\n", missed)
		})
		output = dw
		closer = dw
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(level)
	return nil
}

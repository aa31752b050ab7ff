// Package logging configures the process-wide stdlib logger the way the
// rest of this codebase expects: stdout plus an append-only file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// Config controls where log output is written.
type Config struct {
	Dir      string
	Filename string
}

// Setup opens the log file, wires stdout+file into the stdlib logger, and
// returns the file so the caller can close it on shutdown.
func Setup(cfg Config) (io.Closer, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "/var/log/judgenode"
	}
	filename := cfg.Filename
	if filename == "" {
		filename = "worker.log"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open %s: %w", path, err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, f))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return f, nil
}

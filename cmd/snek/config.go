package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/snekgym/env"
	"github.com/brensch/snekgym/logging"
)

// globalOptions are the persistent flags shared by every subcommand. Each
// flag defaults to its SNEK_* environment variable.
type globalOptions struct {
	gridDim   int
	maxSteps  int
	logFormat string
	logLevel  string
	model     string
}

func (o *globalOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.IntVar(&o.gridDim, "grid-dim", getEnvIntOrDefault("SNEK_GRID_DIM", 8), "Side length of the square board")
	f.IntVar(&o.maxSteps, "max-steps", getEnvIntOrDefault("SNEK_MAX_STEPS", 0), "Truncate episodes after this many steps (0 = unbounded)")
	f.StringVar(&o.logFormat, "log-format", getEnvOrDefault("SNEK_LOG_FORMAT", "text"), "Log format: text, json or pretty")
	f.StringVar(&o.logLevel, "log-level", getEnvOrDefault("SNEK_LOG_LEVEL", "info"), "Log level: debug, info, warn or error")
	f.StringVar(&o.model, "model", getEnvOrDefault("SNEK_MODEL", ""), "ONNX model for the onnx policy")
}

func (o *globalOptions) maxStepsPtr() *int {
	if o.maxSteps <= 0 {
		return nil
	}
	return env.MaxSteps(o.maxSteps)
}

func (o *globalOptions) logger(w io.Writer) (*slog.Logger, error) {
	log, err := logging.New(w, o.logFormat, o.logLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return log, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var i int
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// splitList splits a comma separated flag value, dropping empties.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

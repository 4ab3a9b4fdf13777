package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/snekgym/viewer"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		addr  string
		roots string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Stream live episodes over websockets and serve archive stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log, err := opts.logger(os.Stderr)
			if err != nil {
				return err
			}
			s := viewer.NewServer(viewer.Options{
				Roots:      splitList(roots),
				ModelPath:  opts.model,
				DefaultDim: opts.gridDim,
				MaxSteps:   opts.maxSteps,
				Logger:     log,
			})
			defer s.Close()

			srv := &http.Server{
				Addr:              addr,
				Handler:           s.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info("viewer listening", "addr", addr, "roots", roots)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", getEnvOrDefault("SNEK_ADDR", ":8080"), "Listen address")
	cmd.Flags().StringVar(&roots, "roots", getEnvOrDefault("SNEK_OUT_DIR", "data/episodes"), "Comma separated directories of parquet batches")
	return cmd
}

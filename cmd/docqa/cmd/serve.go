package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docqa/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload and query HTTP API",
	Long: `Serve the HTTP API:

  POST /api/upload   multipart field "file" or a text/plain body with ?source=name.txt
  POST /api/query    {"question": "...", "top_k": 5}
  GET  /healthz      200 when the vector store is reachable, 503 otherwise
  GET  /metrics      Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to server.addr from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	if err := a.index.EnsureIndex(ctx); err != nil {
		log.Warn("could not prepare collection at startup, will retry on first upload", zap.Error(err))
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(a.service, cfg.Server.MaxUploadBytes, log).Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // generation can outlast any fixed limit
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

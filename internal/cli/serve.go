package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/replyshield/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the guardrail HTTP API",
	Long: `Serve POST /api/v1/guardrails/check, GET /api/v1/health and the OpenAPI
document at /api/v1/openapi.json.

  replyshield serve
  replyshield serve --addr :9090`,
	RunE: serveCommand,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8080)")
	rootCmd.AddCommand(serveCmd)
}

func serveCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, runtimeOptions{logOut: os.Stderr, withAudit: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := rt.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	handlerOpts := []api.HandlerOption{
		api.WithVersion(Version),
		api.WithSessionBackend(rt.cfg.Session.Backend),
	}
	if u := rt.cfg.Corrections.RegenerateURL; u != "" {
		handlerOpts = append(handlerOpts, api.WithRegenerator(api.NewHTTPRegenerator(u, rt.cfg.Corrections.RegenerateTimeout)))
		rt.log.Info().Str("regenerate_url", u).Msg("correction loop enabled")
	}
	handler := api.NewHandler(rt.gateway, &rt.log, handlerOpts...)
	container := api.NewContainer(handler, &rt.log)

	server := &http.Server{
		Addr:         addr,
		Handler:      api.NewServerHandler(container, rt.cfg.Server.AllowedOrigins),
		ReadTimeout:  rt.cfg.Server.ReadTimeout,
		WriteTimeout: rt.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.log.Info().Str("address", addr).Str("session_backend", rt.cfg.Session.Backend).Msg("starting replyshield api")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	rt.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nathy/internal/config"
	"nathy/internal/server"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), c.cfg, c.logger)
		},
	}
}

func runServe(parent context.Context, cfg config.Config, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("closing services", zap.Error(err))
		}
	}()

	sessions := &server.Sessions{}
	handler := server.New(svc.dependencies(logger), server.Options{
		Production: cfg.IsProduction(),
		SecretKey:  cfg.Server.SecretKey,
		StaticDir:  cfg.Server.StaticDir,
		WS: server.WSOptions{
			Enable:          cfg.WebSocket.Enabled,
			Path:            cfg.WebSocket.Path,
			VADThreshold:    cfg.WebSocket.VADThreshold,
			SilenceDuration: cfg.WebSocket.SilenceDuration,
			MaxUtterance:    cfg.WebSocket.MaxUtterance,
			Sessions:        sessions,
		},
	})

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	logger.Info("server starting",
		zap.String("addr", ln.Addr().String()),
		zap.String("environment", cfg.Server.Environment),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", svc.model),
		zap.String("memory", svc.memoryBackend),
		zap.String("history", svc.historyBackend),
		zap.Bool("stt", svc.stt != nil),
		zap.String("tts", svc.ttsBackend()),
		zap.Bool("embeddings", svc.embedder != nil),
		zap.Bool("websocket", cfg.WebSocket.Enabled))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		// Services are closed after this returns; live sessions may still be replying.
		if err := sessions.Wait(shutdownCtx); err != nil {
			return fmt.Errorf("wait for websocket sessions: %w", err)
		}
		return nil
	})
	return g.Wait()
}

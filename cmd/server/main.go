package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-auth/internal/factory"
	"collab-auth/internal/handler"
	"collab-auth/internal/obs"
	"collab-auth/internal/util"
)

func main() {
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()
	defer util.Sync()

	obs.Init()

	cfg := f.Config()
	router, err := setupRouter(f)
	if err != nil {
		util.Fatal("Failed to wire handlers", util.ErrorField(err))
	}

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		util.Info("Starting HTTP server",
			util.String("environment", cfg.Environment),
			util.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed", util.ErrorField(err))
		}
	}()

	waitForShutdown(f, server)
}

func setupRouter(f *factory.Factory) (http.Handler, error) {
	authService, err := f.AuthService()
	if err != nil {
		return nil, err
	}

	sessions := handler.NewSessionMiddleware(f.SessionIssuer(), f.UserStore())
	authHandler := handler.NewAuthHandler(authService)
	adminHandler := handler.NewAdminHandler(f.AdminService())

	return handler.NewRouter(authHandler, adminHandler, sessions, f), nil
}

func waitForShutdown(f *factory.Factory, server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	util.Info("Shutdown signal received", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		util.Error("Server shutdown failed", util.ErrorField(err))
	}

	if err := f.Close(); err != nil {
		util.Error("Factory shutdown failed", util.ErrorField(err))
	}

	util.Info("Server stopped")
}

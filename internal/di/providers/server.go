package providers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/samber/do/v2"

	"github.com/grimoireapp/grimoire-server/internal/api"
	"github.com/grimoireapp/grimoire-server/internal/auth"
	"github.com/grimoireapp/grimoire-server/internal/config"
	"github.com/grimoireapp/grimoire-server/internal/logger"
	"github.com/grimoireapp/grimoire-server/internal/mdns"
	"github.com/grimoireapp/grimoire-server/internal/media/images"
	"github.com/grimoireapp/grimoire-server/internal/service"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
	handler *api.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	defer h.handler.Close()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	m := do.MustInvoke[*MetricsHandle](i)

	handler := api.NewServer(api.Deps{
		Services: &api.Services{
			Auth:  do.MustInvoke[*service.AuthService](i),
			Books: do.MustInvoke[*service.BookService](i),
		},
		Gate:     do.MustInvoke[*auth.Gate](i),
		Covers:   do.MustInvoke[*images.Storage](i),
		Metrics:  m.Collector,
		Gatherer: m.Registry,
		Logger:   log.Logger,
	}, api.Options{
		Version:        Version,
		BaseURL:        cfg.Server.BaseURL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Verbose:        !cfg.App.IsProduction(),
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxUploadBytes: cfg.Images.MaxBytes,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Server running", "addr", srv.Addr, "base_url", cfg.Server.BaseURL)

	return &HTTPServerHandle{Server: srv, handler: handler}, nil
}

// MDNSServiceHandle wraps mdns.Service with Shutdownable.
type MDNSServiceHandle struct {
	*mdns.Service
	started bool
}

// Shutdown implements do.Shutdownable.
func (h *MDNSServiceHandle) Shutdown() error {
	if h.started && h.Service != nil {
		h.Stop()
	}
	return nil
}

// ProvideMDNSService provides the mDNS advertisement service.
func ProvideMDNSService(i do.Injector) (*MDNSServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.Server.AdvertiseMDNS {
		log.Info("mDNS advertisement disabled by configuration")
		return &MDNSServiceHandle{Service: nil, started: false}, nil
	}

	svc := mdns.NewService(log.WithComponent("mdns").Logger)

	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		log.Warn("Failed to parse server port for mDNS, using default", "port", cfg.Server.Port)
		port = 8080
	}

	err = svc.Start(mdns.Announcement{Name: cfg.Server.Name, Version: Version, Port: port})
	if err != nil {
		log.Warn("mDNS advertisement unavailable", "error", err)
		// Non-fatal: server works without mDNS (e.g., Docker, cloud)
		return &MDNSServiceHandle{Service: svc, started: false}, nil
	}

	return &MDNSServiceHandle{Service: svc, started: true}, nil
}

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/CUknot/locshare/logging"
)

// HTTPServer is the lifecycle half of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server until its context ends, then shuts it down
// gracefully.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// PeriodicService calls fn every interval until its context ends.
type PeriodicService struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
}

func NewPeriodicService(name string, interval time.Duration, fn func(ctx context.Context)) *PeriodicService {
	return &PeriodicService{name: name, interval: interval, fn: fn}
}

func (p *PeriodicService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.fn(ctx)
		}
	}
}

func (p *PeriodicService) String() string { return p.name }

// Closer adapts a component that only needs closing on shutdown (the feed
// bus, the propagator, the revocation store) to a service, so it is torn
// down in tree order.
type Closer struct {
	name  string
	close func() error
}

func NewCloser(name string, close func() error) *Closer {
	return &Closer{name: name, close: close}
}

func (c *Closer) Serve(ctx context.Context) error {
	<-ctx.Done()
	if err := c.close(); err != nil {
		logging.Warn().Err(err).Str("service", c.name).Msg("Close failed")
	}
	return ctx.Err()
}

func (c *Closer) String() string { return c.name }

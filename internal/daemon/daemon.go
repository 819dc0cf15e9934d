package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"clawgate/internal/logging"
)

// Daemon owns the HTTP server fronting the gateway API.
type Daemon struct {
	addr   string
	token  string
	api    *API
	logger logging.Logger
	server *http.Server
}

func New(addr, token string, api *API, logger logging.Logger) *Daemon {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Daemon{
		addr:   addr,
		token:  token,
		api:    api,
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	d.api.RegisterRoutes(mux)

	d.server = &http.Server{
		Addr:    d.addr,
		Handler: TokenAuthMiddleware(d.token, mux),
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("gateway listening", logging.F("addr", d.addr))
		errCh <- d.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

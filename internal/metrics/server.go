package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/betbot/tradecore/pkg/logger"
)

// HealthFunc returns the names of failing components.
type HealthFunc func(ctx context.Context) []string

func newMux(health HealthFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	if health != nil {
		mux.HandleFunc("/debug/health", func(w http.ResponseWriter, r *http.Request) {
			failed := health(r.Context())
			w.Header().Set("Content-Type", "application/json")
			if len(failed) > 0 {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"healthy": len(failed) == 0, "failed": failed})
		})
	}

	// Registered on our own mux so DefaultServeMux stays untouched.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// StartAsync serves the trading counters, pprof and optionally the store health on listenAddr
// until ctx is done. Bind it to localhost or an internal interface.
func StartAsync(ctx context.Context, listenAddr string, health HealthFunc) (*http.Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	s := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           newMux(health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	return s, nil
}

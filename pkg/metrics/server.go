package metrics

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the package's Prometheus registry over /metrics.
//
// Grounded on the Start/StartAsync/Stop lifecycle exercised by
// jordigilh-kubernaut's pkg/metrics server (NewServer/StartAsync/Stop), kept
// in the teacher's own idiom: a bare *http.Server plus stdlib *log.Logger
// rather than kubernaut's logrus, since the teacher never imports logrus.
type Server struct {
	server *http.Server
	log    *log.Logger
}

// NewServer builds a metrics HTTP server bound to addr (e.g. ":9090").
func NewServer(addr string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[Metrics] ", log.LstdFlags)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		log:    logger,
	}
}

// StartAsync starts the server in a background goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Printf("⚠️ metrics server exited: %v", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

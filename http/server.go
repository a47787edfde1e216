// Package http is Xenon's HTTP dispatcher: it classifies every inbound
// request per spec §4.4 and error-coerces every outcome into the W3C-
// shaped JSON body of §6, or forwards a backend response verbatim.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apxerrors "xenon/errors"
	xenonmiddleware "xenon/http/middleware"
	"xenon/http/response"
	"xenon/logger"
	"xenon/models/node"
	"xenon/services/state"
)

// Server wires chi's middleware chain around the Router dispatch logic.
type Server struct {
	Logger *zap.Logger
	State  *state.State

	breakersMu sync.Mutex
	breakers   map[node.Id]*gobreaker.CircuitBreaker
}

// NewServer builds a Server bound to the given state.
func NewServer(st *state.State, zapLogger *zap.Logger) *Server {
	return &Server{State: st, Logger: zapLogger, breakers: make(map[node.Id]*gobreaker.CircuitBreaker)}
}

// breakerFor lazily creates a per-node circuit breaker guarding outbound
// create-session handshakes to that peer, so one wedged node can't make
// every federated create-session call wait out the full HTTP timeout on
// every request (SPEC_FULL §B).
func (s *Server) breakerFor(id node.Id) *gobreaker.CircuitBreaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()

	if s.breakers == nil {
		s.breakers = make(map[node.Id]*gobreaker.CircuitBreaker)
	}
	if cb, ok := s.breakers[id]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "remote-node-" + id.String(),
		Timeout: 30 * time.Second,
	})
	s.breakers[id] = cb
	return cb
}

// Listen starts the HTTP server on addr and blocks until ctx is canceled,
// then drains in-flight requests with a bounded grace period.
func (s *Server) Listen(ctx context.Context, addr string) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(xenonmiddleware.NewLoggerWithMetrics(s.Logger, &xenonmiddleware.Opts{}))
	r.Use(middleware.Recoverer)
	r.Handle("/*", s.adapt(s.dispatch))

	errch := make(chan error, 1)
	server := &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.Info("starting server", zap.String("addr", addr))
		errch <- server.ListenAndServe()
	}()

	select {
	case err := <-errch:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// HandlerFunc is the shape every dispatch-level handler implements: build
// the response data, or return an error for adapt to translate.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) (*response.Raw, error)

// adapt converts a HandlerFunc into an http.Handler, translating its error
// return into the §6 envelope, a verbatim pass-through, or a generic 500.
func (s *Server) adapt(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := h(w, r)
		if err != nil {
			switch e := err.(type) {
			case *apxerrors.PassThrough:
				response.RespondPassThrough(w, e)
			case *apxerrors.Error:
				response.RespondError(w, e)
			default:
				s.Logger.Error("internal error", zap.Error(err))
				response.RespondError(w, apxerrors.InternalServerError(err))
			}
			return
		}
		if raw != nil {
			response.RespondRaw(w, raw)
		}
	}
}

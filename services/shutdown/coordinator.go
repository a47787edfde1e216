// Package shutdown coordinates graceful shutdown: register a handler per
// background service, then run every handler concurrently, each with a
// bounded timeout, when a shutdown signal arrives.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"xenon/logger"
)

type Handler func(context.Context) error

type Coordinator struct {
	handlers     []Handler
	handlerNames []string
	mu           sync.Mutex
	shutdownOnce sync.Once
	shutdownChan chan struct{}
	timeout      time.Duration
}

// NewCoordinator creates a shutdown coordinator with an overall timeout
// budget shared across every handler.
func NewCoordinator(timeout time.Duration) *Coordinator {
	return &Coordinator{
		shutdownChan: make(chan struct{}),
		timeout:      timeout,
	}
}

// RegisterHandler registers a named shutdown handler.
func (c *Coordinator) RegisterHandler(name string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, handler)
	c.handlerNames = append(c.handlerNames, name)
}

// Start begins listening for SIGINT/SIGTERM/SIGHUP/SIGQUIT and triggers
// Shutdown when one arrives.
func (c *Coordinator) Start() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		c.Shutdown()
	}()
}

// Shutdown initiates graceful shutdown. Safe to call more than once or
// concurrently; only the first call runs the handlers.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		logger.Info("starting graceful shutdown")
		close(c.shutdownChan)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.executeShutdown(ctx)
	})
}

// executeShutdown runs every handler concurrently. Goroutines are launched
// last-registered first, but nothing orders their completion. Each
// handler's context expires after 5s or when the overall timeout runs out,
// whichever comes first.
func (c *Coordinator) executeShutdown(ctx context.Context) {
	var wg sync.WaitGroup
	failures := make(chan string, len(c.handlers))

	for i := len(c.handlers) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			name := c.handlerNames[idx]
			handlerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := c.handlers[idx](handlerCtx); err != nil {
				logger.Error("shutdown handler failed", zap.String("name", name), zap.Error(err))
				failures <- name
				return
			}
			logger.Info("service shutdown complete", zap.String("name", name))
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all services shut down gracefully")
	case <-ctx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}
	close(failures)

	count := 0
	for range failures {
		count++
	}
	if count > 0 {
		logger.Warn("shutdown completed with errors", zap.Int("count", count))
	}
}

// WaitForShutdown blocks until Shutdown has been triggered.
func (c *Coordinator) WaitForShutdown() {
	<-c.shutdownChan
}

package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/tradecore/pkg/logger"
)

// Handler releases one resource. It must return once ctx is done.
type Handler func(ctx context.Context)

// Manager runs registered handlers on graceful shutdown in two phases: the drain handlers
// concurrently, then the close handlers one by one in reverse registration order.
type Manager struct {
	mu     sync.Mutex
	drain  []named
	closes []named
}

type named struct {
	name    string
	handler Handler
}

func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown registers a drain handler, e.g. stopping a listener or waiting for workers.
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drain = append(m.drain, named{name: name, handler: handler})
}

// OnClose registers a handler that runs after every drain handler has returned, e.g. closing a
// store the drained workers were still writing to.
func (m *Manager) OnClose(name string, fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes = append(m.closes, named{name: name, handler: func(context.Context) {
		if err := fn(); err != nil {
			logger.Warnf("close %s: %v", name, err)
		}
	}})
}

// Shutdown blocks until both phases finish or ctx expires. Close handlers are skipped when the
// drain phase times out. ctx should carry a deadline.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	drain, closes := m.drain, m.closes
	m.mu.Unlock()

	if len(drain)+len(closes) == 0 {
		logger.Info("no shutdown handlers registered")
		return
	}
	logger.Infof("graceful shutdown started, %d drain and %d close handlers", len(drain), len(closes))

	var wg sync.WaitGroup
	wg.Add(len(drain))
	for _, cb := range drain {
		go func(cb named) {
			defer wg.Done()
			cb.handler(ctx)
			logger.Infof("shutdown handler %s done", cb.name)
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warnf("shutdown timed out, skipping %d close handlers: %v", len(closes), ctx.Err())
		return
	}

	for i := len(closes) - 1; i >= 0; i-- {
		closes[i].handler(ctx)
		logger.Infof("closed %s", closes[i].name)
	}
	logger.Info("all shutdown handlers finished")
}

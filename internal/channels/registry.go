package channels

import (
	"context"
	"sync"

	"scenehub/internal/async"
	"scenehub/internal/logging"
)

// Registry holds the executors registered at startup. Registration happens
// before serving begins; afterwards the set is read-only and only the
// running flags change.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	running   map[string]bool
	logger    logging.Logger
}

// NewRegistry constructs an empty executor registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		running:   make(map[string]bool),
		logger:    logging.OrNop(logger),
	}
}

// Register adds the executor under its type name. Executors that report
// themselves unavailable are silently dropped (logged at debug level only).
func (r *Registry) Register(ex Executor) {
	if ex == nil {
		return
	}
	if !ex.IsAvailable() {
		r.logger.Debug("executor %s not available, skipping registration", ex.Type())
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[ex.Type()] = ex
	r.logger.Info("executor registered: %s", ex.Type())
}

// Get returns the executor registered under name.
func (r *Registry) Get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[name]
	return ex, ok
}

// Names lists the registered executor names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	return names
}

// Running reports whether the named executor's polling loop is active.
func (r *Registry) Running(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running[name]
}

// StartAll marks every registered executor as running and starts its polling
// loop in a panic-isolated goroutine. One loop failing or panicking never
// affects the registry or the other executors. The returned channels close
// when the corresponding loop exits.
func (r *Registry) StartAll(ctx context.Context) []<-chan struct{} {
	r.mu.Lock()
	executors := make(map[string]Executor, len(r.executors))
	for name, ex := range r.executors {
		executors[name] = ex
		r.running[name] = true
	}
	r.mu.Unlock()

	done := make([]<-chan struct{}, 0, len(executors))
	for name, ex := range executors {
		name, ex := name, ex
		loopDone := make(chan struct{})
		done = append(done, loopDone)
		async.Go(r.logger, "channels."+name, func() {
			defer close(loopDone)
			defer r.markStopped(name)
			if err := ex.StartPolling(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("executor %s polling loop failed: %v", name, err)
			}
		})
	}
	return done
}

func (r *Registry) markStopped(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[name] = false
}

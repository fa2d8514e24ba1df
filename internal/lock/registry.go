package lock

import (
	"sync"

	"github.com/dotcommander/hive/internal/app"
)

// Registry lazily opens Lock singletons, one per resource path. Instances
// stay open for the life of the process so their expiry timers keep running.
type Registry struct {
	mu      sync.Mutex
	dataDir string
	locks   map[string]*Lock
}

// NewRegistry creates a registry storing lock databases under dataDir/locks.
func NewRegistry(dataDir string) *Registry {
	return &Registry{dataDir: dataDir, locks: make(map[string]*Lock)}
}

// Get returns the Lock singleton for resourcePath, opening it on first use.
func (r *Registry) Get(resourcePath string) (*Lock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.locks[resourcePath]; ok {
		return l, nil
	}
	l, err := Open(resourcePath, app.LockDBPath(r.dataDir, resourcePath))
	if err != nil {
		return nil, err
	}
	r.locks[resourcePath] = l
	return l, nil
}

// Close closes every open Lock. The last error wins.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for path, l := range r.locks {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.locks, path)
	}
	return firstErr
}

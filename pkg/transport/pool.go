package transport

import (
	"fmt"
	"sync"

	"github.com/prismdb/prism/pkg/log"
	"github.com/rs/zerolog"
)

// Closer is the lifecycle surface the pool requires of its clients
type Closer interface {
	Close() error
}

// Factory builds a client for one endpoint
type Factory[C Closer] func(host string, port int) (C, error)

// Pool maintains one persistent client per (host, port). Clients are
// created lazily on first use and live until Shutdown. Concurrent Get
// calls for the same endpoint observe exactly one construction.
type Pool[C Closer] struct {
	mu      sync.Mutex
	clients map[string]C
	factory Factory[C]
	logger  zerolog.Logger
}

// NewPool creates an empty client pool
func NewPool[C Closer](factory Factory[C]) *Pool[C] {
	return &Pool[C]{
		clients: make(map[string]C),
		factory: factory,
		logger:  log.WithComponent("client-pool"),
	}
}

// Get returns the client bound to (host, port), constructing it if absent
func (p *Pool[C]) Get(host string, port int) (C, error) {
	key := fmt.Sprintf("%s_%d", host, port)

	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[key]; ok {
		return client, nil
	}
	client, err := p.factory(host, port)
	if err != nil {
		var zero C
		return zero, fmt.Errorf("failed to create client for %s: %w", key, err)
	}
	p.clients[key] = client
	p.logger.Debug().Str("endpoint", key).Msg("client created")
	return client, nil
}

// Size returns the number of cached clients
func (p *Pool[C]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Shutdown closes every cached client and clears the pool. Get after
// Shutdown recreates clients; callers are expected not to.
func (p *Pool[C]) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, client := range p.clients {
		if err := client.Close(); err != nil {
			p.logger.Warn().Err(err).Str("endpoint", key).Msg("failed to close client")
		}
	}
	p.clients = make(map[string]C)
}

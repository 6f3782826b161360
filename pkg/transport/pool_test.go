package transport

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prismdb/prism/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	os.Exit(m.Run())
}

type stubClient struct {
	id     int
	closed atomic.Bool
}

func (c *stubClient) Close() error {
	c.closed.Store(true)
	return nil
}

func TestPoolGetCachesPerEndpoint(t *testing.T) {
	var built atomic.Int32
	pool := NewPool(func(host string, port int) (*stubClient, error) {
		return &stubClient{id: int(built.Add(1))}, nil
	})

	a1, err := pool.Get("server-a", 8098)
	require.NoError(t, err)
	a2, err := pool.Get("server-a", 8098)
	require.NoError(t, err)
	b, err := pool.Get("server-b", 8098)
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Equal(t, 2, pool.Size())
}

func TestPoolGetAtMostOnceConstruction(t *testing.T) {
	var built atomic.Int32
	pool := NewPool(func(host string, port int) (*stubClient, error) {
		return &stubClient{id: int(built.Add(1))}, nil
	})

	const goroutines = 32
	clients := make([]*stubClient, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			client, err := pool.Get("server-a", 8098)
			require.NoError(t, err)
			clients[i] = client
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), built.Load())
	for _, client := range clients {
		assert.Same(t, clients[0], client)
	}
}

func TestPoolShutdownClosesAll(t *testing.T) {
	pool := NewPool(func(host string, port int) (*stubClient, error) {
		return &stubClient{}, nil
	})

	a, _ := pool.Get("server-a", 8098)
	b, _ := pool.Get("server-b", 8098)
	pool.Shutdown()

	assert.True(t, a.closed.Load())
	assert.True(t, b.closed.Load())
	assert.Equal(t, 0, pool.Size())
}

// Package encodercache projects fleet-wide encoder descriptors from the
// remote cluster node directory for display purposes. Lookups miss through
// to the remote source; a hit is cached indefinitely until an explicit
// Refresh.
package encodercache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aidfleet/aid/pkg/types"
)

// Source is the remote cluster node directory this cache misses through to.
type Source interface {
	FetchDescriptor(ctx context.Context, did types.EncoderDID) (types.EncoderDescriptor, error)
}

// Cache is an indefinite, miss-through cache over Source.
type Cache struct {
	source Source
	mu     sync.RWMutex
	data   map[types.EncoderDID]types.EncoderDescriptor
}

// New builds a Cache over source.
func New(source Source) *Cache {
	return &Cache{source: source, data: map[types.EncoderDID]types.EncoderDescriptor{}}
}

// Get returns the cached descriptor, fetching from source on a miss.
func (c *Cache) Get(ctx context.Context, did types.EncoderDID) (types.EncoderDescriptor, error) {
	c.mu.RLock()
	d, ok := c.data[did]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	d, err := c.source.FetchDescriptor(ctx, did)
	if err != nil {
		return types.EncoderDescriptor{}, err
	}

	c.mu.Lock()
	c.data[did] = d
	c.mu.Unlock()
	return d, nil
}

// Refresh forces the next Get for did to miss through to the source.
func (c *Cache) Refresh(did types.EncoderDID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, did)
}

// HTTPSource is an http client adapter over a remote cluster node directory
// service exposing GET /nodes/{did}.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource builds an HTTPSource with a bounded per-attempt deadline so a
// slow remote directory can't starve a background loop.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 3 * time.Second},
	}
}

func (s *HTTPSource) FetchDescriptor(ctx context.Context, did types.EncoderDID) (types.EncoderDescriptor, error) {
	url := fmt.Sprintf("%s/nodes/%s", s.BaseURL, did)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.EncoderDescriptor{}, err
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return types.EncoderDescriptor{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.EncoderDescriptor{}, fmt.Errorf("node directory returned %d", resp.StatusCode)
	}

	var desc types.EncoderDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return types.EncoderDescriptor{}, fmt.Errorf("decode node descriptor: %w", err)
	}
	return desc, nil
}

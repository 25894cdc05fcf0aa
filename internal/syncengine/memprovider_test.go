package syncengine

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/xavifortes/gamesave-sync/internal/storage"
)

// memProvider is an in-memory storage.Provider used across this package's
// tests — a real backend would make the manifest-conflict and gap-fill
// tests depend on disk/network timing that isn't the point under test.
type memProvider struct {
	mu   sync.Mutex
	blob map[string][]byte
}

func newMemProvider() *memProvider {
	return &memProvider{blob: make(map[string][]byte)}
}

func (p *memProvider) PutBlob(_ context.Context, key string, data []byte, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	p.blob[key] = cp

	return nil
}

func (p *memProvider) GetBlob(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, ok := p.blob[key]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	return cp, nil
}

func (p *memProvider) DeleteBlob(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.blob[key]; !ok {
		return storage.ErrNotFound
	}

	delete(p.blob, key)

	return nil
}

func (p *memProvider) Exists(_ context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.blob[key]

	return ok, nil
}

func (p *memProvider) ListByPrefix(_ context.Context, prefix string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var keys []string

	for k := range maps.Keys(p.blob) {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	return keys, nil
}

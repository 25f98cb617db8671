package streamadapter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Strob0t/turnforge/internal/domain/stream"
)

// Factory creates a fresh Adapter instance.
type Factory func() Adapter

var (
	mu        sync.RWMutex
	factories = make(map[stream.Provider]Factory)
)

// Register makes an adapter factory available by provider.
// It is typically called from an init() function in the adapter package.
func Register(provider stream.Provider, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[provider]; exists {
		panic(fmt.Sprintf("streamadapter: duplicate registration for %q", provider))
	}
	factories[provider] = factory
}

// New creates a new Adapter for provider using the registered factory.
func New(provider stream.Provider) (Adapter, error) {
	mu.RLock()
	factory, ok := factories[provider]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("streamadapter: unknown provider %q", provider)
	}
	return factory(), nil
}

// Available returns the registered providers in sorted order.
func Available() []stream.Provider {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]stream.Provider, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

package processor

import (
	"sync"

	"github.com/gmbyapa/grouphost/stream"
)

// Factory builds a Processor for a stream and reports the cache key it
// should be shared under (e.g. a derived project/environment). Two
// streams returning the same key share one Processor instance.
type Factory func(streamName stream.Name) (proc Processor, cacheKey string, err error)

// CachingProvider is the reference Provider: it caches processors by the
// key the Factory derives, guarded by a mutex so callers outside the
// poll thread (e.g. an admin endpoint pre-warming a processor) are safe
// too.
type CachingProvider struct {
	factory Factory

	mu    sync.Mutex
	cache map[string]Processor
}

// NewCachingProvider builds a Provider around factory.
func NewCachingProvider(factory Factory) *CachingProvider {
	return &CachingProvider{
		factory: factory,
		cache:   make(map[string]Processor),
	}
}

// Get implements Provider.
func (p *CachingProvider) Get(streamName stream.Name) (Processor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	proc, key, err := p.factory(streamName)
	if err != nil {
		return nil, err
	}

	if cached, ok := p.cache[key]; ok {
		return cached, nil
	}

	p.cache[key] = proc
	return proc, nil
}

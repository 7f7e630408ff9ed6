// Package registry provides the ordered extractor registry the router
// dispatches through.
package registry

import (
	"sync"

	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/types"
)

// ExtractorRegistry manages platform extractors. Lookup by URL tries
// extractors in registration order.
type ExtractorRegistry struct {
	mu         sync.RWMutex
	extractors []interfaces.Extractor
	byName     map[string]interfaces.Extractor
	fallback   interfaces.Extractor
}

// NewExtractorRegistry creates a new extractor registry.
func NewExtractorRegistry() *ExtractorRegistry {
	return &ExtractorRegistry{
		extractors: make([]interfaces.Extractor, 0),
		byName:     make(map[string]interfaces.Extractor),
	}
}

// Register adds an extractor to the registry.
func (r *ExtractorRegistry) Register(extractor interfaces.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, extractor)
	r.byName[extractor.Name()] = extractor
}

// SetFallback sets the fallback extractor used when no extractor matches.
func (r *ExtractorRegistry) SetFallback(extractor interfaces.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = extractor
}

// Get returns the appropriate extractor for the given URL.
func (r *ExtractorRegistry) Get(url string) interfaces.Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.extractors {
		if e.CanExtract(url) {
			return e
		}
	}
	return r.fallback
}

// ForPlatform returns the extractor registered under the platform's tag.
func (r *ExtractorRegistry) ForPlatform(p types.Platform) (interfaces.Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[p.String()]
	return e, ok
}

// GetByName returns an extractor by its name.
func (r *ExtractorRegistry) GetByName(name string) interfaces.Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.byName[name]; ok {
		return e
	}
	return r.fallback
}

// All returns all registered extractors.
func (r *ExtractorRegistry) All() []interfaces.Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.Extractor, len(r.extractors))
	copy(result, r.extractors)
	return result
}

// Close closes all registered extractors.
func (r *ExtractorRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.extractors {
		_ = e.Close()
	}
	if r.fallback != nil {
		_ = r.fallback.Close()
	}
	return nil
}

var _ interfaces.Registry[interfaces.Extractor] = (*ExtractorRegistry)(nil)

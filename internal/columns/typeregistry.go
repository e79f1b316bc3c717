package columns

import (
	"sort"
	"sync"
)

// TypeRegistry is an explicit, typed lookup table keyed by type name. It is
// passed to the components that need it instead of living in a global.
type TypeRegistry[T any] struct {
	mu      sync.RWMutex
	entries map[string]T
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry[T any]() *TypeRegistry[T] {
	return &TypeRegistry[T]{entries: make(map[string]T)}
}

// Register adds or replaces the entry for name.
func (r *TypeRegistry[T]) Register(name string, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = v
}

// Get returns the entry for name.
func (r *TypeRegistry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[name]
	return v, ok
}

// Names returns the registered names in sorted order.
func (r *TypeRegistry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RendererInfo is what the engine needs to know about a cell renderer. The
// renderers themselves belong to the UI layer.
type RendererInfo struct {
	// DisableFilter opts the renderer's columns out of filtering.
	DisableFilter bool
	// DisplayTypes lists the alternative display types a view may pick for
	// columns rendered by this renderer.
	DisplayTypes []Type
}

// RendererRegistry maps column type names to renderer metadata.
type RendererRegistry = TypeRegistry[RendererInfo]

// DefaultRenderers returns the renderer metadata shipped with the explorer.
// Media renderers cannot be filtered on.
func DefaultRenderers() *RendererRegistry {
	r := NewTypeRegistry[RendererInfo]()
	r.Register(string(TypeString), RendererInfo{DisplayTypes: []Type{TypeString, TypeText, TypeHyperText, TypeImage, TypeAudio, TypeVideo}})
	r.Register(string(TypeNumber), RendererInfo{})
	r.Register(string(TypeBoolean), RendererInfo{})
	r.Register(string(TypeDatetime), RendererInfo{})
	r.Register(string(TypeList), RendererInfo{})
	r.Register(string(TypeText), RendererInfo{DisplayTypes: []Type{TypeString, TypeText}})
	r.Register(string(TypeHyperText), RendererInfo{DisplayTypes: []Type{TypeString, TypeHyperText}})
	r.Register(string(TypeImage), RendererInfo{DisableFilter: true})
	r.Register(string(TypeAudio), RendererInfo{DisableFilter: true})
	r.Register(string(TypeAudioPlus), RendererInfo{DisableFilter: true})
	r.Register(string(TypeVideo), RendererInfo{DisableFilter: true})
	r.Register(string(TypeTimeSeries), RendererInfo{DisableFilter: true})
	return r
}

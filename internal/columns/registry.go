package columns

import (
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Ref indexes a column in the registry arena.
type Ref int

// NoRef marks an absent reference.
const NoRef Ref = -1

// Visibility holds server-declared per-mode visibility defaults.
type Visibility struct {
	Explore  bool `json:"explore"`
	Labeling bool `json:"labeling"`
}

// RawColumn is a column as the server declares it.
type RawColumn struct {
	ID                 string      `json:"id" yaml:"id"`
	Title              string      `json:"title,omitempty" yaml:"title"`
	Type               string      `json:"type,omitempty" yaml:"type"`
	Target             string      `json:"target,omitempty" yaml:"target"`
	Parent             string      `json:"parent,omitempty" yaml:"parent"`
	Children           []string    `json:"children,omitempty" yaml:"children"`
	Orderable          *bool       `json:"orderable,omitempty" yaml:"orderable"`
	Help               string      `json:"help,omitempty" yaml:"help"`
	VisibilityDefaults *Visibility `json:"visibility_defaults,omitempty" yaml:"visibility_defaults"`
}

// Column is a registered field. Parent and Children are arena references.
type Column struct {
	Ref       Ref
	ID        string // composite "target:dotted.path"
	Key       string // server id, last path segment
	Path      string
	Title     string
	Type      Type
	Target    Target
	Parent    Ref
	Children  []Ref
	Orderable bool
	Help      string
	Visible   Visibility
}

// IsGroup reports whether the column is a group header.
func (c *Column) IsGroup() bool { return len(c.Children) > 0 }

// FilterTarget describes one filterable leaf column.
type FilterTarget struct {
	ColumnID string
	Title    string
	Type     Type
	Target   Target
}

// Registry owns every column of every target.
type Registry struct {
	mu        sync.RWMutex
	arena     []Column
	byID      map[string]Ref
	targets   []Target
	order     map[Target][]Ref
	schemas   map[Target]*Schema
	renderers *RendererRegistry
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. A nil renderer registry falls back to
// DefaultRenderers.
func NewRegistry(renderers *RendererRegistry, logger *slog.Logger) *Registry {
	if renderers == nil {
		renderers = DefaultRenderers()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{renderers: renderers, logger: logger}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.arena = nil
	r.byID = make(map[string]Ref)
	r.targets = nil
	r.order = make(map[Target][]Ref)
	r.schemas = make(map[Target]*Schema)
}

type rawKey struct {
	target Target
	id     string
}

// Load replaces the registry contents with the given server column list.
// An empty list leaves a single default target with no columns.
func (r *Registry) Load(raw []RawColumn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reset()

	refs := make(map[rawKey]Ref, len(raw))
	for _, rc := range raw {
		target := ParseTarget(rc.Target)
		if _, seen := r.order[target]; !seen {
			r.targets = append(r.targets, target)
			r.order[target] = nil
		}

		key := rawKey{target: target, id: rc.ID}
		if _, dup := refs[key]; dup {
			r.logger.Warn("duplicate column ignored", "target", target, "id", rc.ID)
			continue
		}

		orderable := true
		if rc.Orderable != nil {
			orderable = *rc.Orderable
		}
		visible := Visibility{Explore: true, Labeling: true}
		if rc.VisibilityDefaults != nil {
			visible = *rc.VisibilityDefaults
		}

		ref := Ref(len(r.arena))
		r.arena = append(r.arena, Column{
			Ref:       ref,
			Key:       rc.ID,
			Title:     rc.Title,
			Type:      ParseType(rc.Type),
			Target:    target,
			Parent:    NoRef,
			Orderable: orderable,
			Help:      rc.Help,
			Visible:   visible,
		})
		refs[key] = ref
		r.order[target] = append(r.order[target], ref)
	}

	// Link parents and children once every column has a slot.
	for i, rc := range raw {
		key := rawKey{target: ParseTarget(rc.Target), id: rc.ID}
		ref, ok := refs[key]
		if !ok {
			continue
		}
		col := &r.arena[ref]
		if rc.Parent != "" {
			if p, ok := refs[rawKey{target: col.Target, id: rc.Parent}]; ok && p != ref {
				col.Parent = p
				r.addChild(p, ref)
			} else {
				r.logger.Debug("column parent not found", "column", rc.ID, "parent", rc.Parent, "index", i)
			}
		}
		for _, childID := range rc.Children {
			c, ok := refs[rawKey{target: col.Target, id: childID}]
			if !ok || c == ref {
				continue
			}
			if r.arena[c].Parent == NoRef {
				r.arena[c].Parent = ref
			}
			r.addChild(ref, c)
		}
	}

	titler := cases.Title(language.English)
	for i := range r.arena {
		col := &r.arena[i]
		col.Path = r.pathOf(Ref(i))
		col.ID = CompositeID(col.Target, col.Path)
		if col.Title == "" {
			col.Title = titler.String(strings.ReplaceAll(col.Key, "_", " "))
		}
		if col.IsGroup() {
			col.Orderable = false
		}
		r.byID[col.ID] = Ref(i)
	}

	if len(r.targets) == 0 {
		r.targets = []Target{DefaultTarget}
		r.order[DefaultTarget] = nil
	}

	for _, t := range r.targets {
		r.schemas[t] = r.compileSchema(t)
	}
}

func (r *Registry) addChild(parent, child Ref) {
	for _, c := range r.arena[parent].Children {
		if c == child {
			return
		}
	}
	r.arena[parent].Children = append(r.arena[parent].Children, child)
}

// pathOf walks parent refs to build the dotted path. Cycles are cut at the
// first repeated column.
func (r *Registry) pathOf(ref Ref) string {
	var parts []string
	seen := make(map[Ref]bool)
	for cur := ref; cur != NoRef && !seen[cur]; cur = r.arena[cur].Parent {
		seen[cur] = true
		parts = append(parts, r.arena[cur].Key)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// Targets returns the loaded targets in declaration order.
func (r *Registry) Targets() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Target{}, r.targets...)
}

// Get returns the column at ref.
func (r *Registry) Get(ref Ref) (Column, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ref < 0 || int(ref) >= len(r.arena) {
		return Column{}, false
	}
	return r.copyOf(ref), true
}

// ByID resolves a composite column ID.
func (r *Registry) ByID(id string) (Column, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.byID[id]
	if !ok {
		return Column{}, false
	}
	return r.copyOf(ref), true
}

// Parent returns the group header of c.
func (r *Registry) Parent(c Column) (Column, bool) {
	return r.Get(c.Parent)
}

// Children returns the columns grouped under c.
func (r *Registry) Children(c Column) []Column {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Column, 0, len(c.Children))
	for _, ref := range c.Children {
		if ref >= 0 && int(ref) < len(r.arena) {
			out = append(out, r.copyOf(ref))
		}
	}
	return out
}

// Columns returns every column of the target in declaration order.
func (r *Registry) Columns(target Target) []Column {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := r.order[target]
	out := make([]Column, 0, len(refs))
	for _, ref := range refs {
		out = append(out, r.copyOf(ref))
	}
	return out
}

// Leaves returns the non-group columns of the target.
func (r *Registry) Leaves(target Target) []Column {
	var out []Column
	for _, c := range r.Columns(target) {
		if !c.IsGroup() {
			out = append(out, c)
		}
	}
	return out
}

// IsFilterable reports whether a column may carry a filter: it must be a leaf
// and its renderer must not opt out.
func (r *Registry) IsFilterable(c Column) bool {
	if c.IsGroup() {
		return false
	}
	info, ok := r.renderers.Get(string(c.Type))
	return !ok || !info.DisableFilter
}

// AvailableFilters returns one entry per filterable leaf column across all
// targets.
func (r *Registry) AvailableFilters() []FilterTarget {
	var out []FilterTarget
	for _, t := range r.Targets() {
		for _, c := range r.Leaves(t) {
			if !r.IsFilterable(c) {
				continue
			}
			out = append(out, FilterTarget{ColumnID: c.ID, Title: r.displayTitle(c), Type: c.Type, Target: c.Target})
		}
	}
	return out
}

// displayTitle prefixes grouped columns with their group title.
func (r *Registry) displayTitle(c Column) string {
	if p, ok := r.Parent(c); ok {
		return p.Title + " / " + c.Title
	}
	return c.Title
}

// DefaultHidden returns the columns hidden by default for the target, derived
// from server visibility defaults.
func (r *Registry) DefaultHidden(target Target) HiddenColumns {
	hidden := HiddenColumns{Explore: []string{}, Labeling: []string{}}
	for _, c := range r.Leaves(target) {
		if !c.Visible.Explore {
			hidden.Explore = append(hidden.Explore, c.ID)
		}
		if !c.Visible.Labeling {
			hidden.Labeling = append(hidden.Labeling, c.ID)
		}
	}
	return hidden
}

// Renderers returns the renderer registry consulted for filterability.
func (r *Registry) Renderers() *RendererRegistry { return r.renderers }

// Schema returns the compiled record schema for the target.
func (r *Registry) Schema(target Target) *Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.schemas[target]; ok {
		return s
	}
	return &Schema{Target: target, index: map[string]int{}}
}

func (r *Registry) copyOf(ref Ref) Column {
	c := r.arena[ref]
	c.Children = append([]Ref(nil), c.Children...)
	return c
}

package filters

import (
	"github.com/leapstack-labs/datamanager/internal/columns"
)

// FilterType is one entry of the available-filters list: a filterable leaf
// column and its operator family.
type FilterType struct {
	ColumnID   string
	Title      string
	ColumnType columns.Type
	Family     Family
	Target     columns.Target
}

// Catalog derives the available filter types from a column registry and
// applies per-context operator exclusions.
type Catalog struct {
	registry   *columns.Registry
	exclusions Exclusions
	context    string
}

// CatalogOptions configures a Catalog.
type CatalogOptions struct {
	// Context selects which exclusion list applies.
	Context    string
	Exclusions Exclusions
}

// NewCatalog creates a catalog bound to reg.
func NewCatalog(reg *columns.Registry, opts CatalogOptions) *Catalog {
	return &Catalog{registry: reg, exclusions: opts.Exclusions, context: opts.Context}
}

// Registry returns the column registry the catalog reads.
func (c *Catalog) Registry() *columns.Registry { return c.registry }

// Types returns every available filter type. The list is recomputed from the
// registry so it tracks reloads.
func (c *Catalog) Types() []FilterType {
	targets := c.registry.AvailableFilters()
	out := make([]FilterType, 0, len(targets))
	for _, ft := range targets {
		out = append(out, FilterType{
			ColumnID:   ft.ColumnID,
			Title:      ft.Title,
			ColumnType: ft.Type,
			Family:     FamilyOf(ft.Type),
			Target:     ft.Target,
		})
	}
	return out
}

// ForTarget returns the filter types of one target.
func (c *Catalog) ForTarget(t columns.Target) []FilterType {
	var out []FilterType
	for _, ft := range c.Types() {
		if ft.Target == t {
			out = append(out, ft)
		}
	}
	return out
}

// Lookup resolves the filter type of a column.
func (c *Catalog) Lookup(columnID string) (FilterType, bool) {
	col, ok := c.registry.ByID(columnID)
	if !ok || !c.registry.IsFilterable(col) {
		return FilterType{}, false
	}
	title := col.Title
	if p, ok := c.registry.Parent(col); ok {
		title = p.Title + " / " + col.Title
	}
	return FilterType{
		ColumnID:   col.ID,
		Title:      title,
		ColumnType: col.Type,
		Family:     FamilyOf(col.Type),
		Target:     col.Target,
	}, true
}

// First returns the first available filter type of the target.
func (c *Catalog) First(t columns.Target) (FilterType, bool) {
	types := c.ForTarget(t)
	if len(types) == 0 {
		return FilterType{}, false
	}
	return types[0], true
}

// Operators returns the operators visible for ft.
func (c *Catalog) Operators(ft FilterType) []Operator {
	return OperatorsFor(ft.Family, c.exclusions, c.context)
}

// Operator resolves one operator key for ft.
func (c *Catalog) Operator(ft FilterType, key string) (Operator, bool) {
	for _, op := range c.Operators(ft) {
		if op.Key == key {
			return op, true
		}
	}
	return Operator{}, false
}

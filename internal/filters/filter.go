package filters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDebounce is the delay between the last value edit and its persist.
const DefaultDebounce = 300 * time.Millisecond

// itemPrefix prefixes column IDs in persisted filter items.
const itemPrefix = "filter:"

// Errors returned by filter mutators.
var (
	ErrUnknownColumn   = errors.New("column is not filterable")
	ErrUnknownOperator = errors.New("operator not available for column")
)

// Saver persists the filter set that owns a filter, usually the view.
type Saver interface {
	SaveFilters(ctx context.Context) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context) error

// SaveFilters implements Saver.
func (f SaverFunc) SaveFilters(ctx context.Context) error { return f(ctx) }

// Item is the persisted form of a filter.
type Item struct {
	Filter   string `json:"filter" yaml:"filter"`
	Operator string `json:"operator" yaml:"operator"`
	Value    Value  `json:"value" yaml:"value"`
	Type     string `json:"type" yaml:"type"`
}

// ColumnID strips the item prefix.
func (i Item) ColumnID() string { return strings.TrimPrefix(i.Filter, itemPrefix) }

// Options configures a Filter.
type Options struct {
	// Debounce delays persists triggered by SetValueDebounced. Zero uses
	// DefaultDebounce; negative disables the delay.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Filter is one predicate row of a view.
type Filter struct {
	mu       sync.Mutex
	id       string
	columnID string
	operator string
	value    Value

	catalog *Catalog
	saver   Saver

	saving   bool
	wasValid bool

	debounce time.Duration
	timer    *time.Timer
	logger   *slog.Logger
}

// New creates a filter on ft using its first operator and that operator's
// default value.
func New(catalog *Catalog, saver Saver, ft FilterType, opts Options) *Filter {
	f := newFilter(catalog, saver, opts)
	f.columnID = ft.ColumnID
	if ops := catalog.Operators(ft); len(ops) > 0 {
		f.operator = ops[0].Key
		f.value = ops[0].DefaultValue()
	}
	return f
}

// FromItem restores a persisted filter. Items on unknown columns are rejected.
func FromItem(catalog *Catalog, saver Saver, item Item, opts Options) (*Filter, error) {
	ft, ok := catalog.Lookup(item.ColumnID())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, item.ColumnID())
	}
	op, ok := catalog.Operator(ft, item.Operator)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownOperator, item.Operator, ft.ColumnID)
	}
	f := newFilter(catalog, saver, opts)
	f.columnID = ft.ColumnID
	f.operator = op.Key
	f.value = item.Value.Coerce(op.ValueType)
	f.wasValid = f.validLocked()
	return f, nil
}

func newFilter(catalog *Catalog, saver Saver, opts Options) *Filter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := opts.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	return &Filter{
		id:       uuid.NewString(),
		catalog:  catalog,
		saver:    saver,
		debounce: debounce,
		logger:   logger,
	}
}

// ID returns the client-side filter identifier.
func (f *Filter) ID() string { return f.id }

// ColumnID returns the bound column.
func (f *Filter) ColumnID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.columnID
}

// Type resolves the bound column's filter type through the registry.
func (f *Filter) Type() (FilterType, bool) {
	return f.catalog.Lookup(f.ColumnID())
}

// Operator returns the current operator key.
func (f *Filter) Operator() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.operator
}

// Value returns the current operand.
func (f *Filter) Value() Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// IsValid reports whether the operand is complete enough to persist.
func (f *Filter) IsValid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validLocked()
}

func (f *Filter) validLocked() bool {
	if f.operator == "" {
		return false
	}
	return f.value.Defined()
}

// SetFilter rebinds the filter to another column. When the column family
// changes, the operator resets to the first one available and the value to
// its default. With save set, the filter is persisted afterwards.
func (f *Filter) SetFilter(ctx context.Context, columnID string, save bool) error {
	next, ok := f.catalog.Lookup(columnID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, columnID)
	}

	f.mu.Lock()
	prev, hadPrev := f.catalog.Lookup(f.columnID)
	f.columnID = next.ColumnID
	if !hadPrev || prev.Family != next.Family {
		ops := f.catalog.Operators(next)
		if len(ops) > 0 {
			f.operator = ops[0].Key
			f.value = ops[0].DefaultValue()
		} else {
			f.operator = ""
			f.value = Value{Type: ValueSingle}
		}
	}
	f.mu.Unlock()

	if save {
		return f.Save(ctx, false)
	}
	return nil
}

// SetOperator switches the operator. The value resets only when the new
// operator expects a different value shape. The filter is persisted
// afterwards.
func (f *Filter) SetOperator(ctx context.Context, key string) error {
	ft, ok := f.Type()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, f.ColumnID())
	}
	next, ok := f.catalog.Operator(ft, key)
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnknownOperator, key, ft.ColumnID)
	}

	f.mu.Lock()
	prev, hadPrev := f.catalog.Operator(ft, f.operator)
	if !hadPrev || prev.ValueType != next.ValueType {
		f.value = next.DefaultValue()
	}
	f.operator = next.Key
	f.mu.Unlock()

	return f.Save(ctx, false)
}

// SetValue assigns the operand locally. It does not persist.
func (f *Filter) SetValue(v Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}

// SetValueDebounced assigns the operand and schedules a persist once edits
// settle for the debounce interval.
func (f *Filter) SetValueDebounced(v Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v

	if f.debounce < 0 {
		go f.persistInBackground()
		return
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.debounce, f.persistInBackground)
}

func (f *Filter) persistInBackground() {
	if err := f.Save(context.Background(), false); err != nil {
		f.logger.Warn("debounced filter save failed", "filter", f.id, "error", err)
	}
}

// Flush cancels a pending debounced persist and saves immediately.
func (f *Filter) Flush(ctx context.Context) error {
	f.mu.Lock()
	pending := f.timer != nil && f.timer.Stop()
	f.timer = nil
	f.mu.Unlock()
	if !pending {
		return nil
	}
	return f.Save(ctx, false)
}

// Close stops any pending debounced persist.
func (f *Filter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// Save persists through the owning saver when the filter is valid or force is
// set. A filter that turns invalid is persisted once more so the server drops
// it. A save already in flight suppresses concurrent calls.
func (f *Filter) Save(ctx context.Context, force bool) error {
	f.mu.Lock()
	if f.saving {
		f.mu.Unlock()
		f.logger.Debug("filter save already in flight", "filter", f.id)
		return nil
	}
	valid := f.validLocked()
	if !valid && !force && !f.wasValid {
		f.mu.Unlock()
		return nil
	}
	f.saving = true
	f.mu.Unlock()

	err := f.saver.SaveFilters(ctx)

	f.mu.Lock()
	f.saving = false
	if err == nil {
		f.wasValid = valid
	}
	f.mu.Unlock()
	return err
}

// Item returns the persisted form.
func (f *Filter) Item() Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := Item{
		Filter:   itemPrefix + f.columnID,
		Operator: f.operator,
		Value:    f.value,
	}
	if col, ok := f.catalog.Registry().ByID(f.columnID); ok {
		item.Type = string(col.Type)
	}
	return item
}

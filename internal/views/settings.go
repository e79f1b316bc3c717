package views

import (
	"context"
	"strconv"
	"sync"
)

// LocalSettings persists client-local preferences.
type LocalSettings interface {
	Setting(ctx context.Context, key string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, key, value string) error
}

// Setting keys of the sidebar flags.
const (
	SettingSidebarEnabled = "dm.sidebar_enabled"
	SettingSidebarVisible = "dm.sidebar_visible"
)

// SidebarEnabled reports whether the labeling sidebar is enabled.
func (s *Store) SidebarEnabled(ctx context.Context) bool {
	return s.flag(ctx, SettingSidebarEnabled)
}

// SetSidebarEnabled persists the sidebar enablement.
func (s *Store) SetSidebarEnabled(ctx context.Context, on bool) error {
	return s.settings.SetSetting(ctx, SettingSidebarEnabled, strconv.FormatBool(on))
}

// SidebarVisible reports whether the labeling sidebar is shown.
func (s *Store) SidebarVisible(ctx context.Context) bool {
	return s.flag(ctx, SettingSidebarVisible)
}

// SetSidebarVisible persists the sidebar visibility.
func (s *Store) SetSidebarVisible(ctx context.Context, on bool) error {
	return s.settings.SetSetting(ctx, SettingSidebarVisible, strconv.FormatBool(on))
}

// flag reads a boolean setting. Missing or unreadable values are false.
func (s *Store) flag(ctx context.Context, key string) bool {
	raw, ok, err := s.settings.Setting(ctx, key)
	if err != nil {
		s.logger.Warn("setting unreadable", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	on, err := strconv.ParseBool(raw)
	return err == nil && on
}

type memorySettings struct {
	mu     sync.RWMutex
	values map[string]string
}

func newMemorySettings() *memorySettings {
	return &memorySettings{values: make(map[string]string)}
}

func (m *memorySettings) Setting(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memorySettings) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

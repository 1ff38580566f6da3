package camera

import (
	"fmt"
	"sync"
)

// Manager holds the current camera configuration and applies updates.
type Manager struct {
	config Config
	mu     sync.RWMutex

	// OnConfigChange applies a new config to the device.
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager starting from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// Config returns the current configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig validates and applies cfg.
func (m *Manager) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("camera: validation failed: %v", errs)
	}

	m.mu.Lock()
	m.config = cfg
	callback := m.OnConfigChange
	m.mu.Unlock()

	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("camera: apply config: %w", err)
		}
	}
	return nil
}

// ApplyPreset switches to a named preset.
func (m *Manager) ApplyPreset(name string) error {
	cfg, ok := Presets()[name]
	if !ok {
		return fmt.Errorf("camera: unknown preset %q", name)
	}
	return m.SetConfig(cfg)
}

package config

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// ConfigObserver is notified after a new config has been accepted.
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// ObserverFunc adapts a plain function to ConfigObserver.
type ObserverFunc func(cfg *Config)

func (f ObserverFunc) OnConfigUpdate(cfg *Config) { f(cfg) }

// LiveConfig holds the active config and fans out accepted updates.
// Readers never block writers.
type LiveConfig struct {
	current     atomic.Pointer[Config]
	lastUpdated atomic.Int64

	writeMu sync.Mutex

	obsMu     sync.RWMutex
	observers []ConfigObserver
}

// NewLiveConfig creates a LiveConfig seeded with initial (Defaults if nil).
func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	lc := &LiveConfig{}
	lc.current.Store(initial.Clone())
	lc.lastUpdated.Store(time.Now().UnixNano())
	return lc
}

// Get returns a copy of the current config.
func (lc *LiveConfig) Get() *Config {
	return lc.current.Load().Clone()
}

// GetDirect returns the shared current config. Callers must not modify it.
func (lc *LiveConfig) GetDirect() *Config {
	return lc.current.Load()
}

// Update validates and installs cfg, then notifies observers if anything
// changed. It returns the top-level sections that differ from the
// previous config.
func (lc *LiveConfig) Update(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, nil
	}
	if result := cfg.Validate(); !result.Valid {
		return nil, &ConfigValidationError{Errors: result.Errors}
	}

	lc.writeMu.Lock()
	prev := lc.current.Load()
	next := cfg.Clone()
	changed := ChangedSections(prev, next)
	if len(changed) > 0 {
		lc.current.Store(next)
		lc.lastUpdated.Store(time.Now().UnixNano())
	}
	lc.writeMu.Unlock()

	if len(changed) > 0 {
		lc.notifyObservers(next)
	}
	return changed, nil
}

// UpdatePartial applies fn to a copy of the current config and installs
// the result.
func (lc *LiveConfig) UpdatePartial(fn func(*Config)) ([]string, error) {
	next := lc.Get()
	fn(next)
	return lc.Update(next)
}

// AddObserver registers obs for future updates.
func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

// RemoveObserver unregisters obs.
func (lc *LiveConfig) RemoveObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	for i, o := range lc.observers {
		if o == obs {
			lc.observers = append(lc.observers[:i], lc.observers[i+1:]...)
			return
		}
	}
}

func (lc *LiveConfig) notifyObservers(cfg *Config) {
	lc.obsMu.RLock()
	observers := append([]ConfigObserver(nil), lc.observers...)
	lc.obsMu.RUnlock()

	for _, obs := range observers {
		obs.OnConfigUpdate(cfg.Clone())
	}
}

// LastUpdated returns when a changed config was last installed.
func (lc *LiveConfig) LastUpdated() time.Time {
	return time.Unix(0, lc.lastUpdated.Load())
}

// ChangedSections lists the json names of the top-level sections that
// differ between a and b.
func ChangedSections(a, b *Config) []string {
	if a == nil || b == nil {
		return nil
	}
	var changed []string
	va, vb := reflect.ValueOf(a).Elem(), reflect.ValueOf(b).Elem()
	t := va.Type()
	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			continue
		}
		name := t.Field(i).Tag.Get("json")
		if name == "" || name == "-" {
			name = t.Field(i).Name
		}
		changed = append(changed, name)
	}
	return changed
}

// ConfigValidationError is returned when config validation fails.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}

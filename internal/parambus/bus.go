package parambus

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrWrongType        = errors.New("parameter has unexpected type")
)

// Getter pulls the current value from its source of truth.
type Getter func() (any, error)

// Setter applies a written value.
type Setter func(value any) error

type channel struct {
	getter  Getter
	setters []Setter
}

// Bus maps parameter names to one getter and an ordered chain of setters.
// Values are never cached: every Get runs the getter.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]*channel
}

func New() *Bus {
	return &Bus{channels: make(map[string]*channel)}
}

func (b *Bus) channelLocked(name string) *channel {
	ch, ok := b.channels[name]
	if !ok {
		ch = &channel{}
		b.channels[name] = ch
	}
	return ch
}

// Publish registers the getter for name, replacing any previous one.
func (b *Bus) Publish(name string, getter Getter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channelLocked(name).getter = getter
}

// Subscribe appends setter to the chain for name.
func (b *Bus) Subscribe(name string, setter Setter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := b.channelLocked(name)
	ch.setters = append(ch.setters, setter)
}

// Get runs the getter for name. Getter errors are returned unchanged.
func (b *Bus) Get(name string) (any, error) {
	b.mu.RLock()
	var getter Getter
	if ch, ok := b.channels[name]; ok {
		getter = ch.getter
	}
	b.mu.RUnlock()
	if getter == nil {
		return nil, fmt.Errorf("get %q: %w", name, ErrUnknownParameter)
	}
	return getter()
}

// Set runs every setter for name in registration order with value. The first
// failing setter stops the chain; setters that already ran are not undone.
func (b *Bus) Set(name string, value any) error {
	b.mu.RLock()
	var setters []Setter
	if ch, ok := b.channels[name]; ok {
		setters = append(setters, ch.setters...)
	}
	b.mu.RUnlock()
	if len(setters) == 0 {
		return fmt.Errorf("set %q: %w", name, ErrUnknownParameter)
	}
	for i, fn := range setters {
		if err := fn(value); err != nil {
			return fmt.Errorf("set %q (setter %d of %d): %w", name, i+1, len(setters), err)
		}
	}
	return nil
}

// Names lists every registered parameter, sorted.
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.channels))
	for name := range b.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GetFloat reads name and converts any numeric value to float64.
func (b *Bus) GetFloat(name string) (float64, error) {
	v, err := b.Get(name)
	if err != nil {
		return 0, err
	}
	f, err := Float(v)
	if err != nil {
		return 0, fmt.Errorf("get %q: %w", name, err)
	}
	return f, nil
}

func (b *Bus) GetBool(name string) (bool, error) {
	v, err := b.Get(name)
	if err != nil {
		return false, err
	}
	flag, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("get %q: %w: %T", name, ErrWrongType, v)
	}
	return flag, nil
}

// Float converts a written value to float64 for setters that take numbers.
func Float(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrWrongType, v)
	}
}

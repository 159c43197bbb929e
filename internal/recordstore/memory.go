package recordstore

import (
	"context"
	"strconv"
	"sync"

	"github.com/dogdollars/loyalty/internal/errs"
)

// Memory is an in-process Client for tests and local runs. When a non-empty expectedVersion
// does not match, Set returns errs.ErrConflict.
type Memory struct {
	mu    sync.Mutex
	data  map[string]map[string]Attribute
	clock int64

	getHook func(customerID string) error
	setHook func(customerID, key, value string) error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]Attribute)}
}

// Get implements Client.
func (m *Memory) Get(ctx context.Context, customerID string) (map[string]Attribute, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	hook := m.getHook
	m.mu.Unlock()
	if hook != nil {
		if err := hook(customerID); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Attribute, len(m.data[customerID]))
	for k, v := range m.data[customerID] {
		out[k] = v
	}
	return out, nil
}

// Set implements Client.
func (m *Memory) Set(ctx context.Context, customerID, key, value, expectedVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	hook := m.setHook
	m.mu.Unlock()
	if hook != nil {
		if err := hook(customerID, key, value); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	attrs, ok := m.data[customerID]
	if !ok {
		attrs = make(map[string]Attribute)
		m.data[customerID] = attrs
	}
	if expectedVersion != "" {
		if cur, ok := attrs[key]; ok && cur.Version != expectedVersion {
			return "", errs.ErrConflict.WithContext("customer_id", customerID, "key", key)
		}
	}
	m.clock++
	version := strconv.FormatInt(m.clock, 10)
	attrs[key] = Attribute{Key: key, Value: value, Version: version}
	return version, nil
}

// Value returns the raw stored value (test helper).
func (m *Memory) Value(customerID, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.data[customerID][key]
	return a.Value, ok
}

// Put seeds a value without hooks (test helper).
func (m *Memory) Put(customerID, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[customerID] == nil {
		m.data[customerID] = make(map[string]Attribute)
	}
	m.clock++
	m.data[customerID][key] = Attribute{Key: key, Value: value, Version: strconv.FormatInt(m.clock, 10)}
}

// SetGetHook installs a hook run before every Get; a non-nil return fails the call.
func (m *Memory) SetGetHook(h func(customerID string) error) {
	m.mu.Lock()
	m.getHook = h
	m.mu.Unlock()
}

// SetSetHook installs a hook run before every Set; a non-nil return fails the call.
func (m *Memory) SetSetHook(h func(customerID, key, value string) error) {
	m.mu.Lock()
	m.setHook = h
	m.mu.Unlock()
}

package promo

import (
	"context"
	"sync"
)

// Memory is an in-process Engine for tests and local runs.
type Memory struct {
	mu      sync.Mutex
	created map[string]CodeRequest
	calls   int
	failFn  func(req CodeRequest) error
}

// NewMemory creates an empty engine.
func NewMemory() *Memory {
	return &Memory{created: make(map[string]CodeRequest)}
}

// FailWhen installs a predicate consulted on every call; a non-nil result fails the call.
func (m *Memory) FailWhen(fn func(req CodeRequest) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFn = fn
}

// CreateCode implements Engine.
func (m *Memory) CreateCode(ctx context.Context, req CodeRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failFn != nil {
		if err := m.failFn(req); err != nil {
			return "", err
		}
	}
	if _, ok := m.created[req.Code]; !ok {
		m.created[req.Code] = req
	}
	return req.Code, nil
}

// Created reports whether code exists.
func (m *Memory) Created(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.created[code]
	return ok
}

// Count returns the number of distinct codes created.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

// Calls returns the number of CreateCode calls, including failed and repeated ones.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package nats

import (
	"sync"

	"github.com/nats-io/nats.go"
)

// MockClientNATSConnection is an in-memory ClientNATSConnection for tests
type MockClientNATSConnection struct {
	mu          sync.RWMutex
	subscribers map[string][]nats.MsgHandler
	published   []*nats.Msg
	connected   bool
	errors      map[string]error
	closeCount  int
}

func NewMockClientNATSConnection() *MockClientNATSConnection {
	return &MockClientNATSConnection{
		subscribers: make(map[string][]nats.MsgHandler),
		connected:   true,
		errors:      make(map[string]error),
	}
}

func (m *MockClientNATSConnection) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, nats.ErrConnectionClosed
	}

	if err, exists := m.errors[subject]; exists {
		return nil, err
	}

	m.subscribers[subject] = append(m.subscribers[subject], handler)
	return &nats.Subscription{Subject: subject}, nil
}

// Publish records the message and delivers it synchronously to subscribers
func (m *MockClientNATSConnection) Publish(subject string, data []byte) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nats.ErrConnectionClosed
	}
	if err, exists := m.errors[subject]; exists {
		m.mu.Unlock()
		return err
	}

	msg := &nats.Msg{Subject: subject, Data: append([]byte(nil), data...)}
	m.published = append(m.published, msg)
	handlers := append([]nats.MsgHandler(nil), m.subscribers[subject]...)
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(msg)
	}
	return nil
}

// Deliver simulates a message arriving from another client
func (m *MockClientNATSConnection) Deliver(subject string, data []byte) {
	m.mu.RLock()
	handlers := append([]nats.MsgHandler(nil), m.subscribers[subject]...)
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(&nats.Msg{Subject: subject, Data: data})
	}
}

// Published returns every message published so far
func (m *MockClientNATSConnection) Published() []*nats.Msg {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*nats.Msg(nil), m.published...)
}

// Subjects returns the subjects with at least one subscriber
func (m *MockClientNATSConnection) Subjects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subjects := make([]string, 0, len(m.subscribers))
	for subject := range m.subscribers {
		subjects = append(subjects, subject)
	}
	return subjects
}

func (m *MockClientNATSConnection) SetError(subject string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[subject] = err
}

func (m *MockClientNATSConnection) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.closeCount++
}

// CloseCount returns how many times Close was called
func (m *MockClientNATSConnection) CloseCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closeCount
}

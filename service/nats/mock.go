package nats

import (
	"context"
	"strings"
	"sync"

	"github.com/brojonat/idproperty/service/txn"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	events       []*ActionEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishAction records the event and returns any configured error.
func (m *MockPublisher) PublishAction(ctx context.Context, rec txn.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.events = append(m.events, FromRecord(rec))
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of all published events.
func (m *MockPublisher) GetPublishedEvents() []*ActionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*ActionEvent, len(m.events))
	copy(events, m.events)
	return events
}

// GetPublishedEventsForAccount returns events published for account.
func (m *MockPublisher) GetPublishedEventsForAccount(account string) []*ActionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []*ActionEvent
	for _, e := range m.events {
		if strings.EqualFold(e.Account, account) {
			events = append(events, e)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on PublishAction.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

package queue

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is an in-memory Client for testing consumers without SQS.
type MockClient struct {
	mu       sync.Mutex
	queues   map[string][]Message
	received map[string]string // receipt -> queue name
	seq      int

	// SendErr and ReceiveErr, when set, fail the next matching call.
	SendErr    error
	ReceiveErr error
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates an empty in-memory queue client.
func NewMockClient() *MockClient {
	return &MockClient{
		queues:   make(map[string][]Message),
		received: make(map[string]string),
	}
}

// Send implements Client.
func (m *MockClient) Send(_ context.Context, queueName string, bodies []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		err := m.SendErr
		m.SendErr = nil
		return err
	}
	for _, body := range bodies {
		m.seq++
		m.queues[queueName] = append(m.queues[queueName], Message{
			ID:      fmt.Sprintf("msg-%04d", m.seq),
			Body:    body,
			Receipt: fmt.Sprintf("receipt-%04d", m.seq),
		})
	}
	return nil
}

// Receive implements Client. Messages stay queued until deleted.
func (m *MockClient) Receive(_ context.Context, queueName string, max int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReceiveErr != nil {
		err := m.ReceiveErr
		m.ReceiveErr = nil
		return nil, err
	}
	pending := m.queues[queueName]
	if len(pending) > max {
		pending = pending[:max]
	}
	messages := append([]Message(nil), pending...)
	for _, msg := range messages {
		m.received[msg.Receipt] = queueName
	}
	return messages, nil
}

// Delete implements Client.
func (m *MockClient) Delete(_ context.Context, queueName string, receipt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.queues[queueName]
	for i, msg := range pending {
		if msg.Receipt == receipt {
			m.queues[queueName] = append(pending[:i:i], pending[i+1:]...)
			delete(m.received, receipt)
			return nil
		}
	}
	return nil
}

// Depth returns how many messages are currently queued.
func (m *MockClient) Depth(queueName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[queueName])
}

// Package memory keeps run summaries in process, encoded the way the Pub/Sub
// publisher puts them on the wire. It backs tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
)

// Message is one recorded publish.
type Message struct {
	ID         string
	Attributes map[string]string
	// Data is the JSON encoding of the published payload.
	Data []byte
}

// Publisher records messages and can be told to fail.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	failWith error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err; nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.failWith = err
	p.mu.Unlock()
}

// Publish encodes payload and records it under a sequential id.
func (p *Publisher) Publish(ctx context.Context, attrs map[string]string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	msg := Message{Attributes: make(map[string]string, len(attrs)), Data: data}
	for k, v := range attrs {
		msg.Attributes[k] = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return "", p.failWith
	}
	msg.ID = fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns a snapshot of the recorded messages.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Decode unmarshals the data of message i into v.
func (p *Publisher) Decode(i int, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.messages) {
		return fmt.Errorf("message %d of %d", i, len(p.messages))
	}
	return json.Unmarshal(p.messages[i].Data, v)
}

// Close is a no-op.
func (p *Publisher) Close() error { return nil }

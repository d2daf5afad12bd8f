package mqtt

import (
	"sync"

	"recycle-bin-backend/internal/events"
)

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Topics contains the topic of every published message.
	Topics []string

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	prefix string
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher(prefix string) *FakePublisher {
	return &FakePublisher{prefix: prefix}
}

// Publish records the event.
func (f *FakePublisher) Publish(event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Topics = append(f.Topics, Topic(f.prefix, event.BinID))
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

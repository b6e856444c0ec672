// Package events fans out workspace change notifications to SSE clients.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
)

const (
	EventWorkspaceCreate = "workspace.create"
	EventWorkspaceDelete = "workspace.delete"
	EventCreate          = "create"
	EventDelete          = "delete"
	EventSnapshot        = "snapshot"
)

// Event describes one change inside the panel.
type Event struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"server_id"`
	Path        string `json:"path,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Actor       string `json:"actor,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(Event)
}

// Broadcaster manages SSE subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish sends an event to all subscribers. Slow subscribers miss events
// rather than block the publisher.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Discard drops every event. Used where no subscribers exist, e.g. the CLI.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}

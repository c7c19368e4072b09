// Package notify defines the channel adapter boundary for escalation
// dispatch. Delivery is delegated; the engine only records outcomes.
package notify

import (
	"context"
	"sort"
	"sync"
)

// Message is one escalation notification.
type Message struct {
	AlertID string `json:"alert_id"`
	Level   int    `json:"level"`
	Channel string `json:"channel"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// RecipientConfig carries channel-specific addressing (webhook URL,
// phone number, mail target). Opaque to the engine.
type RecipientConfig map[string]string

// Dispatcher delivers a message over one channel.
type Dispatcher interface {
	Send(ctx context.Context, rc RecipientConfig, msg Message) error
}

// DispatcherFunc adapts a plain function to Dispatcher.
type DispatcherFunc func(ctx context.Context, rc RecipientConfig, msg Message) error

// Send implements Dispatcher.
func (f DispatcherFunc) Send(ctx context.Context, rc RecipientConfig, msg Message) error {
	return f(ctx, rc, msg)
}

type entry struct {
	d  Dispatcher
	rc RecipientConfig
}

// Registry maps channel names (email, sms, webhook, push) to their
// configured dispatchers.
type Registry struct {
	mu sync.RWMutex
	m  map[string]entry
}

// NewRegistry creates an empty dispatcher registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]entry)}
}

// Register binds a channel name to a dispatcher and its recipient config.
func (r *Registry) Register(channel string, d Dispatcher, rc RecipientConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[channel] = entry{d: d, rc: rc}
}

// Get returns the dispatcher and recipient config for a channel.
func (r *Registry) Get(channel string) (Dispatcher, RecipientConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.m[channel]
	return e.d, e.rc, ok
}

// Channels lists registered channel names, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for c := range r.m {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

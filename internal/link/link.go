package link

import (
	"context"
	"errors"
	"sync"

	"github.com/ubangi-pay/ubangi_switch/internal/packet"
)

// ErrNoLink indicates no outbound transport is registered for an account.
var ErrNoLink = errors.New("no link for account")

// Link sends a prepare packet to one counterparty and waits for its
// definitive response. An error return means the transport itself failed
// (timeout, connection error); a Reject response travels back as a normal
// protocol outcome with a nil error.
type Link interface {
	SendPacket(ctx context.Context, p packet.Prepare) (packet.Response, error)
}

// Registry maps account ids to their outbound links. Explicitly constructed
// and handed to the dispatcher; tests build isolated instances.
type Registry struct {
	mu    sync.RWMutex
	links map[string]Link
}

// NewRegistry builds an empty link registry.
func NewRegistry() *Registry {
	return &Registry{links: make(map[string]Link)}
}

// Register installs the link for an account, replacing any previous one.
func (r *Registry) Register(accountID string, l Link) {
	r.mu.Lock()
	r.links[accountID] = l
	r.mu.Unlock()
}

// Get returns the link for an account.
func (r *Registry) Get(accountID string) (Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[accountID]
	if !ok {
		return nil, ErrNoLink
	}
	return l, nil
}

// Func adapts a function to the Link interface.
type Func func(ctx context.Context, p packet.Prepare) (packet.Response, error)

// SendPacket calls the wrapped function.
func (f Func) SendPacket(ctx context.Context, p packet.Prepare) (packet.Response, error) {
	return f(ctx, p)
}

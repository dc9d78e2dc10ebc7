// Package channel implements ChannelGateway: an adapter over the lobby
// channel transport that owns a single named channel, registers the
// three CoinJoin message kinds, and exposes broadcast/unicast posting
// plus idempotent teardown. The transport itself — named-channel
// membership, symmetric/end-to-end encryption — is an external
// collaborator.
package channel

import (
	"crypto/sha256"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/Kryndex/darkwallet/internal/log"
	"github.com/Kryndex/darkwallet/wire"
)

var logger = log.NewModuleLogger("channel")

// Transport is the external lobby channel capability.
type Transport interface {
	Fingerprint() string
	Open(name string) error
	Close(name string) error
	PostEncrypted(name string, kind wire.Kind, body []byte, cb func(error)) error
	PostDH(name string, peerPubKey string, kind wire.Kind, body []byte, cb func(error)) error
	// OnMessage registers the transport-level delivery callback for a
	// kind on a channel; the transport invokes handler for every
	// inbound record, echoes included — ChannelGateway is responsible
	// for self-echo filtering.
	OnMessage(name string, kind wire.Kind, handler func(wire.Message))
}

const dedupCacheSize = 4096

// Gateway is ChannelGateway. It owns exactly one channel name at a
// time, lazily opened and idempotently closed.
type Gateway struct {
	transport Transport
	name      string

	mu      sync.Mutex
	open    bool
	seen    *lru.ARCCache
	onOpen  map[wire.Kind]func(wire.Message)
}

// New constructs a gateway for the given channel name (already
// resolved via config.ChannelName()).
func New(transport Transport, name string) *Gateway {
	seen, _ := lru.NewARC(dedupCacheSize)
	return &Gateway{
		transport: transport,
		name:      name,
		seen:      seen,
		onOpen:    make(map[wire.Kind]func(wire.Message)),
	}
}

// Fingerprint returns this node's stable channel identifier.
func (g *Gateway) Fingerprint() string {
	return g.transport.Fingerprint()
}

// Subscribe registers a handler for a message kind. Subscriptions
// persist across Ensure/Close cycles and are (re-)installed the next
// time the channel is opened.
func (g *Gateway) Subscribe(kind wire.Kind, handler func(wire.Message)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onOpen[kind] = handler
	if g.open {
		g.installHandler(kind, handler)
	}
}

func (g *Gateway) installHandler(kind wire.Kind, handler func(wire.Message)) {
	g.transport.OnMessage(g.name, kind, func(msg wire.Message) {
		if g.isEcho(msg) || g.isDuplicate(kind, msg) {
			return
		}
		handler(msg)
	})
}

func (g *Gateway) isEcho(msg wire.Message) bool {
	return msg.Sender == g.transport.Fingerprint()
}

// isDuplicate suppresses a body this gateway has already dispatched,
// using an ARC-cache dedup idiom for gossip it has already seen.
func (g *Gateway) isDuplicate(kind wire.Kind, msg wire.Message) bool {
	sum := sha256.Sum256(append([]byte(kind), msg.Body...))
	if _, ok := g.seen.Get(sum); ok {
		return true
	}
	g.seen.Add(sum, true)
	return false
}

// Ensure opens the channel if it is not already open, installing every
// subscribed handler.
func (g *Gateway) Ensure() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return nil
	}
	if err := g.transport.Open(g.name); err != nil {
		return err
	}
	g.open = true
	for kind, handler := range g.onOpen {
		g.installHandler(kind, handler)
	}
	logger.Info("channel opened", "name", g.name)
	return nil
}

// Close tears the channel down idempotently, suppressing not-found
// errors.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return nil
	}
	err := g.transport.Close(g.name)
	g.open = false
	if err != nil && !isNotFound(err) {
		return err
	}
	logger.Info("channel closed", "name", g.name)
	return nil
}

// IsOpen reports whether the channel is currently open.
func (g *Gateway) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// PostEncrypted broadcasts body on the channel.
func (g *Gateway) PostEncrypted(kind wire.Kind, body []byte, cb func(error)) error {
	return g.transport.PostEncrypted(g.name, kind, body, wrapCB(cb))
}

// PostDH sends body end-to-end encrypted to peerPubKey.
func (g *Gateway) PostDH(peerPubKey string, kind wire.Kind, body []byte, cb func(error)) error {
	return g.transport.PostDH(g.name, peerPubKey, kind, body, wrapCB(cb))
}

func wrapCB(cb func(error)) func(error) {
	if cb != nil {
		return cb
	}
	return func(err error) {
		if err != nil {
			logger.Warn("send failed", "err", err)
		}
	}
}

func isNotFound(err error) bool {
	type notFounder interface{ NotFound() bool }
	if nf, ok := err.(notFounder); ok {
		return nf.NotFound()
	}
	return false
}

package channel

import (
	"sync"

	"github.com/Kryndex/darkwallet/wire"
)

// MemTransport is an in-memory reference Transport linking any number
// of nodes sharing a single process, used by coordinator tests to
// exercise two Gateways (initiator/guest) talking to each other
// without a real lobby channel.
type MemTransport struct {
	mu          sync.Mutex
	fingerprint string
	peers       map[string]*MemTransport // pubkey -> transport, for PostDH
	channels    map[string]map[wire.Kind][]func(wire.Message)
	open        map[string]bool
}

// NewMemTransport constructs a transport identified by fingerprint.
func NewMemTransport(fingerprint string) *MemTransport {
	return &MemTransport{
		fingerprint: fingerprint,
		peers:       make(map[string]*MemTransport),
		channels:    make(map[string]map[wire.Kind][]func(wire.Message)),
		open:        make(map[string]bool),
	}
}

// Link registers peer as reachable via PostDH under its own
// fingerprint as pubkey, and vice versa.
func Link(a, b *MemTransport) {
	a.mu.Lock()
	a.peers[b.fingerprint] = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peers[a.fingerprint] = a
	b.mu.Unlock()
}

func (t *MemTransport) Fingerprint() string { return t.fingerprint }

func (t *MemTransport) Open(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[name] = true
	if _, ok := t.channels[name]; !ok {
		t.channels[name] = make(map[wire.Kind][]func(wire.Message))
	}
	return nil
}

func (t *MemTransport) Close(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, name)
	return nil
}

func (t *MemTransport) OnMessage(name string, kind wire.Kind, handler func(wire.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.channels[name]; !ok {
		t.channels[name] = make(map[wire.Kind][]func(wire.Message))
	}
	t.channels[name][kind] = append(t.channels[name][kind], handler)
}

// PostEncrypted fans a broadcast out to every transport sharing the
// named channel, including this node itself (so self-echo filtering
// in Gateway is actually exercised).
func (t *MemTransport) PostEncrypted(name string, kind wire.Kind, body []byte, cb func(error)) error {
	msg := wire.Message{Sender: t.fingerprint, Kind: kind, Body: body}
	t.deliverLocal(name, msg)
	t.mu.Lock()
	peers := make([]*MemTransport, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()
	for _, p := range peers {
		p.deliverLocal(name, msg)
	}
	if cb != nil {
		cb(nil)
	}
	return nil
}

// PostDH sends body only to the named peer; unlike PostEncrypted, the
// sender does not receive a copy of its own message.
func (t *MemTransport) PostDH(name, peerPubKey string, kind wire.Kind, body []byte, cb func(error)) error {
	msg := wire.Message{Sender: t.fingerprint, Peer: wire.Peer{PubKey: t.fingerprint, Trusted: true}, Kind: kind, Body: body}
	t.mu.Lock()
	peer, ok := t.peers[peerPubKey]
	t.mu.Unlock()
	if !ok {
		if cb != nil {
			cb(errUnknownPeer{peerPubKey})
		}
		return errUnknownPeer{peerPubKey}
	}
	peer.deliverLocal(name, msg)
	if cb != nil {
		cb(nil)
	}
	return nil
}

func (t *MemTransport) deliverLocal(name string, msg wire.Message) {
	t.mu.Lock()
	handlers := append([]func(wire.Message){}, t.channels[name][msg.Kind]...)
	t.mu.Unlock()
	// The delivered record's Peer should reflect the *receiving*
	// node's view of the sender.
	msg.Peer = wire.Peer{PubKey: msg.Sender, Trusted: true}
	for _, h := range handlers {
		h(msg)
	}
}

type errUnknownPeer struct{ pubKey string }

func (e errUnknownPeer) Error() string { return "channel: unknown peer " + e.pubKey }
func (e errUnknownPeer) NotFound() bool { return true }

package wallet

import (
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/wire"
)

// MemWallet is an in-memory reference Wallet implementation used by
// tests and the standalone cmd/mixerd demo binary.
type MemWallet struct {
	mu       sync.Mutex
	pockets  map[int]*Pocket
	outputs  map[string]Output
	addrs    map[string]AddressInfo
	hdKeys   map[string][]byte
	nextAddr int

	Broadcasts []string
	Fallbacks  []interface{}
}

// NewMemWallet constructs an empty in-memory wallet.
func NewMemWallet() *MemWallet {
	return &MemWallet{
		pockets: make(map[int]*Pocket),
		outputs: make(map[string]Output),
		addrs:   make(map[string]AddressInfo),
		hdKeys:  make(map[string][]byte),
	}
}

// AddPocket registers a pocket for the test to manipulate directly.
func (w *MemWallet) AddPocket(p *Pocket) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pockets[p.Index] = p
}

func (w *MemWallet) Pocket(index int) (*Pocket, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pockets[index]
	return p, ok
}

// Pockets returns every registered pocket, ordered by index, the
// deterministic scan order findMixingPocket requires.
func (w *MemWallet) Pockets() []*Pocket {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Pocket, 0, len(w.pockets))
	for _, p := range w.pockets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (w *MemWallet) SetOutput(key string, o Output) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outputs[key] = o
}

func (w *MemWallet) SetAddress(addr string, info AddressInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addrs[addr] = info
}

func (w *MemWallet) SetHDKey(namespace string, raw []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hdKeys[namespace] = raw
}

func (w *MemWallet) Prepare(pocket int, recipients []Recipient, changeAddr string, fee int64) (*Tx, error) {
	msg := wire.NewMsgTx(wire.TxVersion)
	for _, r := range recipients {
		msg.AddTxOut(&wire.TxOut{Value: r.Amount, PkScript: []byte(r.Address)})
	}
	msg.AddTxOut(&wire.TxOut{Value: 0, PkScript: []byte(changeAddr)})
	return NewTx(msg), nil
}

func (w *MemWallet) SignMyInputs(inputs []int, tx *Tx, privKeys interface{}) (bool, error) {
	return true, nil
}

func (w *MemWallet) BroadcastTx(tx *Tx, sessionID string, cb func(error)) error {
	w.mu.Lock()
	w.Broadcasts = append(w.Broadcasts, sessionID)
	w.mu.Unlock()
	if cb != nil {
		cb(nil)
	}
	return nil
}

func (w *MemWallet) SendFallback(kind string, task interface{}) error {
	w.mu.Lock()
	w.Fallbacks = append(w.Fallbacks, task)
	w.mu.Unlock()
	return nil
}

func (w *MemWallet) Output(key string) (Output, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.outputs[key]
	return o, ok
}

func (w *MemWallet) GetBalance(pocket int, kind string) Balance {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pockets[pocket]; ok {
		return Balance{Confirmed: p.confirmed}
	}
	return Balance{}
}

func (w *MemWallet) GetWalletAddress(addr string) (AddressInfo, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, ok := w.addrs[addr]
	return info, ok
}

func (w *MemWallet) DeriveHDPrivateKey(pathTail uint32, root string) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	raw, ok := w.hdKeys[root]
	if !ok {
		return nil, fmt.Errorf("no HD key registered for %q", root)
	}
	derived := append([]byte(nil), raw...)
	derived = append(derived, byte(pathTail))
	return derived, nil
}

func (w *MemWallet) NewChangeAddress(pocket int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextAddr++
	return fmt.Sprintf("mixing-change-%d-%d", pocket, w.nextAddr), nil
}

func (w *MemWallet) NewDestAddress(pocket int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextAddr++
	return fmt.Sprintf("mixing-dest-%d-%d", pocket, w.nextAddr), nil
}

// SetConfirmed is a test helper to set a pocket's confirmed balance.
func (p *Pocket) SetConfirmed(amount int64) { p.confirmed = amount }

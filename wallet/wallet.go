// Package wallet declares the wallet/pocket collaborator contract and
// the concrete transaction type Session and SignerBridge operate on.
// Transaction construction, coin selection,
// fee estimation, and broadcast are collaborator responsibilities;
// this package only gives them a concrete, typed shape so the
// coordinator can hold onto them.
package wallet

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/wire"
)

// Recipient is one output a prepared transaction pays.
type Recipient struct {
	Address string
	Amount  int64
}

// Output is an entry of the wallet's outputs index, keyed
// "<txhash>:<vout>".
type Output struct {
	Address string
	Amount  int64
	Path    DerivationPath
}

// DerivationPath is the HD path a wallet output was derived under.
// Pocket is the pocket index component; Change is true for the change
// branch, false for the main/receive branch.
type DerivationPath struct {
	Pocket int
	Change bool
	Index  uint32
}

// AddressInfo is what GetWalletAddress resolves an address to.
type AddressInfo struct {
	Path DerivationPath
	Type AddressType
}

// AddressType enumerates the address kinds the wallet can resolve.
// SignerBridge only supports the default (keyhash) type.
type AddressType int

const (
	AddressTypeUnknown AddressType = iota
	AddressTypeKeyHash
	AddressTypeScriptHash
	AddressTypeWitnessKeyHash
)

// Balance is a pocket balance snapshot.
type Balance struct {
	Confirmed int64
}

// MixingOptions is a pocket's budget/spend pair.
type MixingOptions struct {
	Budget int64
	Spent  int64
}

// Pocket is a numbered HD wallet subdivision.
type Pocket struct {
	Index          int
	Mixing         bool
	HasEncryptedHD bool
	MixingOptions  MixingOptions

	// EncryptedMasterKey and EncryptedChangeKey are the scrypt+secretbox
	// envelopes SignerBridge decrypts under the pocket password to
	// recover the base58 HD root for the main and change branches
	// respectively.
	EncryptedMasterKey []byte
	EncryptedChangeKey []byte

	confirmed int64
}

// ClearHDKeys drops the pocket's encrypted key material and disables
// mixing, the reaction to a pocket's budget running out.
func (p *Pocket) ClearHDKeys() {
	p.EncryptedMasterKey = nil
	p.EncryptedChangeKey = nil
	p.Mixing = false
}

// Wallet is the external wallet capability Session/SignerBridge/
// Coordinator depend on.
type Wallet interface {
	// Prepare builds a candidate transaction spending from pocket to
	// recipients, with change sent to changeAddr and fee reserved.
	Prepare(pocket int, recipients []Recipient, changeAddr string, fee int64) (*Tx, error)

	// SignMyInputs signs the inputs this node owns in tx using
	// privKeys, returning whether signing succeeded.
	SignMyInputs(inputs []int, tx *Tx, privKeys interface{}) (bool, error)

	// BroadcastTx submits tx for the given session to the network.
	BroadcastTx(tx *Tx, sessionID string, cb func(error)) error

	// SendFallback sends a task's original, unmixed transaction.
	SendFallback(kind string, task interface{}) error

	// Output resolves a prior output referenced by an input, keyed
	// "<txhash>:<vout>".
	Output(key string) (Output, bool)

	// GetBalance returns the confirmed balance of a pocket's given
	// account kind ("hd").
	GetBalance(pocket int, kind string) Balance

	// GetWalletAddress resolves an address to its derivation info.
	GetWalletAddress(addr string) (AddressInfo, bool)

	// DeriveHDPrivateKey derives the private key at pathTail under
	// root (the decrypted base58 HD key for the change or main
	// branch).
	DeriveHDPrivateKey(pathTail uint32, root string) ([]byte, error)

	// NewChangeAddress and NewDestAddress produce pocket-tagged
	// addresses for guest-side candidate construction.
	NewChangeAddress(pocket int) (string, error)
	NewDestAddress(pocket int) (string, error)
}

// Tx wraps the evolving joint Bitcoin transaction. It is immutable
// once constructed for myTx and monotonically refined for tx.
type Tx struct {
	msg *wire.MsgTx
}

// NewTx wraps a wire.MsgTx.
func NewTx(msg *wire.MsgTx) *Tx {
	return &Tx{msg: msg}
}

// MsgTx exposes the underlying wire transaction for merge/sign
// operations in txjoin and signer.
func (t *Tx) MsgTx() *wire.MsgTx {
	return t.msg
}

// Hash returns the transaction's double-SHA256 id.
func (t *Tx) Hash() []byte {
	h := t.msg.TxHash()
	return h[:]
}

// SerializeHex returns the hex-encoded serialized transaction, the
// wire format CoinJoinMsg.tx carries.
func (t *Tx) SerializeHex() (string, error) {
	var buf bytes.Buffer
	if err := t.msg.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// DecodeTxHex parses a hex-encoded transaction as produced by
// SerializeHex.
func DecodeTxHex(h string) (*Tx, error) {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return nil, err
	}
	msg := wire.NewMsgTx(wire.TxVersion)
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return &Tx{msg: msg}, nil
}

// Clone returns a deep copy of the transaction, used when
// version-fixing a freshly prepared tx before it becomes myTx.
func (t *Tx) Clone() *Tx {
	return &Tx{msg: t.msg.Copy()}
}

// VersionFix normalizes the transaction version to the module's
// canonical wire.TxVersion.
func (t *Tx) VersionFix() {
	t.msg.Version = wire.TxVersion
}

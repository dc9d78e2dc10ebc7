// Package signer implements SignerBridge: it gathers the private keys
// a session needs — from the task's encrypted blob when this node is
// the initiator, or by deriving them from the pocket's encrypted HD
// keys when it is the guest — and delegates the actual input signing
// to the wallet collaborator. Keys never leave this package decrypted
// for longer than a single call.
package signer

import (
	"encoding/hex"
	"strconv"

	"github.com/pkg/errors"

	"github.com/Kryndex/darkwallet/identity"
	"github.com/Kryndex/darkwallet/internal/log"
	"github.com/Kryndex/darkwallet/safe"
	"github.com/Kryndex/darkwallet/session"
	"github.com/Kryndex/darkwallet/wallet"
)

var logger = log.NewModuleLogger("signer")

// ErrOutputMissing, ErrUnsupportedAddress, ErrPocketMismatch are fatal
// signing failures; the caller must treat the session as cancelled on
// any of them.
var (
	ErrOutputMissing      = errors.New("signer: prior output not found in wallet index")
	ErrUnsupportedAddress = errors.New("signer: only keyhash addresses are supported")
	ErrPocketMismatch     = errors.New("signer: derivation path pocket does not match session pocket")
)

// Bridge is SignerBridge.
type Bridge struct {
	Safe   safe.Safe
	Wallet wallet.Wallet
	Store  identity.Store
}

// New constructs a Bridge over the given collaborators.
func New(sf safe.Safe, w wallet.Wallet, store identity.Store) *Bridge {
	return &Bridge{Safe: sf, Wallet: w, Store: store}
}

// RequestSignInputs chooses the key source by role (task present means
// host, else guest) and returns whether every owned input was signed.
func (b *Bridge) RequestSignInputs(s *session.Session) (bool, error) {
	if s.Task != nil {
		return b.signAsHost(s)
	}
	return b.signAsGuest(s)
}

// signAsHost decrypts task.PrivKeys under the password stored at
// ("send", txHash) where txHash is the hex of session.myTx.hash, then
// parses it as the host's JSON key blob and hands it to the wallet.
func (b *Bridge) signAsHost(s *session.Session) (bool, error) {
	txHash := hex.EncodeToString(s.MyTx.Hash())
	password, ok := b.Safe.Get("send", txHash)
	if !ok {
		return false, errors.New("signer: no live password for host send context")
	}
	blob, err := decryptJSON(s.Task.PrivKeys, password)
	if err != nil {
		return false, errors.Wrap(err, "signer: decrypt host privKeys")
	}
	inputs := allInputIndices(s.MyTx)
	ok, err = b.Wallet.SignMyInputs(inputs, s.Tx, blob)
	if err != nil {
		return false, err
	}
	logger.Info("host inputs signed", "id", s.ID, "ok", ok)
	return ok, nil
}

// signAsGuest looks up the pocket password at ("mixer",
// "pocket:"+pocket), decrypts the pocket's encrypted HD master and
// change keys from base58, and derives a private key per owned input
// by resolving its prior output in the wallet's index.
func (b *Bridge) signAsGuest(s *session.Session) (bool, error) {
	if s.Pocket == nil {
		return false, errors.New("signer: guest session has no pocket")
	}
	pocket := *s.Pocket

	password, ok := b.Safe.Get("mixer", "pocket:"+strconv.Itoa(pocket))
	if !ok {
		return false, errors.New("signer: no live password for pocket")
	}

	p := findPocket(b.Store, pocket)
	if p == nil {
		return false, errors.New("signer: pocket not found in identity store")
	}

	keys := make(map[string][]byte)
	msgTx := s.MyTx.MsgTx()
	for _, in := range msgTx.TxIn {
		key := in.PreviousOutPoint.Hash.String() + ":" + strconv.Itoa(int(in.PreviousOutPoint.Index))
		out, ok := b.Wallet.Output(key)
		if !ok {
			return false, ErrOutputMissing
		}
		info, ok := b.Wallet.GetWalletAddress(out.Address)
		if !ok {
			return false, ErrOutputMissing
		}
		if info.Type != wallet.AddressTypeKeyHash {
			return false, ErrUnsupportedAddress
		}
		if info.Path.Pocket != pocket {
			return false, ErrPocketMismatch
		}

		blob := p.EncryptedMasterKey
		if info.Path.Change {
			blob = p.EncryptedChangeKey
		}
		root, err := decryptHDRoot(blob, password)
		if err != nil {
			return false, errors.Wrap(err, "signer: decrypt pocket HD root")
		}
		priv, err := b.Wallet.DeriveHDPrivateKey(info.Path.Index, root)
		if err != nil {
			return false, errors.Wrap(err, "signer: derive per-input private key")
		}
		keys[key] = priv
	}

	inputs := allInputIndices(s.MyTx)
	ok, err := b.Wallet.SignMyInputs(inputs, s.Tx, keys)
	if err != nil {
		return false, err
	}
	logger.Info("guest inputs signed", "id", s.ID, "pocket", pocket, "ok", ok)
	return ok, nil
}

func findPocket(store identity.Store, index int) *wallet.Pocket {
	for _, p := range store.Pockets() {
		if p.Index == index {
			return p
		}
	}
	return nil
}

func allInputIndices(tx *wallet.Tx) []int {
	msg := tx.MsgTx()
	idx := make([]int, len(msg.TxIn))
	for i := range msg.TxIn {
		idx[i] = i
	}
	return idx
}

// Package txjoin implements the structural CoinJoin merge the Session
// state machine drives: combining two parties' candidate transactions
// into a single joint transaction, and folding a party's signatures
// back into the shared copy. Coin selection, fee estimation, and the
// actual candidate-transaction construction remain wallet collaborator
// responsibilities; this package only implements the merge a
// multi-party CoinJoin protocol needs once both candidates exist.
package txjoin

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/wire"

	"github.com/Kryndex/darkwallet/wallet"
)

// Join combines mine and theirs into a single transaction containing
// the union of both parties' inputs and outputs, sorted deterministically
// (BIP69-style: inputs by prevout hash/index, outputs by value/pkScript)
// so neither party can distinguish initiator from guest by output
// ordering — the same privacy property the change/total announcement
// coin flip relies on.
func Join(mine, theirs *wallet.Tx) (*wallet.Tx, error) {
	joint := wire.NewMsgTx(wire.TxVersion)

	for _, in := range mine.MsgTx().TxIn {
		joint.AddTxIn(cloneTxIn(in))
	}
	for _, in := range theirs.MsgTx().TxIn {
		joint.AddTxIn(cloneTxIn(in))
	}
	for _, out := range mine.MsgTx().TxOut {
		joint.AddTxOut(cloneTxOut(out))
	}
	for _, out := range theirs.MsgTx().TxOut {
		joint.AddTxOut(cloneTxOut(out))
	}

	sortInputs(joint)
	sortOutputs(joint)

	return wallet.NewTx(joint), nil
}

// ContainsOwn reports whether full's input/output set is a superset of
// mine's, the check a guest runs on the joint transaction it receives
// back from the initiator.
func ContainsOwn(full, mine *wallet.Tx) error {
	for _, want := range mine.MsgTx().TxIn {
		found := false
		for _, have := range full.MsgTx().TxIn {
			if have.PreviousOutPoint == want.PreviousOutPoint {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("joint transaction is missing our input %s", want.PreviousOutPoint)
		}
	}
	for _, want := range mine.MsgTx().TxOut {
		found := false
		for _, have := range full.MsgTx().TxOut {
			if have.Value == want.Value && string(have.PkScript) == string(want.PkScript) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("joint transaction is missing our output")
		}
	}
	return nil
}

// MergeSignatures copies the SignatureScript/Witness of every input in
// signed that matches an input already present in dst by previous
// outpoint, the step the initiator runs on the guest's signed copy.
func MergeSignatures(dst, signed *wallet.Tx) error {
	for _, in := range signed.MsgTx().TxIn {
		if len(in.SignatureScript) == 0 && len(in.Witness) == 0 {
			continue
		}
		for _, dstIn := range dst.MsgTx().TxIn {
			if dstIn.PreviousOutPoint == in.PreviousOutPoint {
				dstIn.SignatureScript = append([]byte(nil), in.SignatureScript...)
				if in.Witness != nil {
					dstIn.Witness = append(wire.TxWitness(nil), in.Witness...)
				}
			}
		}
	}
	return nil
}

// FullySigned reports whether every input of tx now carries a
// signature, the completion check that moves a Session from sign to
// finished.
func FullySigned(tx *wallet.Tx) bool {
	for _, in := range tx.MsgTx().TxIn {
		if len(in.SignatureScript) == 0 && len(in.Witness) == 0 {
			return false
		}
	}
	return len(tx.MsgTx().TxIn) > 0
}

func cloneTxIn(in *wire.TxIn) *wire.TxIn {
	cp := *in
	cp.SignatureScript = append([]byte(nil), in.SignatureScript...)
	if in.Witness != nil {
		cp.Witness = append(wire.TxWitness(nil), in.Witness...)
	}
	return &cp
}

func cloneTxOut(out *wire.TxOut) *wire.TxOut {
	cp := *out
	cp.PkScript = append([]byte(nil), out.PkScript...)
	return &cp
}

func sortInputs(tx *wire.MsgTx) {
	sort.SliceStable(tx.TxIn, func(i, j int) bool {
		a, b := tx.TxIn[i].PreviousOutPoint, tx.TxIn[j].PreviousOutPoint
		if a.Hash != b.Hash {
			return a.Hash.String() < b.Hash.String()
		}
		return a.Index < b.Index
	})
}

func sortOutputs(tx *wire.MsgTx) {
	sort.SliceStable(tx.TxOut, func(i, j int) bool {
		if tx.TxOut[i].Value != tx.TxOut[j].Value {
			return tx.TxOut[i].Value < tx.TxOut[j].Value
		}
		return string(tx.TxOut[i].PkScript) < string(tx.TxOut[j].PkScript)
	})
}

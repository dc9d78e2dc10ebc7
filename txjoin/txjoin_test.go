package txjoin

import (
	"testing"

	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kryndex/darkwallet/wallet"
)

func newTx(outpoint btcwire.OutPoint, outValue int64, pkScript []byte) *wallet.Tx {
	msg := btcwire.NewMsgTx(btcwire.TxVersion)
	msg.AddTxIn(&btcwire.TxIn{PreviousOutPoint: outpoint})
	msg.AddTxOut(&btcwire.TxOut{Value: outValue, PkScript: pkScript})
	return wallet.NewTx(msg)
}

func outpoint(b byte, index uint32) btcwire.OutPoint {
	var h [32]byte
	h[0] = b
	return btcwire.OutPoint{Hash: h, Index: index}
}

func TestJoinMergesInputsAndOutputs(t *testing.T) {
	mine := newTx(outpoint(1, 0), 100000, []byte("dest-a"))
	theirs := newTx(outpoint(2, 0), 200000, []byte("dest-b"))

	joint, err := Join(mine, theirs)
	require.NoError(t, err)
	assert.Len(t, joint.MsgTx().TxIn, 2)
	assert.Len(t, joint.MsgTx().TxOut, 2)
}

func TestContainsOwnDetectsMissingInput(t *testing.T) {
	mine := newTx(outpoint(1, 0), 100000, []byte("dest-a"))
	theirs := newTx(outpoint(2, 0), 200000, []byte("dest-b"))
	joint, err := Join(mine, theirs)
	require.NoError(t, err)

	assert.NoError(t, ContainsOwn(joint, mine))

	foreign := newTx(outpoint(9, 0), 100000, []byte("dest-a"))
	assert.Error(t, ContainsOwn(joint, foreign))
}

func TestMergeSignaturesCopiesByPreviousOutPoint(t *testing.T) {
	mine := newTx(outpoint(1, 0), 100000, []byte("dest-a"))
	theirs := newTx(outpoint(2, 0), 200000, []byte("dest-b"))
	joint, err := Join(mine, theirs)
	require.NoError(t, err)
	assert.False(t, FullySigned(joint))

	signedMine := mine.Clone()
	signedMine.MsgTx().TxIn[0].SignatureScript = []byte("sig-mine")
	require.NoError(t, MergeSignatures(joint, signedMine))

	found := false
	for _, in := range joint.MsgTx().TxIn {
		if in.PreviousOutPoint == signedMine.MsgTx().TxIn[0].PreviousOutPoint {
			assert.Equal(t, []byte("sig-mine"), in.SignatureScript)
			found = true
		}
	}
	assert.True(t, found)
	assert.False(t, FullySigned(joint), "other input still unsigned")

	signedTheirs := theirs.Clone()
	signedTheirs.MsgTx().TxIn[0].SignatureScript = []byte("sig-theirs")
	require.NoError(t, MergeSignatures(joint, signedTheirs))
	assert.True(t, FullySigned(joint))
}

package coordinator

import (
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kryndex/darkwallet/channel"
	"github.com/Kryndex/darkwallet/gui"
	"github.com/Kryndex/darkwallet/identity"
	"github.com/Kryndex/darkwallet/internal/config"
	"github.com/Kryndex/darkwallet/safe"
	"github.com/Kryndex/darkwallet/session"
	"github.com/Kryndex/darkwallet/signer"
	"github.com/Kryndex/darkwallet/wallet"
	"github.com/Kryndex/darkwallet/wire"
)

func fixedClock(t int64) Clock {
	return func() int64 { return t }
}

func newTestCoordinator(tr channel.Transport, w wallet.Wallet, store identity.Store, sf safe.Safe, bus gui.Bus, now Clock) *Coordinator {
	return New(config.Default(), tr, w, store, sf, bus, now)
}

func hostTx(leadByte byte, value int64) *wallet.Tx {
	msg := btcwire.NewMsgTx(btcwire.TxVersion)
	var h [32]byte
	h[0] = leadByte
	msg.AddTxIn(&btcwire.TxIn{PreviousOutPoint: btcwire.OutPoint{Hash: h, Index: 0}})
	msg.AddTxOut(&btcwire.TxOut{Value: value, PkScript: []byte("host-out")})
	return wallet.NewTx(msg)
}

func TestStartTaskIgnoresNonAnnounceState(t *testing.T) {
	tr := channel.NewMemTransport("node-a")
	w := wallet.NewMemWallet()
	store := identity.NewMemStore(w)
	c := newTestCoordinator(tr, w, store, safe.NewMemSafe(), gui.NewMemBus(), fixedClock(1000))

	task := &wire.Task{State: wire.TaskFinished}
	c.startTask(task)

	assert.Equal(t, 0, c.Registry().Len())
	assert.False(t, c.gw.IsOpen())
}

func TestStartTaskAnnouncesAndSchedulesTick(t *testing.T) {
	tr := channel.NewMemTransport("node-a")
	w := wallet.NewMemWallet()
	store := identity.NewMemStore(w)
	bus := gui.NewMemBus()
	c := newTestCoordinator(tr, w, store, safe.NewMemSafe(), bus, fixedClock(1000))

	tx := hostTx(1, 100000)
	hexTx, err := tx.SerializeHex()
	require.NoError(t, err)
	task := &wire.Task{State: wire.TaskAnnounce, Tx: hexTx, Total: 100000, Fee: 1000}

	c.startTask(task)

	require.Equal(t, 1, c.Registry().Len())
	assert.NotEmpty(t, task.SessionID)
	assert.Equal(t, int64(1000), task.Start)
	assert.Equal(t, int64(60), task.Timeout, "a task without its own timeout gets the configured default")
	assert.True(t, c.gw.IsOpen())
	assert.Equal(t, gui.StateAnnouncing, bus.Last())

	c.retry.CancelAll()
}

func TestCheckMixingDemotesPocketWithoutLivePassword(t *testing.T) {
	tr := channel.NewMemTransport("node-a")
	w := wallet.NewMemWallet()
	pocket := &wallet.Pocket{Index: 0, Mixing: true, HasEncryptedHD: true, EncryptedMasterKey: []byte("blob")}
	w.AddPocket(pocket)
	store := identity.NewMemStore(w)
	c := newTestCoordinator(tr, w, store, safe.NewMemSafe(), gui.NewMemBus(), fixedClock(1000))

	c.checkMixing()

	assert.False(t, pocket.Mixing)
	assert.Nil(t, pocket.EncryptedMasterKey)
	assert.False(t, c.gw.IsOpen(), "nothing left to mix or announce means the channel closes")
}

func TestCheckMixingKeepsChannelOpenForLiveMixingPocket(t *testing.T) {
	tr := channel.NewMemTransport("node-a")
	w := wallet.NewMemWallet()
	pocket := &wallet.Pocket{Index: 0, Mixing: true, HasEncryptedHD: true}
	w.AddPocket(pocket)
	store := identity.NewMemStore(w)
	sf := safe.NewMemSafe()
	sf.Unlock("mixer", "pocket:0", "pw", time.Hour)
	c := newTestCoordinator(tr, w, store, sf, gui.NewMemBus(), fixedClock(1000))

	c.checkMixing()

	assert.True(t, pocket.Mixing)
	assert.True(t, c.gw.IsOpen())
}

func TestOnFinishCancelsAndRemovesSession(t *testing.T) {
	tr := channel.NewMemTransport("node-a")
	w := wallet.NewMemWallet()
	store := identity.NewMemStore(w)
	c := newTestCoordinator(tr, w, store, safe.NewMemSafe(), gui.NewMemBus(), fixedClock(1000))

	s := session.NewInitiator("id1", hostTx(1, 1000), 1000, 100, &wire.Task{}, 0)
	c.reg.Insert(s)

	body, err := wire.Encode(wire.FinishBody{ID: "id1"})
	require.NoError(t, err)
	c.onFinish(wire.Message{Body: body})

	assert.False(t, c.Registry().Has("id1"))
	assert.True(t, s.Terminal())
}

func TestTickFallsBackOnTimeout(t *testing.T) {
	tr := channel.NewMemTransport("node-a")
	w := wallet.NewMemWallet()
	store := identity.NewMemStore(w)
	c := newTestCoordinator(tr, w, store, safe.NewMemSafe(), gui.NewMemBus(), fixedClock(2000))

	task := &wire.Task{Timeout: 60, Start: 1000}
	s := session.NewInitiator("id1", hostTx(1, 1000), 1000, 100, task, 0)
	c.reg.Insert(s)

	c.tick(s, task)

	assert.True(t, s.Terminal())
	assert.False(t, c.Registry().Has("id1"))
	assert.Len(t, w.Fallbacks, 1)
}

func TestTickReannouncesWithinTimeout(t *testing.T) {
	tr := channel.NewMemTransport("node-a")
	w := wallet.NewMemWallet()
	store := identity.NewMemStore(w)
	bus := gui.NewMemBus()
	c := newTestCoordinator(tr, w, store, safe.NewMemSafe(), bus, fixedClock(1010))

	task := &wire.Task{Timeout: 60, Start: 1000}
	s := session.NewInitiator("id1", hostTx(1, 1000), 1000, 100, task, 0)
	c.reg.Insert(s)
	require.NoError(t, c.gw.Ensure())

	c.tick(s, task)

	assert.Equal(t, session.StateAnnounce, s.State())
	assert.Equal(t, gui.StateAnnouncing, bus.Last())
	c.retry.CancelAll()
}

// signingWallet wraps MemWallet so SignMyInputs actually stamps every
// input with a non-empty signature script. MemWallet alone is a no-op
// signer, which would never let an initiator's joint transaction pass
// FullySigned — this test needs a collaborator that behaves like a
// real one for the one assertion that depends on it.
type signingWallet struct {
	*wallet.MemWallet
}

func (w *signingWallet) SignMyInputs(inputs []int, tx *wallet.Tx, privKeys interface{}) (bool, error) {
	for _, in := range tx.MsgTx().TxIn {
		in.SignatureScript = []byte{0x01}
	}
	return true, nil
}

func TestFullMixReachesFinishedOnBothSides(t *testing.T) {
	trA := channel.NewMemTransport("node-a")
	trB := channel.NewMemTransport("node-b")
	channel.Link(trA, trB)

	wA := &signingWallet{wallet.NewMemWallet()}
	storeA := identity.NewMemStore(wA.MemWallet)
	sfA := safe.NewMemSafe()
	busA := gui.NewMemBus()

	wB := wallet.NewMemWallet()
	pocket := &wallet.Pocket{Index: 0, Mixing: true, MixingOptions: wallet.MixingOptions{Budget: 1000000}}
	pocket.SetConfirmed(1000000)
	wB.AddPocket(pocket)
	storeB := identity.NewMemStore(wB)
	sfB := safe.NewMemSafe()
	busB := gui.NewMemBus()

	now := fixedClock(1000)
	coordA := New(config.Default(), trA, wA, storeA, sfA, busA, now)
	coordB := New(config.Default(), trB, wB, storeB, sfB, busB, now)

	coordB.OnTransportEvent("connected")
	sfB.Unlock("mixer", "pocket:0", "guest-pw", time.Hour)

	tx := hostTx(1, 100000)
	txHash, err := tx.SerializeHex()
	require.NoError(t, err)
	sendPassword := "host-pw"
	payload, err := json.Marshal(map[string]string{"input-0": "deadbeef"})
	require.NoError(t, err)
	blob, err := signer.Encrypt(payload, sendPassword)
	require.NoError(t, err)
	sfA.Unlock("send", hex.EncodeToString(tx.Hash()), sendPassword, time.Hour)

	task := &wire.Task{State: wire.TaskAnnounce, Tx: txHash, Total: 100000, Fee: 1000, PrivKeys: blob}
	coordA.startTask(task)

	id := task.SessionID
	sA, ok := coordA.Registry().Get(id)
	require.True(t, ok)
	require.Equal(t, session.StateAnnounce, sA.State(), "the guest's reply arrives synchronously but stays buffered until the next tick")

	sB, ok := coordB.Registry().Get(id)
	require.True(t, ok)
	require.Equal(t, session.StateAccepted, sB.State())

	coordA.tick(sA, task)

	assert.True(t, sA.Terminal())
	assert.Equal(t, session.StateFinished, sA.State())
	assert.Len(t, wA.Broadcasts, 1)
	assert.Equal(t, wire.TaskFinished, task.State)
	assert.NotEmpty(t, task.Tx)
	assert.False(t, coordA.Registry().Has(id))

	assert.Equal(t, session.StateFinished, sB.State())
	assert.False(t, coordB.Registry().Has(id))
	assert.Equal(t, int64(50000), pocket.MixingOptions.Spent, "the guest fee reserved for the candidate is charged to the pocket")
}

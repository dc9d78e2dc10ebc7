package matchmaker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kryndex/darkwallet/channel"
	"github.com/Kryndex/darkwallet/identity"
	"github.com/Kryndex/darkwallet/registry"
	"github.com/Kryndex/darkwallet/session"
	"github.com/Kryndex/darkwallet/wallet"
	"github.com/Kryndex/darkwallet/wire"
)

func TestCheckAnnounceDrainsBufferedReply(t *testing.T) {
	task := &wire.Task{Timeout: 60, Start: 1000}
	s := session.NewInitiator("id1", dummyTx(), 100, 10, task, 0)
	s.Buffer(wire.Message{Sender: "peer", Body: []byte(`{"id":"id1","tx":"00"}`)})

	outcome, msg, ok := CheckAnnounce(s, 1005, task, false)
	assert.Equal(t, OutcomeProcess, outcome)
	assert.True(t, ok)
	assert.Equal(t, "peer", msg.Sender)
}

func TestCheckAnnounceFallsBackOnTimeout(t *testing.T) {
	task := &wire.Task{Timeout: 60, Start: 1000}
	s := session.NewInitiator("id1", dummyTx(), 100, 10, task, 0)

	outcome, _, _ := CheckAnnounce(s, 1061, task, false)
	assert.Equal(t, OutcomeFallback, outcome)
}

func TestCheckAnnounceHardMixingNeverFallsBack(t *testing.T) {
	task := &wire.Task{Timeout: 60, Start: 1000}
	s := session.NewInitiator("id1", dummyTx(), 100, 10, task, 0)

	outcome, _, _ := CheckAnnounce(s, 100000, task, true)
	assert.Equal(t, OutcomeReannounce, outcome)
}

func TestCheckAnnounceReannouncesWithinTimeout(t *testing.T) {
	task := &wire.Task{Timeout: 60, Start: 1000}
	s := session.NewInitiator("id1", dummyTx(), 100, 10, task, 0)

	outcome, _, _ := CheckAnnounce(s, 1010, task, false)
	assert.Equal(t, OutcomeReannounce, outcome)
}

func TestEvaluateOpeningRefusesSelfMatch(t *testing.T) {
	reg := registry.New()
	reg.Insert(session.NewInitiator("dup", dummyTx(), 100, 10, &wire.Task{}, 0))

	w := wallet.NewMemWallet()
	store := identity.NewMemStore(w)
	tr := channel.NewMemTransport("node-a")
	gw := channel.New(tr, "CoinJoin")
	require.NoError(t, gw.Ensure())

	_, err := EvaluateOpening(reg, store, w, gw, wire.OpenBody{ID: "dup", Amount: 100}, wire.Peer{PubKey: "node-a"}, 50000, 0)
	assert.Error(t, err)
}

func TestEvaluateOpeningBuildsCandidateAndReplies(t *testing.T) {
	trA := channel.NewMemTransport("node-a")
	trB := channel.NewMemTransport("node-b")
	channel.Link(trA, trB)

	gwA := channel.New(trA, "CoinJoin")
	require.NoError(t, gwA.Ensure())

	var replies []wire.Message
	gwB := channel.New(trB, "CoinJoin")
	gwA.Subscribe(wire.KindJoin, func(m wire.Message) { replies = append(replies, m) })
	require.NoError(t, gwB.Ensure())

	reg := registry.New()
	w := wallet.NewMemWallet()
	pocket := &wallet.Pocket{Index: 0, Mixing: true}
	pocket.SetConfirmed(1000000)
	w.AddPocket(pocket)
	store := identity.NewMemStore(w)

	s, err := EvaluateOpening(reg, store, w, gwB, wire.OpenBody{ID: "open-1", Amount: 50000}, wire.Peer{PubKey: "node-a"}, 50000, 0)
	require.NoError(t, err)
	assert.Equal(t, session.RoleGuest, s.Role)
	assert.True(t, reg.Has("open-1"))
	require.Len(t, replies, 1)

	body, err := wire.DecodeJoin(replies[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "open-1", body.ID)
	assert.True(t, body.Initial)
}

func TestEvaluateOpeningNoEligiblePocket(t *testing.T) {
	reg := registry.New()
	w := wallet.NewMemWallet()
	store := identity.NewMemStore(w)
	tr := channel.NewMemTransport("node-a")
	gw := channel.New(tr, "CoinJoin")
	require.NoError(t, gw.Ensure())

	_, err := EvaluateOpening(reg, store, w, gw, wire.OpenBody{ID: "open-2", Amount: 50000}, wire.Peer{PubKey: "node-a"}, 50000, 0)
	assert.ErrorIs(t, err, ErrNoMixingPocket)
}

func dummyTx() *wallet.Tx {
	return wallet.NewTx(nil)
}

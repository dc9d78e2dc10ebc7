// Package matchmaker implements the initiator-side retry/fallback
// tick over an announcing Session, and the guest-side evaluation of
// an incoming CoinJoinOpen announcement.
package matchmaker

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"

	"github.com/Kryndex/darkwallet/channel"
	"github.com/Kryndex/darkwallet/identity"
	"github.com/Kryndex/darkwallet/registry"
	"github.com/Kryndex/darkwallet/session"
	"github.com/Kryndex/darkwallet/wallet"
	"github.com/Kryndex/darkwallet/wire"
)

// ErrNoMixingPocket is returned by EvaluateOpening when no pocket is
// eligible to guest the announcement.
var ErrNoMixingPocket = errors.New("matchmaker: no eligible mixing pocket")

// RandomIndex picks a uniform index in [0,n) from a cryptographic
// source rather than the package-level math/rand global, since the
// pick decides which peer a CoinJoin is built with.
func RandomIndex(n int) int {
	if n <= 0 {
		return 0
	}
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// Outcome is what a retry tick decided to do with an announcing
// Session.
type Outcome int

const (
	OutcomeWait Outcome = iota
	OutcomeProcess
	OutcomeFallback
	OutcomeReannounce
)

// CheckAnnounce runs one retry tick against an initiator Session still
// in StateAnnounce:
//
//  1. if a candidate reply has been buffered, drain one at random and
//     hand it to the caller to run through Session.Process;
//  2. otherwise, if the task's overall timeout has elapsed, fall back
//     to an unmixed send (unless hard mixing is enabled, in which case
//     retry indefinitely);
//  3. otherwise, re-broadcast the CoinJoinOpen announcement.
func CheckAnnounce(s *session.Session, now int64, task *wire.Task, hardMixing bool) (Outcome, wire.Message, bool) {
	if msg, ok := s.DrainOne(RandomIndex); ok {
		return OutcomeProcess, msg, true
	}
	if !hardMixing && task != nil && task.Timeout > 0 && now-task.Start >= task.Timeout {
		return OutcomeFallback, wire.Message{}, false
	}
	return OutcomeReannounce, wire.Message{}, false
}

// EvaluateOpening runs the guest-side reaction to an inbound
// CoinJoinOpen:
//
//  1. self-match prevention: refuse an id already tracked in reg;
//  2. find a pocket eligible to guest (mixing enabled, confirmed
//     balance covering amount plus guestFee);
//  3. build a candidate transaction spending amount from that pocket,
//     with fresh change/destination addresses;
//  4. construct the guest Session and send the first CoinJoin reply.
func EvaluateOpening(
	reg *registry.Registry,
	store identity.Store,
	w wallet.Wallet,
	gw *channel.Gateway,
	open wire.OpenBody,
	peer wire.Peer,
	guestFee int64,
	bufferCap int,
) (*session.Session, error) {
	if reg.Has(open.ID) {
		return nil, errors.Errorf("matchmaker: session %s already tracked, refusing self-match", open.ID)
	}

	pocket, err := findMixingPocket(store, w, open.Amount+guestFee)
	if err != nil {
		return nil, err
	}

	changeAddr, err := w.NewChangeAddress(pocket.Index)
	if err != nil {
		return nil, errors.Wrap(err, "matchmaker: new change address")
	}
	destAddr, err := w.NewDestAddress(pocket.Index)
	if err != nil {
		return nil, errors.Wrap(err, "matchmaker: new destination address")
	}

	candidate, err := w.Prepare(pocket.Index, []wallet.Recipient{{Address: destAddr, Amount: open.Amount}}, changeAddr, guestFee)
	if err != nil {
		return nil, errors.Wrap(err, "matchmaker: prepare candidate transaction")
	}
	candidate = candidate.Clone()
	candidate.VersionFix()

	sid := open.ID
	s := session.NewGuest(sid, candidate, open.Amount, guestFee, pocket.Index, peer, bufferCap)
	reg.Insert(s)

	hexTx, err := candidate.SerializeHex()
	if err != nil {
		return nil, errors.Wrap(err, "matchmaker: serialize candidate transaction")
	}
	body, err := wire.Encode(wire.JoinBody{ID: sid, Tx: hexTx, Initial: true})
	if err != nil {
		return nil, err
	}
	if err := gw.PostDH(peer.PubKey, wire.KindJoin, body, nil); err != nil {
		return nil, errors.Wrap(err, "matchmaker: send initial join reply")
	}
	return s, nil
}

// findMixingPocket scans store.Pockets() in index order for the first
// pocket with mixing enabled and a confirmed balance covering need.
// Ordering is deterministic on pocket index.
func findMixingPocket(store identity.Store, w wallet.Wallet, need int64) (*wallet.Pocket, error) {
	for _, p := range store.Pockets() {
		if !p.Mixing {
			continue
		}
		if w.GetBalance(p.Index, "hd").Confirmed < need {
			continue
		}
		return p, nil
	}
	return nil, ErrNoMixingPocket
}

// Package session implements the in-memory per-mix CoinJoin state
// machine. A Session owns exactly one CoinJoin in flight, advancing
// through announce/accepted/paired/sign/finished (or cancelled from
// any non-terminal state) as wire messages arrive from its
// counterparty.
package session

import (
	"fmt"
	"sync"

	"github.com/Kryndex/darkwallet/internal/log"
	"github.com/Kryndex/darkwallet/txjoin"
	"github.com/Kryndex/darkwallet/wallet"
	"github.com/Kryndex/darkwallet/wire"
)

var logger = log.NewModuleLogger("session")

// State is the closed sum type a Session's state belongs to. Unknown
// values are rejected at the boundaries that construct a Session.
type State int

const (
	StateAnnounce State = iota
	StateAccepted
	StatePaired
	StateSign
	StateFinished
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateAnnounce:
		return "announce"
	case StateAccepted:
		return "accepted"
	case StatePaired:
		return "paired"
	case StateSign:
		return "sign"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// rank gives the monotone ordering: announce < accepted < paired <
// sign < finished, with cancelled reachable from any non-terminal
// state (and therefore not part of the ordering).
func (s State) rank() int {
	switch s {
	case StateAnnounce:
		return 0
	case StateAccepted:
		return 1
	case StatePaired:
		return 2
	case StateSign:
		return 3
	case StateFinished:
		return 4
	default:
		return -1
	}
}

// Role is the closed sum type a Session's role belongs to.
type Role int

const (
	RoleInitiator Role = iota
	RoleGuest
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "guest"
}

var (
	ErrUnexpectedState = fmt.Errorf("session: message not expected in current state")
	ErrTerminal        = fmt.Errorf("session: already terminal")
	ErrMonotone        = fmt.Errorf("session: state transition would move backward")
)

// Session is the per-mix CoinJoin instance.
type Session struct {
	mu sync.Mutex

	ID    string
	Role  Role
	state State

	MyTx     *wallet.Tx // immutable after construction
	Tx       *wallet.Tx // monotonically refined until finished
	MyAmount int64
	Fee      int64

	Peer *wire.Peer

	// Pocket is set for guest sessions only.
	Pocket *int

	// Task is set for initiator sessions only.
	Task *wire.Task

	// Received buffers candidate replies while in StateAnnounce,
	// bounded to bufferCap.
	Received []wire.Message

	bufferCap int

	pendingOutbound *wire.JoinBody

	budgetApplied bool
}

// defaultBufferCap is used when a caller constructs a Session without
// an explicit buffer cap (bufferCap <= 0).
const defaultBufferCap = 32

// NewInitiator constructs a fresh initiator Session for a task,
// already in StateAnnounce. bufferCap bounds the Received buffer; pass
// 0 to take the default.
func NewInitiator(id string, myTx *wallet.Tx, amount, fee int64, task *wire.Task, bufferCap int) *Session {
	if bufferCap <= 0 {
		bufferCap = defaultBufferCap
	}
	return &Session{
		ID:        id,
		Role:      RoleInitiator,
		state:     StateAnnounce,
		MyTx:      myTx,
		MyAmount:  amount,
		Fee:       fee,
		Task:      task,
		bufferCap: bufferCap,
	}
}

// NewGuest constructs a freshly accepted guest Session, already in
// StateAccepted. bufferCap bounds the Received buffer; pass 0 to take
// the default (a guest session never actually buffers, since it is
// never created in StateAnnounce, but the field is kept consistent
// with NewInitiator).
func NewGuest(id string, myTx *wallet.Tx, amount, fee int64, pocket int, peer wire.Peer, bufferCap int) *Session {
	if bufferCap <= 0 {
		bufferCap = defaultBufferCap
	}
	p := pocket
	return &Session{
		ID:        id,
		Role:      RoleGuest,
		state:     StateAccepted,
		MyTx:      myTx,
		MyAmount:  amount,
		Fee:       fee,
		Pocket:    &p,
		Peer:      &peer,
		bufferCap: bufferCap,
	}
}

// State returns the current state under lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState enforces the monotone ordering invariant.
func (s *Session) setState(next State) error {
	if s.state == StateCancelled || s.state == StateFinished {
		return ErrTerminal
	}
	if next == StateCancelled {
		s.state = next
		return nil
	}
	if next.rank() < s.state.rank() {
		return ErrMonotone
	}
	s.state = next
	logger.Info("state transition", "id", s.ID, "role", s.Role.String(), "state", s.state.String())
	return nil
}

// Terminal reports whether the session is finished or cancelled. A
// terminal session is deleted from the registry before the next
// external message is processed for its id.
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateFinished || s.state == StateCancelled
}

// Cancel moves the session to StateCancelled from any non-terminal
// state. No outbound message is produced; peers detect cancellation
// through their own ping timeout.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinished {
		return
	}
	s.state = StateCancelled
	s.pendingOutbound = nil
	logger.Info("cancelled", "id", s.ID, "role", s.Role.String())
}

// Buffer appends a candidate reply while the session is in
// StateAnnounce, bounded to the session's bufferCap. Returns false if
// the session isn't buffering (caller should process immediately
// instead).
func (s *Session) Buffer(msg wire.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAnnounce {
		return false
	}
	if len(s.Received) >= s.bufferCap {
		return true // still "buffering state"; drop the overflow silently
	}
	s.Received = append(s.Received, msg)
	return true
}

// DrainOne clears the Received buffer and returns a uniformly random
// element, or (zero, false) if the buffer is empty. Exactly one
// candidate is ever chosen; the rest are dropped.
func (s *Session) DrainOne(pick func(n int) int) (wire.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Received) == 0 {
		return wire.Message{}, false
	}
	idx := pick(len(s.Received))
	chosen := s.Received[idx]
	s.Received = nil
	return chosen, true
}

// PendingOutbound returns (and clears) a message AddSignatures staged for the coordinator to forward: how the guest's
// partially-signed copy makes it back to the initiator without the
// coordinator re-deriving what to send.
func (s *Session) PendingOutbound() (wire.JoinBody, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingOutbound == nil {
		return wire.JoinBody{}, false
	}
	body := *s.pendingOutbound
	s.pendingOutbound = nil
	return body, true
}

// Process advances the session on an inbound CoinJoin message. It
// returns forward=true when the coordinator should send the session's
// current Tx to peer via postDH.
func (s *Session) Process(body wire.JoinBody, peer wire.Peer) (forward bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.Role {
	case RoleInitiator:
		return s.processInitiatorLocked(body, peer)
	case RoleGuest:
		return s.processGuestLocked(body, peer)
	default:
		return false, fmt.Errorf("session: unknown role %v", s.Role)
	}
}

func (s *Session) processInitiatorLocked(body wire.JoinBody, peer wire.Peer) (bool, error) {
	switch s.state {
	case StateAnnounce:
		peerTx, err := wallet.DecodeTxHex(body.Tx)
		if err != nil {
			return false, err
		}
		joint, err := txjoin.Join(s.MyTx, peerTx)
		if err != nil {
			return false, err
		}
		s.Tx = joint
		s.Peer = &peer
		if err := s.setState(StatePaired); err != nil {
			return false, err
		}
		return true, nil
	case StatePaired:
		signedCopy, err := wallet.DecodeTxHex(body.Tx)
		if err != nil {
			return false, err
		}
		if err := txjoin.MergeSignatures(s.Tx, signedCopy); err != nil {
			return false, err
		}
		return false, s.setState(StateSign)
	default:
		return false, ErrUnexpectedState
	}
}

func (s *Session) processGuestLocked(body wire.JoinBody, peer wire.Peer) (bool, error) {
	switch s.state {
	case StateAccepted:
		peerTx, err := wallet.DecodeTxHex(body.Tx)
		if err != nil {
			return false, err
		}
		if err := txjoin.ContainsOwn(peerTx, s.MyTx); err != nil {
			return false, err
		}
		s.Tx = peerTx
		s.Peer = &peer
		return false, s.setState(StateSign)
	default:
		return false, ErrUnexpectedState
	}
}

// AddSignatures folds this node's own-input signatures into Tx. For
// the initiator, which signs last, this completes the transaction and
// moves the session to StateFinished. For the guest, which signs
// first, this stages the signed copy as PendingOutbound for the
// coordinator to forward back to the initiator.
func (s *Session) AddSignatures(signed *wallet.Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSign {
		return ErrUnexpectedState
	}
	s.Tx = signed

	switch s.Role {
	case RoleInitiator:
		if !txjoin.FullySigned(s.Tx) {
			return fmt.Errorf("session: initiator signature did not complete the transaction")
		}
		return s.setState(StateFinished)
	case RoleGuest:
		hexTx, err := s.Tx.SerializeHex()
		if err != nil {
			return err
		}
		s.pendingOutbound = &wire.JoinBody{ID: s.ID, Tx: hexTx}
		return s.setState(StateFinished)
	default:
		return fmt.Errorf("session: unknown role %v", s.Role)
	}
}

// MarkBudgetApplied reports and records, exactly once, whether the
// caller should now apply guest budget accounting.
func (s *Session) MarkBudgetApplied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budgetApplied {
		return false
	}
	s.budgetApplied = true
	return true
}


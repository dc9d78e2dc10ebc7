// Package coordinator implements Coordinator: the top-level service
// wiring every other component together. It reacts
// to transport connect/disconnect events, enables and tears down the
// lobby channel as mixing demand changes, resumes persisted tasks,
// routes inbound CoinJoin messages to the Matchmaker or an existing
// Session, and carries out the per-state reaction table that drives a
// Session from announce through to a broadcast transaction.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/Kryndex/darkwallet/budget"
	"github.com/Kryndex/darkwallet/channel"
	"github.com/Kryndex/darkwallet/identity"
	"github.com/Kryndex/darkwallet/internal/config"
	"github.com/Kryndex/darkwallet/internal/log"
	"github.com/Kryndex/darkwallet/matchmaker"
	"github.com/Kryndex/darkwallet/registry"
	"github.com/Kryndex/darkwallet/retry"
	"github.com/Kryndex/darkwallet/safe"
	"github.com/Kryndex/darkwallet/session"
	"github.com/Kryndex/darkwallet/signer"
	"github.com/Kryndex/darkwallet/wallet"
	"github.com/Kryndex/darkwallet/wire"

	"github.com/Kryndex/darkwallet/gui"
)

var logger = log.NewModuleLogger("coordinator")

var (
	metricAnnounced = metrics.NewRegisteredCounter("mixer/sessions/announced", nil)
	metricFinished  = metrics.NewRegisteredCounter("mixer/sessions/finished", nil)
	metricCancelled = metrics.NewRegisteredCounter("mixer/sessions/cancelled", nil)
	metricFallback  = metrics.NewRegisteredCounter("mixer/sessions/fallback", nil)
	metricBudget    = metrics.NewRegisteredCounter("mixer/budget/spent", nil)
)

// Clock abstracts wall-clock reads so tests can drive retry ticks
// deterministically without sleeping.
type Clock func() int64

// Coordinator is the top-level mixer service.
//
// exec serializes every external entry point (transport events, the
// three inbound message kinds, and retry ticks) onto one logical
// executor: a per-session lock alone isn't enough, since matchmaking
// touches the cross-session registry. Each handler below takes exec
// for its whole body rather than relying on Session's or Registry's
// own internal locks to stand in for that guarantee.
type Coordinator struct {
	cfg       *config.Config
	transport channel.Transport
	gw        *channel.Gateway
	wallet    wallet.Wallet
	store     identity.Store
	safe      safe.Safe
	bus       gui.Bus
	reg       *registry.Registry
	retry     *retry.Scheduler
	signer    *signer.Bridge
	now       Clock

	exec    sync.Mutex
	stopped bool
}

// New wires a Coordinator from its collaborators. now defaults to
// time.Now().Unix() when nil.
func New(cfg *config.Config, transport channel.Transport, w wallet.Wallet, store identity.Store, sf safe.Safe, bus gui.Bus, now Clock) *Coordinator {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	gw := channel.New(transport, cfg.ChannelName())
	c := &Coordinator{
		cfg:       cfg,
		transport: transport,
		gw:        gw,
		wallet:    w,
		store:     store,
		safe:      sf,
		bus:       bus,
		reg:       registry.New(),
		retry:     retry.New(time.Duration(cfg.RetryIntervalSeconds) * time.Second),
		signer:    signer.New(sf, w, store),
		now:       now,
	}
	gw.Subscribe(wire.KindOpen, c.onOpen)
	gw.Subscribe(wire.KindJoin, c.onJoin)
	gw.Subscribe(wire.KindFinish, c.onFinish)
	return c
}

// Registry exposes the session registry for the debug HTTP surface.
func (c *Coordinator) Registry() *registry.Registry { return c.reg }

// PendingTaskCount reports how many mixer tasks are still in the
// announce state, for the debug HTTP surface.
func (c *Coordinator) PendingTaskCount() int {
	n := 0
	for _, t := range c.store.Tasks("mixer") {
		if t.State == wire.TaskAnnounce {
			n++
		}
	}
	return n
}

// Stop drains the event loop and tears the channel down: outstanding
// retry timers are cancelled, in-flight sessions are dropped from the
// registry (their tasks remain persisted and resume on the next
// connected/resumeTasks cycle, same as a transport disconnect), and no
// further transport callback does anything once stopped is set. Stop
// blocks until any handler already running when it was called has
// released exec.
func (c *Coordinator) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.exec.Lock()
		defer c.exec.Unlock()
		if c.stopped {
			close(done)
			return
		}
		c.stopped = true
		c.retry.CancelAll()
		c.reg.Clear()
		if err := c.gw.Close(); err != nil {
			logger.Warn("close channel on stop failed", "err", err)
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnTransportEvent reacts to a transport-level lifecycle event:
// connected | disconnect | disconnected.
func (c *Coordinator) OnTransportEvent(eventType string) {
	c.exec.Lock()
	defer c.exec.Unlock()
	if c.stopped {
		return
	}
	switch eventType {
	case "connected":
		c.checkMixing()
		c.resumeTasks()
	case "disconnect", "disconnected":
		c.gw.Close()
		c.reg.Clear()
		c.retry.CancelAll()
	default:
		logger.Warn("unknown transport event", "type", eventType)
	}
}

// checkMixing walks every HD pocket, demoting any whose password is no
// longer live in the safe, then ensures or closes the channel
// depending on whether any pocket is still mixing or any task remains
// persisted.
func (c *Coordinator) checkMixing() {
	anyMixing := false
	for _, p := range c.store.Pockets() {
		if !p.Mixing {
			continue
		}
		if !p.HasEncryptedHD {
			anyMixing = true
			continue
		}
		if _, ok := c.safe.Get("mixer", "pocket:"+strconv.Itoa(p.Index)); !ok {
			p.ClearHDKeys()
			logger.Info("pocket demoted, password no longer live", "pocket", p.Index)
			continue
		}
		anyMixing = true
	}
	tasks := c.store.Tasks("mixer")
	if anyMixing || len(tasks) > 0 {
		if err := c.gw.Ensure(); err != nil {
			logger.Warn("ensure channel failed", "err", err)
		}
		return
	}
	if err := c.gw.Close(); err != nil {
		logger.Warn("close channel failed", "err", err)
	}
}

// resumeTasks iterates persisted mixer tasks in order and starts each.
func (c *Coordinator) resumeTasks() {
	for _, t := range c.store.Tasks("mixer") {
		c.startTask(t)
	}
}

// startTask dispatches by task.State. Only TaskAnnounce is active;
// other states are accepted but are explicit no-ops.
func (c *Coordinator) startTask(task *wire.Task) {
	if task.State != wire.TaskAnnounce {
		return
	}

	id, err := newSessionID()
	if err != nil {
		logger.Warn("session id generation failed", "err", err)
		return
	}

	myTx, err := wallet.DecodeTxHex(task.Tx)
	if err != nil {
		logger.Warn("decode task tx failed", "err", err)
		return
	}
	myTx = myTx.Clone()
	myTx.VersionFix()

	if task.Timeout == 0 {
		task.Timeout = int64(c.cfg.DefaultTimeoutSeconds)
	}
	if task.Start == 0 {
		now := c.now()
		task.Start = now
		task.Ping = now
	}
	task.SessionID = id

	// Announcing the change amount instead of the total, half the time,
	// keeps a counterparty from distinguishing host from guest by
	// amount alone.
	amount := task.Total
	if task.Change > 0 && matchmaker.RandomIndex(2) == 0 {
		amount = task.Change
	}

	s := session.NewInitiator(id, myTx, amount, task.Fee, task, c.cfg.ReceivedBufferCap)
	c.reg.Insert(s)
	metricAnnounced.Inc(1)

	if err := c.gw.Ensure(); err != nil {
		logger.Warn("ensure channel for announce failed", "err", err)
		return
	}
	c.announce(s, task)
	c.scheduleTick(s, task)
}

// announce posts (or re-posts) the CoinJoinOpen broadcast for s.
func (c *Coordinator) announce(s *session.Session, task *wire.Task) {
	body, err := wire.Encode(wire.OpenBody{ID: s.ID, Amount: s.MyAmount})
	if err != nil {
		logger.Warn("encode CoinJoinOpen failed", "err", err)
		return
	}
	if err := c.gw.PostEncrypted(wire.KindOpen, body, nil); err != nil {
		logger.Warn("post CoinJoinOpen failed", "err", err)
	}
	c.bus.Post("mixer", gui.Event{Type: "mixer", State: gui.StateAnnouncing})
}

// scheduleTick arms the single outstanding retry timer for s.
func (c *Coordinator) scheduleTick(s *session.Session, task *wire.Task) {
	c.retry.Schedule(s.ID, func() { c.tick(s, task) })
}

// tick runs one Matchmaker retry evaluation for an announcing
// initiator Session.
func (c *Coordinator) tick(s *session.Session, task *wire.Task) {
	c.exec.Lock()
	defer c.exec.Unlock()
	if c.stopped {
		return
	}
	if s.Terminal() {
		return
	}
	if s.State() != session.StateAnnounce {
		c.checkLiveness(s, task)
		return
	}

	hardMixing := c.store.Settings().HardMixing()
	outcome, msg, ok := matchmaker.CheckAnnounce(s, c.now(), task, hardMixing)
	switch outcome {
	case matchmaker.OutcomeFallback:
		s.Cancel()
		metricCancelled.Inc(1)
		metricFallback.Inc(1)
		if err := c.wallet.SendFallback("mixer", task); err != nil {
			logger.Warn("send fallback failed", "err", err)
		}
		c.bus.Post("mixer", gui.Event{Type: "mixer", State: gui.StateSendingNoMixing})
		c.reg.CheckDelete(s.ID)
		c.checkMixing()
		return
	case matchmaker.OutcomeReannounce:
		c.announce(s, task)
		c.scheduleTick(s, task)
		return
	case matchmaker.OutcomeProcess:
		if !ok {
			return
		}
		body, err := wire.DecodeJoin(msg.Body)
		if err != nil {
			logger.Warn("decode buffered CoinJoin failed", "err", err)
			c.scheduleTick(s, task)
			return
		}
		c.advance(s, task, *body, msg.Peer)
		if !s.Terminal() {
			c.scheduleTick(s, task)
		}
	}
}

// checkLiveness cancels a session that has stopped making forward
// progress: now-ping > timeout/10.
func (c *Coordinator) checkLiveness(s *session.Session, task *wire.Task) {
	if task.Timeout > 0 && c.now()-task.Ping > task.Timeout/10 {
		s.Cancel()
		metricCancelled.Inc(1)
		c.reg.CheckDelete(s.ID)
		c.checkMixing()
		return
	}
	c.scheduleTick(s, task)
}

func (c *Coordinator) onOpen(msg wire.Message) {
	c.exec.Lock()
	defer c.exec.Unlock()
	if c.stopped {
		return
	}
	if !msg.Peer.Trusted {
		return
	}
	body, err := wire.DecodeOpen(msg.Body)
	if err != nil {
		logger.Warn("decode CoinJoinOpen failed", "err", err)
		return
	}
	if _, err := matchmaker.EvaluateOpening(c.reg, c.store, c.wallet, c.gw, *body, msg.Peer, c.cfg.GuestFeeSatoshis, c.cfg.ReceivedBufferCap); err != nil {
		logger.Info("declined opening", "id", body.ID, "err", err)
		return
	}
	metricAnnounced.Inc(1)
	c.checkMixing()
}

func (c *Coordinator) onJoin(msg wire.Message) {
	c.exec.Lock()
	defer c.exec.Unlock()
	if c.stopped {
		return
	}
	body, err := wire.DecodeJoin(msg.Body)
	if err != nil {
		logger.Warn("decode CoinJoin failed", "err", err)
		return
	}
	s, ok := c.reg.Get(body.ID)
	if !ok {
		return
	}
	if body.Initial && s.State() == session.StateAnnounce {
		s.Buffer(msg)
		return
	}
	var task *wire.Task
	if s.Role == session.RoleInitiator {
		task = s.Task
	}
	c.advance(s, task, *body, msg.Peer)
}

func (c *Coordinator) onFinish(msg wire.Message) {
	c.exec.Lock()
	defer c.exec.Unlock()
	if c.stopped {
		return
	}
	body, err := wire.DecodeFinish(msg.Body)
	if err != nil {
		logger.Warn("decode CoinJoinFinish failed", "err", err)
		return
	}
	if s, ok := c.reg.Get(body.ID); ok {
		s.Cancel()
		metricCancelled.Inc(1)
	}
	c.retry.Cancel(body.ID)
	c.reg.CheckDelete(body.ID)
	c.checkMixing()
}

// advance runs body through the session's state machine and carries
// out the per-state reaction table.
func (c *Coordinator) advance(s *session.Session, task *wire.Task, body wire.JoinBody, peer wire.Peer) {
	forward, err := s.Process(body, peer)
	if err != nil {
		logger.Warn("session process failed", "id", s.ID, "err", err)
		s.Cancel()
		metricCancelled.Inc(1)
		c.reg.CheckDelete(s.ID)
		c.checkMixing()
		return
	}

	if task != nil {
		task.Ping = c.now()
		if s.Role == session.RoleInitiator {
			task.State = toTaskState(s.State())
		}
	}

	switch s.State() {
	case session.StateAccepted, session.StatePaired:
		if forward {
			c.forwardTx(s, peer)
		}
		c.bus.Post("mixer", gui.Event{Type: "mixer", State: gui.State(s.State().String())})
	case session.StateSign:
		c.runSigner(s)
	case session.StateFinished:
		c.onFinished(s, task)
	case session.StateCancelled:
		c.reg.CheckDelete(s.ID)
	}

	c.reg.CheckDelete(s.ID)
	c.checkMixing()
}

func (c *Coordinator) forwardTx(s *session.Session, peer wire.Peer) {
	hexTx, err := s.Tx.SerializeHex()
	if err != nil {
		logger.Warn("serialize tx for forward failed", "id", s.ID, "err", err)
		return
	}
	body, err := wire.Encode(wire.JoinBody{ID: s.ID, Tx: hexTx})
	if err != nil {
		logger.Warn("encode forwarded join failed", "id", s.ID, "err", err)
		return
	}
	if err := c.gw.PostDH(peer.PubKey, wire.KindJoin, body, nil); err != nil {
		logger.Warn("forward tx failed", "id", s.ID, "err", err)
	}
}

// runSigner asks SignerBridge to sign this node's inputs, folds the
// result into the session, and — for a guest — forwards the session's
// staged PendingOutbound back to the initiator.
func (c *Coordinator) runSigner(s *session.Session) {
	ok, err := c.signer.RequestSignInputs(s)
	if err != nil || !ok {
		logger.Warn("signing failed", "id", s.ID, "err", err)
		s.Cancel()
		metricCancelled.Inc(1)
		c.reg.CheckDelete(s.ID)
		return
	}
	if err := s.AddSignatures(s.Tx); err != nil {
		logger.Warn("add signatures failed", "id", s.ID, "err", err)
		s.Cancel()
		metricCancelled.Inc(1)
		c.reg.CheckDelete(s.ID)
		return
	}
	if body, ok := s.PendingOutbound(); ok && s.Peer != nil {
		encoded, err := wire.Encode(body)
		if err != nil {
			logger.Warn("encode pending outbound failed", "id", s.ID, "err", err)
			return
		}
		if err := c.gw.PostDH(s.Peer.PubKey, wire.KindJoin, encoded, nil); err != nil {
			logger.Warn("send pending outbound failed", "id", s.ID, "err", err)
		}
	}
	if s.State() == session.StateFinished {
		c.onFinished(s, s.Task)
	}
}

// onFinished runs the terminal reaction for a finished session.
func (c *Coordinator) onFinished(s *session.Session, task *wire.Task) {
	metricFinished.Inc(1)
	switch s.Role {
	case session.RoleInitiator:
		hexTx, err := s.Tx.SerializeHex()
		if err != nil {
			logger.Warn("serialize final tx failed", "id", s.ID, "err", err)
			return
		}
		if task != nil {
			task.Tx = hexTx
			task.State = wire.TaskFinished
		}
		if err := c.wallet.BroadcastTx(s.Tx, s.ID, nil); err != nil {
			logger.Warn("broadcast failed", "id", s.ID, "err", err)
		}
		if err := c.store.Save(); err != nil {
			logger.Warn("persist finished task failed", "id", s.ID, "err", err)
		}
	case session.RoleGuest:
		if !s.MarkBudgetApplied() {
			return
		}
		pocket := findPocket(c.store, s)
		if pocket == nil {
			return
		}
		if err := budget.Apply(c.store, pocket, s.Fee); err != nil {
			logger.Warn("budget accounting failed", "id", s.ID, "err", err)
			return
		}
		metricBudget.Inc(s.Fee)
	}
}

func findPocket(store identity.Store, s *session.Session) *wallet.Pocket {
	if s.Pocket == nil {
		return nil
	}
	for _, p := range store.Pockets() {
		if p.Index == *s.Pocket {
			return p
		}
	}
	return nil
}

func toTaskState(s session.State) wire.TaskState {
	switch s {
	case session.StateAnnounce:
		return wire.TaskAnnounce
	case session.StateAccepted, session.StatePaired, session.StateSign:
		return wire.TaskPaired
	case session.StateFinished:
		return wire.TaskFinished
	default:
		return wire.TaskFinish
	}
}

// newSessionID derives a 32-byte hex session id by hashing CSPRNG
// entropy, rather than depending on a specific UUID layout.
func newSessionID() (string, error) {
	raw, err := uuid.GenerateRandomBytes(32)
	if err != nil {
		return "", errors.Wrap(err, "coordinator: generate session id entropy")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

package switchcore

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/goqueen/internal/hook"
	"github.com/dantte-lp/goqueen/internal/qstream"
	"github.com/dantte-lp/goqueen/internal/wire"
)

// defaultConnectTimeout bounds Connect when the caller's context carries
// no deadline of its own.
const defaultConnectTimeout = 60 * time.Second

// defaultStreamCapacity bounds each direction of a session's pipe when the
// caller does not override it.
const defaultStreamCapacity = 64

// Config configures a Manager. Every field is optional; zero values fall
// back to working defaults.
type Config struct {
	// Hooks is the switch's sole extension point. Nil means
	// hook.DefaultHooks{} — allow everything, do nothing extra.
	Hooks hook.Hooks

	// Metrics receives routing counters. Nil means a no-op sink.
	Metrics MetricsSink

	// Logger scopes all dispatch-loop logging. Nil means slog.Default().
	Logger *slog.Logger

	// DefaultCapacity bounds each new session's pipe in each direction.
	DefaultCapacity int

	// NodeID is stamped into every _auth reply's _noid field. The zero
	// value generates a fresh wire.ID at construction time.
	NodeID wire.ID

	// ConnectTimeout bounds Connect when ctx carries no deadline.
	ConnectTimeout time.Duration
}

// Manager is the switch core: the single-threaded router owning the
// session slab, the channel index, and the client-id index. All three are
// touched only from the goroutine running Run.
//
// Cross-goroutine callers only ever reach Manager through Connect (which
// hands work to the dispatch goroutine over connQueue) and the snapshot
// exposed by Stats — never through the session/chans/clients maps
// directly, so no mutex guards them.
type Manager struct {
	logger  *slog.Logger
	hooks   hook.Hooks
	metrics MetricsSink

	nodeID          wire.ID
	defaultCapacity int
	connectTimeout  time.Duration

	queue   *connQueue
	reactor reactor
	rng     *rand.Rand

	// Dispatch-goroutine-owned routing state.
	slab    slab
	chans   map[string]map[int]struct{}
	clients map[wire.ID]int

	// Written by the dispatch goroutine, read by Stats from anywhere.
	sessionCount atomic.Int64
	chanCount    atomic.Int64
}

// Stats is a point-in-time snapshot of switch-wide counters.
type Stats struct {
	SessionCount int
	ChanCount    int
}

// NewManager constructs a Manager. The returned Manager does not start
// routing until Run is called.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Hooks == nil {
		cfg.Hooks = hook.DefaultHooks{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	capacity := cfg.DefaultCapacity
	if capacity <= 0 {
		capacity = defaultStreamCapacity
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	nodeID := cfg.NodeID
	if nodeID.IsZero() {
		nodeID = wire.NewID()
	}

	queue, err := newConnQueue()
	if err != nil {
		return nil, fmt.Errorf("switchcore: create work queue: %w", err)
	}
	rtr, err := newReactor()
	if err != nil {
		queue.closeAll()
		return nil, fmt.Errorf("switchcore: create reactor: %w", err)
	}

	return &Manager{
		logger:          cfg.Logger.With(slog.String("component", "switchcore")),
		hooks:           cfg.Hooks,
		metrics:         cfg.Metrics,
		nodeID:          nodeID,
		defaultCapacity: capacity,
		connectTimeout:  timeout,
		queue:           queue,
		reactor:         rtr,
		rng:             rand.New(rand.NewPCG(seedPair())),
		chans:           make(map[string]map[int]struct{}),
		clients:         make(map[wire.ID]int),
	}, nil
}

// seedPair draws two independent 64-bit seeds from crypto/rand for the
// load-share PRNG. Determinism is not part of the contract, fairness is.
func seedPair() (uint64, uint64) {
	var buf [16]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		panic("switchcore: crypto/rand unavailable: " + err.Error())
	}
	return binary.BigEndian.Uint64(buf[0:8]), binary.BigEndian.Uint64(buf[8:16])
}

// -------------------------------------------------------------------------
// Connect — external entry point
// -------------------------------------------------------------------------

// Connect obtains a new session's local stream end. It pushes a NewConn
// packet onto the work queue and blocks until the dispatch goroutine
// accepts or rejects it, or ctx is done. If ctx carries no deadline,
// ConnectTimeout (default 60s) is applied.
//
// A cancelled/expired ctx does not un-queue the request: the dispatch
// goroutine still runs hook.Accept and, on accept, creates the session —
// only the result is discarded.
func (m *Manager) Connect(ctx context.Context, attr *wire.Message) (*qstream.End, error) {
	if attr == nil {
		attr = wire.NewMessage()
	}

	localEnd, remoteEnd, err := qstream.Pipe(m.defaultCapacity, attr)
	if err != nil {
		return nil, fmt.Errorf("switchcore: create stream: %w", err)
	}

	reply := make(chan bool, 1)
	req := &connRequest{end: remoteEnd, reply: reply}
	if !m.queue.push(req) {
		localEnd.Close()
		return nil, ErrSwitchClosed
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.connectTimeout)
		defer cancel()
	}

	select {
	case accepted := <-reply:
		if !accepted {
			localEnd.Close()
			return nil, ErrConnectionRefused
		}
		return localEnd, nil
	case <-ctx.Done():
		localEnd.Close()
		return nil, ctx.Err()
	}
}

// -------------------------------------------------------------------------
// Run — the dispatch loop
// -------------------------------------------------------------------------

// Run drives the switch until ctx is done or the reactor fails. On exit it
// removes every live session (emitting _ctbr for each), rejects any
// still-pending Connect requests, and releases the reactor.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.reactor.add(m.queue.fd(), workQueueToken); err != nil {
		return fmt.Errorf("switchcore: register work queue: %w", err)
	}

	stop := context.AfterFunc(ctx, m.queue.wake)
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			m.shutdown()
			return err
		}

		tokens, err := m.reactor.wait(reactorPollMillis)
		if err != nil {
			m.shutdown()
			return fmt.Errorf("switchcore: reactor wait: %w", err)
		}

		for _, token := range tokens {
			if token == workQueueToken {
				m.drainQueue()
				continue
			}
			m.serviceSession(token)
		}
	}
}

func (m *Manager) shutdown() {
	for _, sess := range m.slab.all() {
		m.removeSession(sess.token, sess)
	}
	m.queue.closeAll()
	if err := m.reactor.close(); err != nil {
		m.logger.Warn("reactor close failed", slog.Any("error", err))
	}
}

func (m *Manager) drainQueue() {
	for {
		req, ok := m.queue.pop()
		if !ok {
			return
		}
		m.acceptConn(req)
	}
}

func (m *Manager) acceptConn(req *connRequest) {
	sess := newSession(-1, req.end.Attr(), req.end)

	if !m.hooks.Accept(sess) {
		m.metrics.IncRejected()
		req.end.Close()
		req.reply <- false
		return
	}

	token := m.slab.insert(sess)
	sess.token = token

	if err := m.reactor.add(req.end.Fd(), token); err != nil {
		m.slab.remove(token)
		req.end.Close()
		m.logger.Warn("register session fd failed", slog.Any("error", err))
		req.reply <- false
		return
	}

	m.metrics.IncAccepted()
	m.refreshStats()
	req.reply <- true
}

func (m *Manager) serviceSession(token int) {
	sess := m.slab.get(token)
	if sess == nil {
		return
	}

	recv, ok := sess.end.TryRecv()
	if !ok {
		return
	}
	if recv.Closed {
		m.removeSession(token, sess)
		return
	}

	sess.sendCount++
	m.handleMessage(sess, recv.Message)
}

func (m *Manager) refreshStats() {
	n := m.slab.len()
	m.sessionCount.Store(int64(n))
	m.chanCount.Store(int64(len(m.chans)))
	m.metrics.SetSessionCount(n)
}

// Stats returns the most recent routing-state snapshot. Safe to call from
// any goroutine; the dispatch loop refreshes it on every accept, attach,
// detach, and remove.
func (m *Manager) Stats() Stats {
	return Stats{
		SessionCount: int(m.sessionCount.Load()),
		ChanCount:    int(m.chanCount.Load()),
	}
}

// -------------------------------------------------------------------------
// Message classification
// -------------------------------------------------------------------------

func (m *Manager) handleMessage(sess *Session, msg *wire.Message) {
	if !m.hooks.Recv(sess, msg) {
		msg.StampError(wire.ErrRefuseReceiveMessage)
		m.sendTo(sess, msg)
		return
	}

	chanName, ok := msg.GetString(wire.KeyChan)
	if !ok {
		msg.StampError(wire.ErrCannotGetChanField)
		m.sendTo(sess, msg)
		return
	}

	if wire.IsControlChan(chanName) {
		start := time.Now()
		m.dispatchControl(sess, chanName, msg)
		m.metrics.ObserveControlLatency(chanName, time.Since(start))
		return
	}

	m.relay(sess, chanName, msg)
}

func (m *Manager) dispatchControl(sess *Session, chanName string, msg *wire.Message) {
	if !sess.auth && chanName != wire.ChanAuth && chanName != wire.ChanPing && chanName != wire.ChanMine {
		msg.StampError(wire.ErrUnauthorized)
		m.sendTo(sess, msg)
		return
	}

	switch chanName {
	case wire.ChanAuth:
		m.handleAuth(sess, msg)
	case wire.ChanAttach:
		m.handleAttach(sess, msg)
	case wire.ChanDetach:
		m.handleDetach(sess, msg)
	case wire.ChanPing:
		m.handlePing(sess, msg)
	case wire.ChanQuery:
		m.handleQuery(sess, msg)
	case wire.ChanMine:
		m.handleMine(sess, msg)
	case wire.ChanCustom:
		m.handleCustom(sess, msg)
	case wire.ChanKill:
		m.handleKill(sess, msg)
	default:
		msg.StampError(wire.ErrUnsupportedChan)
		m.sendTo(sess, msg)
	}
}

// sendTo delivers msg to sess, running hook.Send first. A WouldBlock or
// closed stream is dropped with a warning — the sender is never told its
// own reply failed to arrive.
func (m *Manager) sendTo(sess *Session, msg *wire.Message) {
	if !m.hooks.Send(sess, msg) {
		return
	}
	if err := sess.end.Send(msg); err != nil {
		m.metrics.IncDropped()
		m.logger.Warn("reply dropped", slog.Int("token", sess.token), slog.Any("error", err))
	}
}

// -------------------------------------------------------------------------
// _auth
// -------------------------------------------------------------------------

func (m *Manager) handleAuth(sess *Session, msg *wire.Message) {
	if !m.hooks.Auth(sess, msg) {
		m.metrics.IncAuthFailure()
		msg.StampError(wire.ErrAuthenticationFailed)
		m.sendTo(sess, msg)
		return
	}

	root := false
	if f, present := msg.Get(wire.KeyRoot); present {
		if f.Tag != wire.TagBool {
			msg.StampError(wire.ErrInvalidRootFieldType)
			m.sendTo(sess, msg)
			return
		}
		root = f.Value.(bool)
	}

	if f, present := msg.Get(wire.KeyClID); present {
		if f.Tag != wire.TagID {
			msg.StampError(wire.ErrInvalidClientIdFieldType)
			m.sendTo(sess, msg)
			return
		}
		newID := f.Value.(wire.ID)
		if tok, exists := m.clients[newID]; exists && tok != sess.token {
			msg.StampError(wire.ErrDuplicateClientId)
			m.sendTo(sess, msg)
			return
		}
		if sess.hasClientID {
			delete(m.clients, sess.clientID)
		}
		sess.clientID = newID
		sess.hasClientID = true
		m.clients[newID] = sess.token
	} else if !sess.hasClientID {
		sess.clientID = wire.NewID()
		sess.hasClientID = true
		m.clients[sess.clientID] = sess.token
	}

	sess.auth = true
	sess.root = root

	msg.StampOK()
	msg.SetID(wire.KeyClID, sess.clientID)
	msg.SetID(wire.KeyNoID, m.nodeID)
	m.sendTo(sess, msg)

	// Emitted after the reply above is already enqueued.
	m.emitReady(sess)
}

// -------------------------------------------------------------------------
// _atta / _deta
// -------------------------------------------------------------------------

func (m *Manager) handleAttach(sess *Session, msg *wire.Message) {
	chanName, ok := msg.GetString(wire.KeyValue)
	if !ok {
		msg.StampError(wire.ErrCannotGetValueField)
		m.sendTo(sess, msg)
		return
	}
	if wire.AdminChannels[chanName] && !sess.root {
		msg.StampError(wire.ErrUnauthorized)
		m.sendTo(sess, msg)
		return
	}
	if !m.hooks.Attach(sess, msg, chanName) {
		msg.StampError(wire.ErrUnauthorized)
		m.sendTo(sess, msg)
		return
	}

	labels, ok := wire.DecodeLabelField(msg, wire.KeyLabel)
	if !ok {
		msg.StampError(wire.ErrInvalidLabelFieldType)
		m.sendTo(sess, msg)
		return
	}

	// Repeated attaches only ever widen the filter: an empty label set is
	// the wildcard, and once a subscription is wildcard it stays wildcard
	// until the channel is explicitly detached — a later labeled attach
	// must not narrow it.
	existing, had := sess.chans[chanName]
	switch {
	case !had:
		sess.chans[chanName] = labels
	case len(existing) == 0 || len(labels) == 0:
		sess.chans[chanName] = wire.LabelSet{}
	default:
		sess.chans[chanName] = existing.Union(labels)
	}

	subs, present := m.chans[chanName]
	if !present {
		subs = make(map[int]struct{})
		m.chans[chanName] = subs
	}
	subs[sess.token] = struct{}{}
	m.refreshStats()

	msg.StampOK()
	m.sendTo(sess, msg)

	labelField, hasLabel := msg.Get(wire.KeyLabel)
	m.emitAttach(sess, chanName, labelField, hasLabel)
}

func (m *Manager) handleDetach(sess *Session, msg *wire.Message) {
	chanName, ok := msg.GetString(wire.KeyValue)
	if !ok {
		msg.StampError(wire.ErrCannotGetValueField)
		m.sendTo(sess, msg)
		return
	}
	if !m.hooks.Detach(sess, msg, chanName) {
		msg.StampError(wire.ErrUnauthorized)
		m.sendTo(sess, msg)
		return
	}

	labelField, hasLabelField := msg.Get(wire.KeyLabel)
	labels, ok := wire.DecodeLabelField(msg, wire.KeyLabel)
	if !ok {
		msg.StampError(wire.ErrInvalidLabelFieldType)
		m.sendTo(sess, msg)
		return
	}

	if !hasLabelField || len(labels) == 0 {
		delete(sess.chans, chanName)
		if subs := m.chans[chanName]; subs != nil {
			delete(subs, sess.token)
			if len(subs) == 0 {
				delete(m.chans, chanName)
			}
		}
	} else if existing, had := sess.chans[chanName]; had {
		sess.chans[chanName] = existing.Subtract(labels)
	}
	m.refreshStats()

	msg.StampOK()
	m.sendTo(sess, msg)
	m.emitDetach(sess, chanName, labelField, hasLabelField)
}

// -------------------------------------------------------------------------
// _ping / _quer / _mine / _cust
// -------------------------------------------------------------------------

func (m *Manager) handlePing(sess *Session, msg *wire.Message) {
	m.hooks.Ping(sess, msg)
	msg.StampOK()
	m.sendTo(sess, msg)
}

func (m *Manager) handleQuery(sess *Session, msg *wire.Message) {
	if !sess.root {
		msg.StampError(wire.ErrUnauthorized)
		m.sendTo(sess, msg)
		return
	}
	m.hooks.Query(m, sess.token, msg)
	msg.StampOK()
	m.sendTo(sess, msg)
}

func (m *Manager) handleMine(sess *Session, msg *wire.Message) {
	snap := wire.NewMessage()
	snap.SetBool(wire.ChanAuth, sess.auth)
	snap.SetBool(wire.KeyRoot, sess.root)
	snap.SetMessage(wire.KeyChans, sess.aggregateChans())
	if clid, has := sess.ClientID(); has {
		snap.SetID(wire.KeyClID, clid)
	}
	snap.SetUint64(wire.KeySendCount, sess.sendCount)
	snap.SetUint64(wire.KeyRecvCount, sess.recvCount)
	if sess.attr != nil {
		snap.SetMessage(wire.KeyAttr, sess.attr.Clone())
	}

	msg.SetMessage(wire.KeyValue, snap)
	msg.StampOK()
	m.sendTo(sess, msg)
}

func (m *Manager) handleCustom(sess *Session, msg *wire.Message) {
	m.hooks.Custom(m, sess.token, msg)
}

// -------------------------------------------------------------------------
// _ctki — kill
// -------------------------------------------------------------------------

func (m *Manager) handleKill(sess *Session, msg *wire.Message) {
	if !sess.root {
		msg.StampError(wire.ErrUnauthorized)
		m.sendTo(sess, msg)
		return
	}
	if !m.hooks.Kill(sess, msg) {
		msg.StampError(wire.ErrUnauthorized)
		m.sendTo(sess, msg)
		return
	}

	f, present := msg.Get(wire.KeyClID)
	if !present {
		msg.StampError(wire.ErrTargetClientIdNotExist)
		m.sendTo(sess, msg)
		return
	}
	if f.Tag != wire.TagID {
		msg.StampError(wire.ErrInvalidClientIdFieldType)
		m.sendTo(sess, msg)
		return
	}

	targetID := f.Value.(wire.ID)
	targetTok, ok := m.clients[targetID]
	if !ok {
		msg.StampError(wire.ErrTargetClientIdNotExist)
		msg.SetID(wire.KeyClID, targetID)
		m.sendTo(sess, msg)
		return
	}

	msg.StampOK()
	msg.SetID(wire.KeyClID, targetID)
	m.sendTo(sess, msg)

	if target := m.slab.get(targetTok); target != nil {
		m.removeSession(targetTok, target)
	}
}

// -------------------------------------------------------------------------
// Relay — non-underscore channels
// -------------------------------------------------------------------------

func (m *Manager) relay(sess *Session, chanName string, msg *wire.Message) {
	if !sess.auth {
		msg.StampError(wire.ErrUnauthorized)
		m.sendTo(sess, msg)
		return
	}
	if !m.hooks.Emit(sess, msg) {
		msg.StampError(wire.ErrUnauthorized)
		m.sendTo(sess, msg)
		return
	}

	var replyTemplate *wire.Message
	if ackField, hasAck := msg.Get(wire.KeyAck); hasAck {
		replyTemplate = wire.NewMessage()
		replyTemplate.SetString(wire.KeyChan, chanName)
		replyTemplate.SetField(ackField)
		if idField, hasID := msg.Get(wire.KeyID); hasID {
			replyTemplate.SetField(idField)
		}
		replyTemplate.StampOK()
		msg.Del(wire.KeyAck)
	}

	toIDs, toOK := decodeToField(msg)
	if !toOK {
		msg.StampError(wire.ErrInvalidToFieldType)
		m.sendTo(sess, msg)
		return
	}

	if clid, has := sess.ClientID(); has {
		msg.SetID(wire.KeyFrom, clid)
	}

	labels, labelOK := wire.DecodeLabelField(msg, wire.KeyLabel)
	if !labelOK {
		msg.StampError(wire.ErrInvalidLabelFieldType)
		m.sendTo(sess, msg)
		return
	}

	var recipients []*Session
	switch {
	case len(toIDs) > 0:
		for _, id := range toIDs {
			tok, ok := m.clients[id]
			if !ok {
				msg.StampError(wire.ErrTargetClientIdNotExist)
				msg.SetID(wire.KeyClID, id)
				m.sendTo(sess, msg)
				return
			}
			if target := m.slab.get(tok); target != nil {
				recipients = append(recipients, target)
			}
		}

	case shareRequested(msg):
		eligible := m.eligibleSubscribers(chanName, labels)
		if len(eligible) == 0 {
			msg.StampError(wire.ErrNoConsumers)
			m.sendTo(sess, msg)
			return
		}
		recipients = []*Session{eligible[m.rng.IntN(len(eligible))]}

	default:
		recipients = m.eligibleSubscribers(chanName, labels)
		if len(recipients) == 0 {
			msg.StampError(wire.ErrNoConsumers)
			m.sendTo(sess, msg)
			return
		}
	}

	// NoConsumers is decided above, at selection time. A selected recipient
	// whose delivery is then vetoed by hook.Push, backpressured, or closed
	// is simply skipped — at-most-once delivery, and the sender is not
	// informed.
	for _, recipient := range recipients {
		if !m.hooks.Push(recipient, msg) {
			continue
		}
		deliveredMsg := msg.Clone()
		if err := recipient.end.Send(deliveredMsg); err != nil {
			m.metrics.IncDropped()
			m.logger.Warn("relay delivery dropped",
				slog.Int("token", recipient.token), slog.Any("error", err))
			continue
		}
		recipient.recvCount++
		m.metrics.IncRouted()
		m.emitRecv(recipient, deliveredMsg)
	}

	// Deliveries, then the aggregate event, then the ack reply — in that
	// order, so an ack always trails the fanout it confirms.
	m.emitSend(sess, msg)
	if replyTemplate != nil {
		m.sendTo(sess, replyTemplate)
	}
}

func shareRequested(msg *wire.Message) bool {
	v, ok := msg.GetBool(wire.KeyShare)
	return ok && v
}

// eligibleSubscribers returns chanName's subscribers whose label filter
// intersects labels, in ascending token order.
func (m *Manager) eligibleSubscribers(chanName string, labels wire.LabelSet) []*Session {
	subs := m.chans[chanName]
	if len(subs) == 0 {
		return nil
	}
	tokens := make([]int, 0, len(subs))
	for t := range subs {
		tokens = append(tokens, t)
	}
	sort.Ints(tokens)

	out := make([]*Session, 0, len(tokens))
	for _, t := range tokens {
		sess := m.slab.get(t)
		if sess == nil {
			continue
		}
		if wire.Intersects(labels, sess.chans[chanName]) {
			out = append(out, sess)
		}
	}
	return out
}

// decodeToField extracts the optional _to field: a MessageId or array
// thereof. An absent field yields (nil, true). Any other shape is rejected.
func decodeToField(msg *wire.Message) ([]wire.ID, bool) {
	f, present := msg.Get(wire.KeyTo)
	if !present {
		return nil, true
	}
	switch f.Tag {
	case wire.TagID:
		return []wire.ID{f.Value.(wire.ID)}, true
	case wire.TagArray:
		elems := f.Value.([]wire.Field)
		ids := make([]wire.ID, 0, len(elems))
		for _, e := range elems {
			if e.Tag != wire.TagID {
				return nil, false
			}
			ids = append(ids, e.Value.(wire.ID))
		}
		return ids, true
	default:
		return nil, false
	}
}

// -------------------------------------------------------------------------
// Administrative events
// -------------------------------------------------------------------------

// emitAdminEvent delivers build() to every other root subscriber of
// channel, never to actorToken. build is called at most once, after the
// state change it describes has already been committed.
func (m *Manager) emitAdminEvent(channel string, actorToken int, build func() *wire.Message) {
	subs := m.chans[channel]
	if len(subs) == 0 {
		return
	}

	tokens := make([]int, 0, len(subs))
	for t := range subs {
		if t != actorToken {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		return
	}
	sort.Ints(tokens)

	template := build()
	for _, t := range tokens {
		sess := m.slab.get(t)
		if sess == nil {
			continue
		}
		evt := template.Clone()
		if !m.hooks.Send(sess, evt) {
			continue
		}
		if err := sess.end.Send(evt); err != nil {
			m.metrics.IncDropped()
			m.logger.Warn("admin event dropped",
				slog.String("chan", channel), slog.Int("token", t), slog.Any("error", err))
		}
	}
}

func (m *Manager) emitReady(sess *Session) {
	m.emitAdminEvent(wire.ChanReady, sess.token, func() *wire.Message {
		evt := wire.NewMessage()
		evt.SetString(wire.KeyChan, wire.ChanReady)
		evt.SetBool(wire.KeyRoot, sess.root)
		if clid, has := sess.ClientID(); has {
			evt.SetID(wire.KeyClID, clid)
		}
		evt.SetMessage(wire.KeyLabel, sess.aggregateChans())
		if sess.attr != nil {
			evt.SetMessage(wire.KeyAttr, sess.attr.Clone())
		}
		return evt
	})
}

func (m *Manager) emitBreak(actorToken int, clid wire.ID, hasClid bool, chans *wire.Message, attr *wire.Message) {
	m.emitAdminEvent(wire.ChanBreak, actorToken, func() *wire.Message {
		evt := wire.NewMessage()
		evt.SetString(wire.KeyChan, wire.ChanBreak)
		if hasClid {
			evt.SetID(wire.KeyClID, clid)
		}
		evt.SetMessage(wire.KeyLabel, chans)
		if attr != nil {
			evt.SetMessage(wire.KeyAttr, attr)
		}
		return evt
	})
}

func (m *Manager) emitAttach(sess *Session, chanName string, labelField wire.Field, hasLabel bool) {
	m.emitAdminEvent(wire.ChanAttachEvt, sess.token, func() *wire.Message {
		evt := wire.NewMessage()
		evt.SetString(wire.KeyChan, wire.ChanAttachEvt)
		evt.SetString(wire.KeyValue, chanName)
		if hasLabel {
			evt.SetField(labelField)
		}
		if clid, has := sess.ClientID(); has {
			evt.SetID(wire.KeyClID, clid)
		}
		return evt
	})
}

func (m *Manager) emitDetach(sess *Session, chanName string, labelField wire.Field, hasLabel bool) {
	m.emitAdminEvent(wire.ChanDetachEvt, sess.token, func() *wire.Message {
		evt := wire.NewMessage()
		evt.SetString(wire.KeyChan, wire.ChanDetachEvt)
		evt.SetString(wire.KeyValue, chanName)
		if hasLabel {
			evt.SetField(labelField)
		}
		if clid, has := sess.ClientID(); has {
			evt.SetID(wire.KeyClID, clid)
		}
		return evt
	})
}

func (m *Manager) emitSend(sess *Session, forwarded *wire.Message) {
	m.emitAdminEvent(wire.ChanSendEvt, sess.token, func() *wire.Message {
		evt := wire.NewMessage()
		evt.SetString(wire.KeyChan, wire.ChanSendEvt)
		evt.SetMessage(wire.KeyValue, forwarded.Clone())
		return evt
	})
}

func (m *Manager) emitRecv(recipient *Session, delivered *wire.Message) {
	m.emitAdminEvent(wire.ChanRecvEvt, recipient.token, func() *wire.Message {
		evt := wire.NewMessage()
		evt.SetString(wire.KeyChan, wire.ChanRecvEvt)
		evt.SetMessage(wire.KeyValue, delivered.Clone())
		if clid, has := recipient.ClientID(); has {
			evt.SetID(wire.KeyTo, clid)
		}
		return evt
	})
}

// -------------------------------------------------------------------------
// Session removal
// -------------------------------------------------------------------------

func (m *Manager) removeSession(token int, sess *Session) {
	if err := m.reactor.remove(sess.end.Fd()); err != nil {
		m.logger.Warn("deregister session fd failed", slog.Int("token", token), slog.Any("error", err))
	}
	m.slab.remove(token)

	chansSnapshot := sess.aggregateChans()
	for chanName := range sess.chans {
		if subs := m.chans[chanName]; subs != nil {
			delete(subs, token)
			if len(subs) == 0 {
				delete(m.chans, chanName)
			}
		}
	}

	var clid wire.ID
	hasClid := sess.hasClientID
	if hasClid {
		clid = sess.clientID
		if m.clients[clid] == token {
			delete(m.clients, clid)
		}
	}

	sess.end.Close()
	m.hooks.Remove(sess)
	m.refreshStats()

	m.emitBreak(token, clid, hasClid, chansSnapshot, sess.attr)
}

// -------------------------------------------------------------------------
// hook.QueryContext — implemented by Manager, called only inline from
// handleQuery/handleCustom on the dispatch goroutine (never cross-goroutine,
// so no synchronization is needed here either).
// -------------------------------------------------------------------------

func (m *Manager) Session(token int) (hook.SessionView, bool) {
	sess := m.slab.get(token)
	if sess == nil {
		return nil, false
	}
	return sess, true
}

func (m *Manager) Sessions() []hook.SessionView {
	all := m.slab.all()
	out := make([]hook.SessionView, len(all))
	for i, s := range all {
		out[i] = s
	}
	return out
}

func (m *Manager) ChanSubscriberCount(chan_ string) int {
	return len(m.chans[chan_])
}

func (m *Manager) ChanCount() int {
	return len(m.chans)
}

// Reply lets Hooks.Custom answer a _cust message directly — _cust is the
// one control handler that decides for itself whether and how to reply,
// so unlike every other handler it does not auto-echo.
func (m *Manager) Reply(token int, msg *wire.Message) bool {
	sess := m.slab.get(token)
	if sess == nil {
		return false
	}
	m.sendTo(sess, msg)
	return true
}

var _ hook.QueryContext = (*Manager)(nil)

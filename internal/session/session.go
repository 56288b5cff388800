// Package session drives one random-connect attempt end to end: it finds
// a peer through the matchmaker, exchanges offer/answer/candidates over
// the signaling channel and reports lifecycle transitions to the
// presentation layer.
//
// All per-attempt state (match, connection, subscription, candidate
// buffer) is owned by the attempt created in Start and discarded on
// cleanup, so repeated searches can never leak subscriptions into each
// other.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/hup-social/connect/internal/match"
	"github.com/hup-social/connect/internal/models"
	"github.com/hup-social/connect/internal/rtc"
	"github.com/hup-social/connect/internal/signal"
)

// disconnectGrace is how long a connection may sit in the disconnected
// state before the session treats it as failed. WebRTC connections
// routinely bounce through disconnected during network changes.
const disconnectGrace = 10 * time.Second

// eventBuffer bounds the presentation feed. A consumer that stops
// draining loses events rather than wedging the session.
const eventBuffer = 32

type Options struct {
	SelfID     string
	Intent     string
	Matchmaker *match.Matchmaker
	Channel    signal.Channel

	// NewMedia acquires the local capture source. nil means a text-only
	// session with no media at all.
	NewMedia func() (rtc.Media, error)

	// NewConn builds the peer connection for one attempt, with the local
	// media attached.
	NewConn func(media rtc.Media) (rtc.Conn, error)

	Logger *slog.Logger
}

// Session is the state machine exposed to the presentation layer. All
// methods are safe for concurrent use.
type Session struct {
	opts Options

	mu      sync.Mutex
	status  models.Status
	attempt *attempt

	events chan Event
}

// attempt is the state of a single search, created in Start and
// discarded in cleanup.
type attempt struct {
	match   *models.Match
	media   rtc.Media
	conn    rtc.Conn
	sub     signal.Subscription
	pending *match.Pending

	offerSent bool
	answered  bool
	remoteSet bool
	candBuf   []webrtc.ICECandidateInit

	lastConnState rtc.State
	messageCount  int

	done     chan struct{}
	doneOnce sync.Once
}

func (a *attempt) finish() {
	a.doneOnce.Do(func() { close(a.done) })
}

func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		opts:   opts,
		status: models.StatusIdle,
		events: make(chan Event, eventBuffer),
	}
}

// Events is the feed of status transitions, chat messages and remote
// tracks. Consumers must drain it; the feed drops when full.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) Status() models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Match returns the current match, nil before one exists.
func (s *Session) Match() *models.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil || s.attempt.match == nil {
		return nil
	}
	m := *s.attempt.match
	return &m
}

// MessageCount reports how many chat messages this attempt has carried
// in either direction.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil {
		return 0
	}
	return s.attempt.messageCount
}

// Start moves idle → searching and runs the matchmaker. Media
// acquisition happens first: without a usable local stream the search
// never reaches the queue. On error the session is back at idle when
// Start returns; the error carries the taxonomy
// (rtc.MediaAcquisitionError, match.MatchmakingError, SignalingError).
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.StatusIdle {
		return fmt.Errorf("search already in progress (status %s)", s.status)
	}

	var media rtc.Media
	if s.opts.NewMedia != nil {
		var err error
		media, err = s.opts.NewMedia()
		if err != nil {
			s.emit(Event{Kind: KindStatus, Status: models.StatusFailed, Reason: err.Error()})
			s.emitStatusLocked(models.StatusIdle, "", nil)
			return err
		}
	}

	a := &attempt{media: media, done: make(chan struct{})}
	s.setStatusLocked(models.StatusSearching, "", nil)

	found, pending, err := s.opts.Matchmaker.Search(ctx, s.opts.SelfID, s.opts.Intent)
	if err != nil {
		if media != nil {
			media.Close()
		}
		s.emit(Event{Kind: KindStatus, Status: models.StatusFailed, Reason: err.Error()})
		s.setStatusLocked(models.StatusIdle, "", nil)
		return err
	}

	s.attempt = a

	if found != nil {
		if err := s.beginSignalingLocked(a, *found); err != nil {
			s.failLocked(a, err.Error(), false)
			return err
		}
		return nil
	}

	a.pending = pending
	go s.waitForMatch(a, pending)
	return nil
}

// Next performs full cleanup and immediately starts a fresh search. The
// new attempt always carries a new session ID.
func (s *Session) Next(ctx context.Context) error {
	s.mu.Lock()
	if s.attempt != nil {
		s.cleanupLocked(s.attempt, true)
		s.setStatusLocked(models.StatusIdle, "", nil)
	} else {
		s.status = models.StatusIdle
	}
	s.mu.Unlock()

	return s.Start(ctx)
}

// Stop tears the session down and returns to idle. Calling Stop on an
// already-idle session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempt == nil && s.status == models.StatusIdle {
		return
	}
	s.cleanupLocked(s.attempt, true)
	s.setStatusLocked(models.StatusIdle, "", nil)
}

// SendText publishes an in-session chat message to the peer.
func (s *Session) SendText(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.attempt
	if a == nil || a.sub == nil || a.match == nil {
		return fmt.Errorf("no active session")
	}

	data, err := json.Marshal(ChatMessage{Text: text, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshaling chat message: %w", err)
	}
	if err := s.publishLocked(ctx, a, signal.Message{
		Type: signal.TypeChat,
		From: s.opts.SelfID,
		Data: data,
	}); err != nil {
		return err
	}
	a.messageCount++
	return nil
}

// waitForMatch blocks a pending search until the match feed delivers,
// the queue entry lifetime passes, or the attempt is torn down.
func (s *Session) waitForMatch(a *attempt, pending *match.Pending) {
	timer := time.NewTimer(s.opts.Matchmaker.TTL())
	defer timer.Stop()

	select {
	case m, ok := <-pending.Matches:
		if !ok {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.attempt != a {
			return
		}
		pending.Stop()
		a.pending = nil
		if err := s.beginSignalingLocked(a, m); err != nil {
			s.failLocked(a, err.Error(), false)
		}

	case <-timer.C:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.attempt != a {
			return
		}
		s.opts.Logger.Info("pending search expired", "self", s.opts.SelfID)
		s.failLocked(a, "no match found", false)

	case <-a.done:
	}
}

// beginSignalingLocked wires the signaling channel and the peer
// connection for an established match. The initiator sends its one offer
// here; the other side answers from the read loop.
func (s *Session) beginSignalingLocked(a *attempt, m models.Match) error {
	a.match = &m
	s.setStatusLocked(models.StatusMatched, "", &m)

	sub, err := s.opts.Channel.Subscribe(context.Background(), m.SessionID)
	if err != nil {
		return &SignalingError{Op: "subscribe", Err: err}
	}
	a.sub = sub

	conn, err := s.opts.NewConn(a.media)
	if err != nil {
		return &ConnectionError{Reason: fmt.Sprintf("setup: %v", err)}
	}
	a.conn = conn

	conn.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		s.publishCandidate(a, candidate)
	})
	conn.OnStateChange(func(state rtc.State) {
		s.handleConnState(a, state)
	})
	conn.OnTrack(func(track *webrtc.TrackRemote) {
		s.emit(Event{Kind: KindTrack, Track: track})
	})

	go s.readLoop(a, sub)

	// The peer may have died between minting the match and signaling.
	// A session still not connected when the queue-entry lifetime has
	// passed is abandoned rather than sitting at matched forever.
	time.AfterFunc(s.opts.Matchmaker.TTL(), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.attempt == a && s.status != models.StatusConnected {
			s.failLocked(a, "signaling timed out", true)
		}
	})

	// Announce presence. The initiator offers once it sees the peer's
	// join; whichever side subscribed first re-announces in reply, so
	// the offer is never published before the peer is listening.
	return s.publishLocked(context.Background(), a, signal.Message{
		Type: signal.TypeJoin,
		From: s.opts.SelfID,
	})
}

// sendOfferLocked is one-shot: a session publishes at most one offer.
func (s *Session) sendOfferLocked(a *attempt) error {
	if a.offerSent {
		return nil
	}
	a.offerSent = true

	offer, err := a.conn.CreateOffer()
	if err != nil {
		return &ConnectionError{Reason: fmt.Sprintf("create offer: %v", err)}
	}
	if err := a.conn.SetLocalDescription(offer); err != nil {
		return &ConnectionError{Reason: fmt.Sprintf("apply local offer: %v", err)}
	}

	data, err := json.Marshal(offer)
	if err != nil {
		return &SignalingError{Op: "encode offer", Err: err}
	}
	return s.publishLocked(context.Background(), a, signal.Message{
		Type: signal.TypeOffer,
		From: s.opts.SelfID,
		Data: data,
	})
}

func (s *Session) readLoop(a *attempt, sub signal.Subscription) {
	for msg := range sub.Messages() {
		s.handleMessage(a, msg)
	}
}

func (s *Session) handleMessage(a *attempt, msg signal.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempt != a {
		return
	}
	// The channel broadcasts to both parties; our own echo is discarded.
	if msg.From == s.opts.SelfID {
		return
	}

	switch msg.Type {
	case signal.TypeJoin:
		s.handleJoinLocked(a)
	case signal.TypeOffer:
		s.handleOfferLocked(a, msg)
	case signal.TypeAnswer:
		s.handleAnswerLocked(a, msg)
	case signal.TypeCandidate:
		s.handleCandidateLocked(a, msg)
	case signal.TypeChat:
		s.handleChatLocked(a, msg)
	case signal.TypeBye:
		s.failLocked(a, "peer left", false)
	default:
		s.opts.Logger.Warn("unknown signal message type", "type", msg.Type)
	}
}

func (s *Session) handleJoinLocked(a *attempt) {
	if a.match.IsInitiator {
		if err := s.sendOfferLocked(a); err != nil {
			s.failLocked(a, err.Error(), true)
		}
		return
	}
	// The peer announced after us, which means it never saw our join.
	// Re-announce so the initiator knows we are listening.
	if !a.answered {
		err := s.publishLocked(context.Background(), a, signal.Message{
			Type: signal.TypeJoin,
			From: s.opts.SelfID,
		})
		if err != nil {
			s.opts.Logger.Warn("join reply failed", "error", err)
		}
	}
}

func (s *Session) handleOfferLocked(a *attempt, msg signal.Message) {
	if a.match.IsInitiator || a.answered {
		return
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Data, &offer); err != nil {
		s.opts.Logger.Warn("dropping malformed offer", "error", err)
		return
	}

	if err := a.conn.SetRemoteDescription(offer); err != nil {
		s.failLocked(a, fmt.Sprintf("apply remote offer: %v", err), true)
		return
	}
	a.remoteSet = true
	s.flushCandidatesLocked(a)

	answer, err := a.conn.CreateAnswer()
	if err != nil {
		s.failLocked(a, fmt.Sprintf("create answer: %v", err), true)
		return
	}
	if err := a.conn.SetLocalDescription(answer); err != nil {
		s.failLocked(a, fmt.Sprintf("apply local answer: %v", err), true)
		return
	}

	data, err := json.Marshal(answer)
	if err != nil {
		s.failLocked(a, fmt.Sprintf("encode answer: %v", err), true)
		return
	}
	if err := s.publishLocked(context.Background(), a, signal.Message{
		Type: signal.TypeAnswer,
		From: s.opts.SelfID,
		Data: data,
	}); err != nil {
		s.failLocked(a, err.Error(), false)
		return
	}

	a.answered = true
	s.setStatusLocked(models.StatusConnected, "", a.match)
}

func (s *Session) handleAnswerLocked(a *attempt, msg signal.Message) {
	// Duplicate answers are a no-op; only the initiator applies one.
	if !a.match.IsInitiator || a.remoteSet {
		return
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Data, &answer); err != nil {
		s.opts.Logger.Warn("dropping malformed answer", "error", err)
		return
	}

	if err := a.conn.SetRemoteDescription(answer); err != nil {
		s.failLocked(a, fmt.Sprintf("apply remote answer: %v", err), true)
		return
	}
	a.remoteSet = true
	s.flushCandidatesLocked(a)
	s.setStatusLocked(models.StatusConnected, "", a.match)
}

func (s *Session) handleCandidateLocked(a *attempt, msg signal.Message) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Data, &candidate); err != nil {
		s.opts.Logger.Warn("dropping malformed candidate", "error", err)
		return
	}

	// Candidates may outrun the offer/answer; buffer until the remote
	// description is in place.
	if !a.remoteSet {
		a.candBuf = append(a.candBuf, candidate)
		return
	}
	if err := a.conn.AddICECandidate(candidate); err != nil {
		s.opts.Logger.Warn("adding remote candidate failed", "error", err)
	}
}

func (s *Session) flushCandidatesLocked(a *attempt) {
	for _, candidate := range a.candBuf {
		if err := a.conn.AddICECandidate(candidate); err != nil {
			s.opts.Logger.Warn("adding buffered candidate failed", "error", err)
		}
	}
	a.candBuf = nil
}

func (s *Session) handleChatLocked(a *attempt, msg signal.Message) {
	var chat ChatMessage
	if err := json.Unmarshal(msg.Data, &chat); err != nil {
		s.opts.Logger.Warn("dropping malformed chat message", "error", err)
		return
	}
	chat.From = msg.From
	a.messageCount++
	s.emit(Event{Kind: KindChat, Chat: &chat})
}

func (s *Session) publishCandidate(a *attempt, candidate webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != a || a.sub == nil {
		return
	}
	data, err := json.Marshal(candidate)
	if err != nil {
		s.opts.Logger.Warn("encoding candidate failed", "error", err)
		return
	}
	if err := s.publishLocked(context.Background(), a, signal.Message{
		Type: signal.TypeCandidate,
		From: s.opts.SelfID,
		Data: data,
	}); err != nil {
		s.opts.Logger.Warn("publishing candidate failed", "error", err)
	}
}

func (s *Session) handleConnState(a *attempt, state rtc.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != a {
		return
	}
	a.lastConnState = state

	switch state {
	case rtc.StateConnected:
		if s.status != models.StatusConnected {
			s.setStatusLocked(models.StatusConnected, "", a.match)
		}

	case rtc.StateFailed:
		s.failLocked(a, "connection failed", false)

	case rtc.StateDisconnected:
		// Give the connection a window to recover before declaring it dead.
		time.AfterFunc(disconnectGrace, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.attempt == a && a.lastConnState == rtc.StateDisconnected {
				s.failLocked(a, "connection lost", false)
			}
		})
	}
}

func (s *Session) publishLocked(ctx context.Context, a *attempt, msg signal.Message) error {
	if err := s.opts.Channel.Publish(ctx, a.match.SessionID, msg); err != nil {
		return &SignalingError{Op: "publish " + string(msg.Type), Err: err}
	}
	return nil
}

// failLocked surfaces a failure on the event feed, then tears the
// attempt down. The session comes to rest at idle per the lifecycle.
func (s *Session) failLocked(a *attempt, reason string, sendBye bool) {
	s.opts.Logger.Warn("session failed", "self", s.opts.SelfID, "reason", reason)
	var m *models.Match
	if a != nil {
		m = a.match
	}
	s.emit(Event{Kind: KindStatus, Status: models.StatusFailed, Reason: reason, Match: m})
	s.cleanupLocked(a, sendBye)
	s.setStatusLocked(models.StatusIdle, "", nil)
}

// cleanupLocked releases everything an attempt holds. Each step is
// independent: a failing unsubscribe never stops the connection close or
// the queue removal.
func (s *Session) cleanupLocked(a *attempt, sendBye bool) {
	if a == nil {
		s.attempt = nil
		return
	}

	if sendBye && a.sub != nil && a.match != nil {
		if err := s.publishLocked(context.Background(), a, signal.Message{
			Type: signal.TypeBye,
			From: s.opts.SelfID,
		}); err != nil {
			s.opts.Logger.Debug("bye publish failed", "error", err)
		}
	}

	a.finish()

	if a.pending != nil {
		a.pending.Stop()
		a.pending = nil
	}
	if err := s.opts.Matchmaker.Cancel(context.Background(), s.opts.SelfID); err != nil {
		s.opts.Logger.Warn("queue removal failed during cleanup", "error", err)
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			s.opts.Logger.Warn("closing connection failed", "error", err)
		}
		a.conn = nil
	}
	if a.media != nil {
		if err := a.media.Close(); err != nil {
			s.opts.Logger.Warn("closing media failed", "error", err)
		}
		a.media = nil
	}
	if a.sub != nil {
		if err := a.sub.Close(); err != nil {
			s.opts.Logger.Warn("unsubscribing failed", "error", err)
		}
		a.sub = nil
	}
	a.candBuf = nil

	if s.attempt == a {
		s.attempt = nil
	}
}

func (s *Session) setStatusLocked(status models.Status, reason string, m *models.Match) {
	s.status = status
	s.emitStatusLocked(status, reason, m)
}

func (s *Session) emitStatusLocked(status models.Status, reason string, m *models.Match) {
	s.emit(Event{Kind: KindStatus, Status: status, Reason: reason, Match: m})
}

// emit never blocks the session on a stalled consumer. Chat and track
// events drop when the feed is full; status transitions evict the oldest
// queued event instead, so a lifecycle change is never silently lost.
func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
		return
	default:
	}

	if event.Kind != KindStatus {
		s.opts.Logger.Warn("event feed full, dropping event", "kind", event.Kind)
		return
	}

	select {
	case <-s.events:
	default:
	}
	select {
	case s.events <- event:
	default:
		s.opts.Logger.Warn("event feed full, dropping status event", "status", event.Status)
	}
}

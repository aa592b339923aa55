// Package verification drives one gate console through scan, lookup,
// confirmation and verification of a ticket.
//
// A Session is a small state machine guarded by one mutex. Every backend
// call captures the session generation before it is dispatched; Reset,
// Close and any newer lookup bump the generation, so a result that arrives
// for an older generation is dropped instead of overwriting what the
// operator is looking at.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticket-verifier/internal/authority"
	"ticket-verifier/internal/resolver"
	"ticket-verifier/internal/scanner"
	"ticket-verifier/internal/status"
	"ticket-verifier/models"
	"ticket-verifier/monitoring"
	"ticket-verifier/utils"
)

// Observer receives every terminal outcome of a session. Implementations
// must not block for long: they run on the goroutine that completed the
// transition.
type Observer interface {
	Observe(ctx context.Context, r Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r Result)

func (f ObserverFunc) Observe(ctx context.Context, r Result) { f(ctx, r) }

// Limiter throttles manual identifier entry per operator. Allow returns
// status.ErrRateLimited when the operator is over budget.
type Limiter interface {
	Allow(ctx context.Context, operator string) error
}

type Options struct {
	ID       string
	Operator string
	// Token is the operator credential forwarded to the authority.
	Token string

	Lookup   authority.Lookup
	Verifier authority.Verifier
	Scanner  scanner.Factory

	Limiter   Limiter
	Observers []Observer
}

type Session struct {
	id        string
	operator  string
	token     string
	lookup    authority.Lookup
	verifier  authority.Verifier
	newSource scanner.Factory
	limiter   Limiter
	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// starting serializes Source.Start so only one device open is ever in
	// progress. It is never taken while mu is held.
	starting sync.Mutex

	mu         sync.Mutex
	phase      Phase
	generation uint64
	closed     bool
	verifying  bool           // MarkUsed outstanding, independent of generation
	scan       scanner.Source // built on first start, reused for the session's life
	source     scanner.Source // scan while it is delivering, nil otherwise
	payload    string
	ticketID   string
	record     *models.TicketRecord
	outcome    Outcome
	errKind    status.Kind
	message    string
	lastActive time.Time

	listeners    map[int]func(State)
	nextListener int
}

func NewSession(opts Options) (*Session, error) {
	if opts.Lookup == nil || opts.Verifier == nil {
		return nil, errors.New("verification: lookup and verifier are required")
	}
	if opts.ID == "" {
		opts.ID = utils.RequestID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         opts.ID,
		operator:   opts.Operator,
		token:      opts.Token,
		lookup:     opts.Lookup,
		verifier:   opts.Verifier,
		newSource:  opts.Scanner,
		limiter:    opts.Limiter,
		observers:  opts.Observers,
		ctx:        ctx,
		cancel:     cancel,
		phase:      PhaseIdle,
		message:    msgIdle,
		lastActive: time.Now(),
		listeners:  make(map[int]func(State)),
	}
	monitoring.SessionOpened()
	return s, nil
}

func (s *Session) ID() string { return s.id }

// SetToken replaces the credential used for calls dispatched from now on,
// e.g. after the operator signed in again.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to be called with the new state after every
// transition. Calls may come from background goroutines. fn must not call
// back into the session.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// StartScanning opens a fresh scan source. On failure the session enters
// Error with CameraUnavailable and the camera error is also returned.
//
// The session keeps a single Source, so a restart waits for the previous
// run to release its device before opening it again.
func (s *Session) StartScanning(ctx context.Context) error {
	s.starting.Lock()
	defer s.starting.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return status.ErrSessionClosed
	}
	if s.phase.Busy() {
		s.mu.Unlock()
		return status.ErrBusy
	}
	if s.phase == PhaseScanning {
		s.mu.Unlock()
		return nil
	}

	if s.scan == nil && s.newSource != nil {
		s.scan = s.newSource()
	}
	src := s.scan
	s.generation++
	gen := s.generation
	s.clearLocked()
	s.touchLocked()

	if src == nil {
		err := fmt.Errorf("%w: no scanner configured", status.ErrCameraUnavailable)
		s.failLocked(err)
		s.commit(nil)
		return err
	}

	s.source = src
	s.phase = PhaseScanning
	s.message = msgScanning
	s.commit(nil)

	// Start runs without mu: it may wait for the previous run to release the
	// device, and that run's loop may be blocked on mu in onDecode.
	err := src.Start(ctx, func(payload string) { s.onDecode(gen, src, payload) })

	s.mu.Lock()
	live := !s.closed && s.generation == gen && s.source == src
	if err != nil {
		if !live {
			s.mu.Unlock()
			return err
		}
		s.source = nil
		s.failLocked(err)
		s.commit(nil)
		return err
	}
	s.mu.Unlock()

	if !live {
		// Reset or Close won the race while the device was opening.
		src.Stop()
	}
	return nil
}

// StopScanning returns a scanning session to Idle. It is a no-op in any
// other phase.
func (s *Session) StopScanning() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return status.ErrSessionClosed
	}
	if s.phase != PhaseScanning {
		s.mu.Unlock()
		return nil
	}
	src := s.source
	s.source = nil
	s.generation++
	s.clearLocked()
	s.touchLocked()
	s.commit(nil)

	if src != nil {
		src.Stop()
	}
	return nil
}

func (s *Session) onDecode(gen uint64, src scanner.Source, payload string) {
	s.mu.Lock()
	if s.closed || s.generation != gen || s.phase != PhaseScanning {
		s.mu.Unlock()
		monitoring.TrackIgnoredDecode()
		return
	}

	// Latch the first payload.
	s.source = nil
	s.generation++
	gen = s.generation
	s.payload = payload
	s.phase = PhaseResolving
	s.message = msgResolving
	s.touchLocked()
	token := s.token
	s.wg.Add(1)
	s.commit(nil)

	src.Stop()

	go func() {
		defer s.wg.Done()
		s.resolve(gen, token, payload)
	}()
}

// SubmitManualIdentifier looks up text typed by the operator. It stops
// scanning if active and returns once the lookup has been applied.
func (s *Session) SubmitManualIdentifier(ctx context.Context, text string) error {
	if err := s.checkManual(); err != nil {
		return err
	}

	if err := s.allowManual(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return status.ErrSessionClosed
	}
	if s.phase.Busy() {
		s.mu.Unlock()
		return status.ErrBusy
	}
	src := s.source
	s.source = nil
	s.generation++
	gen := s.generation
	s.clearLocked()
	s.payload = text
	s.phase = PhaseResolving
	s.message = msgResolving
	s.touchLocked()
	token := s.token
	s.wg.Add(1)
	s.commit(nil)

	if src != nil {
		src.Stop()
	}

	defer s.wg.Done()
	s.resolve(gen, token, text)
	return nil
}

func (s *Session) checkManual() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return status.ErrSessionClosed
	}
	if s.phase.Busy() {
		return status.ErrBusy
	}
	return nil
}

// allowManual consults the limiter. A limiter that cannot reach its backend
// lets the entry through.
func (s *Session) allowManual(ctx context.Context) error {
	if s.limiter == nil {
		monitoring.TrackManualEntry("accepted")
		return nil
	}

	err := s.limiter.Allow(ctx, s.operator)
	switch {
	case err == nil:
		monitoring.TrackManualEntry("accepted")
		return nil
	case errors.Is(err, status.ErrRateLimited):
		monitoring.TrackManualEntry("limited")
		return err
	default:
		monitoring.TrackManualEntry("limiter_error")
		slog.Warn("manual entry limiter failed", "error", err, "session", s.id, "operator", s.operator)
		return nil
	}
}

func (s *Session) resolve(gen uint64, token, payload string) {
	id := resolver.Resolve(payload)
	if id == "" {
		s.finishLookup(gen, id, nil, &status.AuthorityError{
			Op:      "resolve",
			Message: "empty identifier",
			Err:     status.ErrNotFound,
		})
		return
	}

	rec, err := s.lookup.FetchTicket(s.ctx, token, id)
	if err == nil && rec == nil {
		err = &status.AuthorityError{Op: "lookup", Message: "empty record", Err: status.ErrTransient}
	}
	s.finishLookup(gen, id, rec, err)
}

func (s *Session) finishLookup(gen uint64, id string, rec *models.TicketRecord, err error) {
	s.mu.Lock()
	if s.closed || s.generation != gen {
		s.mu.Unlock()
		slog.Debug("discarding stale lookup", "session", s.id, "ticket", utils.Fingerprint(id))
		return
	}

	s.ticketID = id
	if err != nil {
		s.failLocked(err)
	} else {
		s.record = rec.Clone()
		s.phase = PhasePresenting
		if rec.IsUsed() {
			s.outcome = OutcomeAlreadyUsed
			s.message = alreadyUsedMessage(rec)
		} else {
			s.outcome = OutcomeValid
			s.message = msgValid
		}
	}
	s.commit(s.resultLocked())
}

// ConfirmVerification marks the presented ticket as used. Only one call is
// ever outstanding per session; repeated confirms return status.ErrBusy
// without reaching the authority.
func (s *Session) ConfirmVerification(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return status.ErrSessionClosed
	}
	if s.verifying || s.phase == PhaseVerifying {
		s.mu.Unlock()
		return status.ErrBusy
	}
	if s.phase != PhasePresenting || s.record == nil || s.record.IsUsed() {
		s.mu.Unlock()
		return status.ErrInvalidPhase
	}

	s.verifying = true
	gen := s.generation
	id := s.ticketID
	token := s.token
	s.phase = PhaseVerifying
	s.message = msgVerifying
	s.touchLocked()
	s.wg.Add(1)
	s.commit(nil)

	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.verifying = false
		s.mu.Unlock()
	}()

	rec, err := s.verifier.MarkUsed(s.ctx, token, id)
	outcome := OutcomeVerified
	message := msgVerified

	var used *status.AlreadyUsedError
	if errors.As(err, &used) {
		outcome = OutcomeAlreadyUsed
		message = msgRaced
		rec, err = used.Record, nil
		if rec == nil {
			rec, err = s.lookup.FetchTicket(s.ctx, token, id)
		}
		if err == nil && (rec == nil || !rec.IsUsed()) {
			err = &status.AuthorityError{
				Op:      "verify",
				Message: "conflict not reflected by lookup",
				Err:     status.ErrTransient,
			}
		}
	} else if err == nil && rec == nil {
		err = &status.AuthorityError{Op: "verify", Message: "empty record", Err: status.ErrTransient}
	}

	s.mu.Lock()
	if s.closed || s.generation != gen {
		s.mu.Unlock()
		slog.Info("discarding stale verification", "session", s.id, "ticket", utils.Fingerprint(id), "error", err)
		return nil
	}
	if err != nil {
		s.failLocked(err)
	} else {
		s.record = rec.Clone()
		s.phase = PhasePresenting
		s.outcome = outcome
		s.message = message
	}
	s.commit(s.resultLocked())
	return nil
}

// Reset returns the session to Idle, dropping any payload, record, error and
// pending result. It never restarts scanning.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return status.ErrSessionClosed
	}
	src := s.source
	s.source = nil
	s.generation++
	s.clearLocked()
	s.touchLocked()
	s.commit(nil)

	if src != nil {
		src.Stop()
	}
	return nil
}

// Close releases the scanner, cancels outstanding authority calls and waits
// for background work to finish. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.generation++
	src := s.scan
	s.source = nil
	s.listeners = make(map[int]func(State))
	s.mu.Unlock()

	s.cancel()
	if src != nil {
		src.Stop()
	}
	// A start still opening the device sees the session closed and stops
	// the source before it releases starting.
	s.starting.Lock()
	s.starting.Unlock()
	s.wg.Wait()
	if src != nil {
		<-src.Done()
	}
	monitoring.SessionClosed()
	return nil
}

// Idle reports whether the session has been inactive since before cutoff and
// has nothing outstanding.
func (s *Session) Idle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.phase.Busy() && !s.verifying && s.lastActive.Before(cutoff)
}

func (s *Session) clearLocked() {
	s.phase = PhaseIdle
	s.payload = ""
	s.ticketID = ""
	s.record = nil
	s.outcome = OutcomeNone
	s.errKind = status.KindNone
	s.message = msgIdle
}

func (s *Session) failLocked(err error) {
	kind := status.KindOf(err)
	s.phase = PhaseError
	s.record = nil
	s.outcome = OutcomeError
	s.errKind = kind
	s.message = errorMessage(kind)

	attrs := []any{"session", s.id, "kind", kind, "error", err}
	if s.ticketID != "" {
		attrs = append(attrs, "ticket", utils.Fingerprint(s.ticketID))
	}
	slog.Warn("verification failed", attrs...)
}

func (s *Session) touchLocked() { s.lastActive = time.Now() }

func (s *Session) snapshotLocked() State {
	return State{
		SessionID:  s.id,
		Phase:      s.phase,
		Record:     s.record.Clone(),
		Outcome:    s.outcome,
		ErrorKind:  s.errKind,
		Message:    s.message,
		CanConfirm: s.phase == PhasePresenting && s.record != nil && !s.record.IsUsed() && !s.verifying,
	}
}

func (s *Session) resultLocked() *Result {
	return &Result{
		SessionID: s.id,
		Operator:  s.operator,
		TicketID:  s.ticketID,
		Outcome:   s.outcome,
		ErrorKind: s.errKind,
		Record:    s.record.Clone(),
		At:        time.Now(),
	}
}

// commit unlocks s.mu and then notifies listeners and, for terminal
// outcomes, observers. It must be called with s.mu held.
func (s *Session) commit(res *Result) {
	st := s.snapshotLocked()
	listeners := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
	if res == nil {
		return
	}

	monitoring.TrackOutcome(string(res.Outcome), string(res.ErrorKind))
	ctx := context.WithoutCancel(s.ctx)
	for _, o := range s.observers {
		o.Observe(ctx, *res)
	}
}

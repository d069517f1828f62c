package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/adwski/studygroup-relay/backend/model"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultInboxSize       = 1024
	defaultEventsPerSecond = 20
	defaultEventsBurst     = 40
)

var (
	ErrStopped       = errors.New("event loop is stopped")
	ErrRateLimited   = errors.New("inbound event rate exceeded")
	ErrUnknownEvent  = errors.New("unknown event type")
	ErrBadPayload    = errors.New("malformed event payload")
	ErrAuthenticate  = errors.New("unable to authenticate")
	ErrMissingRoomID = errors.New("room id is required")
	ErrJoinAborted   = errors.New("join did not complete")
)

type (
	Registry interface {
		Register(tx chan<- model.Event) string
		BindIdentity(connID string, identity model.Identity) error
		Unregister(connID string) []string
		Authorize(ctx context.Context, connID, roomID string) error
		Admit(connID, roomID string) error
		Leave(connID, roomID string)
	}

	Relay interface {
		Deliver(connID string, ev model.Event) bool
		Publish(senderID, roomID, text string) (int, error)
		SendOffer(callerID, targetID string, signal json.RawMessage, name string) error
		SendAnswer(calleeID, targetID string, signal json.RawMessage) error
	}

	Verifier interface {
		Verify(token string) (model.Identity, error)
	}

	Config struct {
		Registry Registry
		Relay    Relay
		Verifier Verifier
		Logger   *zerolog.Logger

		// NotifyUnavailable makes the relay answer signaling sent to an
		// unknown connection with a callUnavailable event instead of
		// dropping it silently.
		NotifyUnavailable bool

		EventsPerSecond rate.Limit
		EventsBurst     int
	}

	// Service supervises connection lifecycles. Every inbound event goes
	// through a single loop so events are handled in the order accepted.
	// While a connection waits for a membership check, its later events
	// are held in pending and replayed once the join result is back.
	Service struct {
		reg      Registry
		relay    Relay
		verifier Verifier
		logger   zerolog.Logger

		notifyUnavailable bool
		eventsPerSecond   rate.Limit
		eventsBurst       int

		inbox   chan task
		done    chan struct{}
		joins   *sync.WaitGroup
		pending map[string][]task

		limitersMx *sync.Mutex
		limiters   map[string]*rate.Limiter
	}

	task struct {
		connID     string
		ev         model.Event
		disconnect bool
		join       *joinResult
	}

	joinResult struct {
		roomID string
		err    error
	}
)

func NewService(cfg Config) *Service {
	svc := &Service{
		reg:               cfg.Registry,
		relay:             cfg.Relay,
		verifier:          cfg.Verifier,
		logger:            cfg.Logger.With().Str("component", "supervisor").Logger(),
		notifyUnavailable: cfg.NotifyUnavailable,
		eventsPerSecond:   cfg.EventsPerSecond,
		eventsBurst:       cfg.EventsBurst,
		inbox:             make(chan task, defaultInboxSize),
		done:              make(chan struct{}),
		joins:             &sync.WaitGroup{},
		pending:           make(map[string][]task),
		limitersMx:        &sync.Mutex{},
		limiters:          make(map[string]*rate.Limiter),
	}
	if svc.eventsPerSecond <= 0 {
		svc.eventsPerSecond = defaultEventsPerSecond
	}
	if svc.eventsBurst <= 0 {
		svc.eventsBurst = defaultEventsBurst
	}
	return svc
}

// Run processes inbound events until ctx is done.
func (svc *Service) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer func() {
		close(svc.done)
		svc.joins.Wait()
		svc.drainDisconnects()
		svc.logger.Debug().Msg("event loop stopped")
		wg.Done()
	}()

	svc.logger.Info().Msg("event loop started")
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-svc.inbox:
			svc.process(ctx, t)
		}
	}
}

// process runs t unless its connection has a join in flight, in which
// case t waits behind the join.
func (svc *Service) process(ctx context.Context, t task) {
	if t.join == nil {
		if held, ok := svc.pending[t.connID]; ok {
			svc.pending[t.connID] = append(held, t)
			return
		}
		svc.handle(ctx, t)
		return
	}

	held := svc.pending[t.connID]
	delete(svc.pending, t.connID)
	svc.handle(ctx, t)
	for len(held) > 0 {
		next := held[0]
		held = held[1:]
		svc.handle(ctx, next)
		if again, ok := svc.pending[t.connID]; ok {
			// replayed event started another join
			svc.pending[t.connID] = append(again, held...)
			return
		}
	}
}

// CreateSession registers a new connection whose outbound events go to tx
// and tells the client its connection ID.
func (svc *Service) CreateSession(tx chan<- model.Event) string {
	connID := svc.reg.Register(tx)

	svc.limitersMx.Lock()
	svc.limiters[connID] = rate.NewLimiter(svc.eventsPerSecond, svc.eventsBurst)
	svc.limitersMx.Unlock()

	svc.reply(connID, model.EventTypeConnected, model.ConnectedPayload{ID: connID})
	svc.logger.Debug().Str("connID", connID).Msg("session created")
	return connID
}

// DeleteSession tears down the connection after every event it queued
// earlier has been handled.
func (svc *Service) DeleteSession(ctx context.Context, connID string) {
	if svc.stopped() {
		svc.disconnect(connID)
		return
	}
	select {
	case svc.inbox <- task{connID: connID, disconnect: true}:
	case <-svc.done:
		svc.disconnect(connID)
	case <-ctx.Done():
		svc.disconnect(connID)
	}
}

// Dispatch queues an inbound event for the loop.
func (svc *Service) Dispatch(ctx context.Context, connID string, ev model.Event) error {
	if svc.stopped() {
		return ErrStopped
	}
	if !svc.allow(connID) {
		return ErrRateLimited
	}
	select {
	case svc.inbox <- task{connID: connID, ev: ev}:
		return nil
	case <-svc.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Authenticate verifies the token and binds the identity it carries to the connection.
func (svc *Service) Authenticate(connID, token string) error {
	identity, err := svc.verifier.Verify(token)
	if err != nil {
		svc.reply(connID, model.EventTypeError, model.ErrorPayload{Reason: "authentication failed"})
		return errors.Join(ErrAuthenticate, err)
	}
	if err = svc.reg.BindIdentity(connID, identity); err != nil {
		return errors.Join(ErrAuthenticate, err)
	}
	svc.reply(connID, model.EventTypeAuthenticated, identity)
	return nil
}

func (svc *Service) stopped() bool {
	select {
	case <-svc.done:
		return true
	default:
		return false
	}
}

// drainDisconnects tears down sessions whose disconnect was queued or
// held but not handled before the loop stopped. Other events are dropped.
func (svc *Service) drainDisconnects() {
	for _, held := range svc.pending {
		for _, t := range held {
			if t.disconnect {
				svc.disconnect(t.connID)
			}
		}
	}
	clear(svc.pending)
	for {
		select {
		case t := <-svc.inbox:
			if t.disconnect {
				svc.disconnect(t.connID)
			}
		default:
			return
		}
	}
}

func (svc *Service) allow(connID string) bool {
	svc.limitersMx.Lock()
	l, ok := svc.limiters[connID]
	svc.limitersMx.Unlock()
	return !ok || l.Allow()
}

func (svc *Service) disconnect(connID string) {
	svc.limitersMx.Lock()
	delete(svc.limiters, connID)
	svc.limitersMx.Unlock()

	left := svc.reg.Unregister(connID)
	svc.logger.Debug().
		Str("connID", connID).
		Strs("rooms", left).
		Msg("session deleted")
}

func (svc *Service) handle(ctx context.Context, t task) {
	logger := svc.logger.With().
		Str("connID", t.connID).
		Str("type", t.ev.Type).
		Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("event handling failed")
		}
	}()

	if t.disconnect {
		svc.disconnect(t.connID)
		return
	}
	if t.join != nil {
		svc.completeJoin(t.connID, t.join)
		return
	}

	var err error
	switch t.ev.Type {
	case model.EventTypeAuthenticate:
		err = svc.handleAuthenticate(t.connID, t.ev.Payload)
	case model.EventTypeJoinGroup:
		err = svc.handleJoin(ctx, t.connID, t.ev.Payload)
	case model.EventTypeLeaveGroup:
		err = svc.handleLeave(t.connID, t.ev.Payload)
	case model.EventTypeSendMessage:
		err = svc.handleSendMessage(t.connID, t.ev.Payload)
	case model.EventTypeCallUser:
		err = svc.handleCallUser(t.connID, t.ev.Payload)
	case model.EventTypeAnswerCall:
		err = svc.handleAnswerCall(t.connID, t.ev.Payload)
	default:
		err = ErrUnknownEvent
	}
	if err != nil {
		logger.Debug().Err(err).Msg("event rejected")
		switch {
		case errors.Is(err, ErrBadPayload):
			svc.reply(t.connID, model.EventTypeError, model.ErrorPayload{Reason: ErrBadPayload.Error()})
		case errors.Is(err, ErrMissingRoomID), errors.Is(err, ErrUnknownEvent):
			svc.reply(t.connID, model.EventTypeError, model.ErrorPayload{Reason: err.Error()})
		}
	}
}

func (svc *Service) reply(connID, typ string, v any) {
	ev, err := model.NewEvent(typ, v)
	if err != nil {
		svc.logger.Error().Err(err).Str("type", typ).Msg("failed to encode reply")
		return
	}
	svc.relay.Deliver(connID, ev)
}

func decode(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.Join(ErrBadPayload, err)
	}
	return nil
}

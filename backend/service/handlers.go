package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/adwski/studygroup-relay/backend/model"
	"github.com/adwski/studygroup-relay/backend/registry"
	_switch "github.com/adwski/studygroup-relay/backend/switch"
)

func (svc *Service) handleAuthenticate(connID string, payload json.RawMessage) error {
	var p model.AuthenticatePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	return svc.Authenticate(connID, p.Token)
}

// handleJoin hands the membership check to a separate goroutine so a slow
// gate never holds up the loop. Later events of the connection are held
// until the result comes back through the inbox.
func (svc *Service) handleJoin(ctx context.Context, connID string, payload json.RawMessage) error {
	var p model.RoomPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return ErrMissingRoomID
	}

	svc.pending[connID] = []task{}
	svc.joins.Add(1)
	go svc.authorize(ctx, connID, p.RoomID)
	return nil
}

func (svc *Service) authorize(ctx context.Context, connID, roomID string) {
	res := &joinResult{roomID: roomID, err: ErrJoinAborted}
	defer svc.joins.Done()
	defer func() {
		if r := recover(); r != nil {
			svc.logger.Error().
				Str("connID", connID).
				Str("roomID", roomID).
				Interface("panic", r).
				Msg("membership check failed")
		}
		select {
		case svc.inbox <- task{connID: connID, join: res}:
		case <-svc.done:
		}
	}()

	res.err = svc.reg.Authorize(ctx, connID, roomID)
}

func (svc *Service) completeJoin(connID string, res *joinResult) {
	logger := svc.logger.With().
		Str("connID", connID).
		Str("roomID", res.roomID).
		Logger()

	err := res.err
	if err == nil {
		err = svc.reg.Admit(connID, res.roomID)
	}
	switch {
	case err == nil:
		svc.reply(connID, model.EventTypeJoined, model.RoomPayload{RoomID: res.roomID})
		logger.Debug().Msg("user joined room")
	case errors.Is(err, registry.ErrUnknownConnection):
		logger.Debug().Msg("connection left before join completed")
	default:
		svc.reply(connID, model.EventTypeJoinDenied, model.JoinDenied{
			RoomID: res.roomID,
			Reason: denialReason(err),
		})
		logger.Info().Err(err).Msg("join denied")
	}
}

func denialReason(err error) string {
	switch {
	case errors.Is(err, registry.ErrAnonymous):
		return "authentication required"
	case errors.Is(err, registry.ErrGateTimeout):
		return "membership check timed out"
	case errors.Is(err, registry.ErrUnauthorized):
		return "not a member of this group"
	default:
		return "unable to join room"
	}
}

func (svc *Service) handleLeave(connID string, payload json.RawMessage) error {
	var p model.RoomPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return ErrMissingRoomID
	}
	svc.reg.Leave(connID, p.RoomID)
	svc.reply(connID, model.EventTypeLeft, p)
	return nil
}

// handleSendMessage ignores the client-supplied author; members see the
// sender's bound identity instead.
func (svc *Service) handleSendMessage(connID string, payload json.RawMessage) error {
	var p model.SendMessagePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return ErrMissingRoomID
	}
	_, err := svc.relay.Publish(connID, p.RoomID, p.Message)
	return err
}

func (svc *Service) handleCallUser(connID string, payload json.RawMessage) error {
	var p model.CallUserPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	err := svc.relay.SendOffer(connID, p.UserToCall, p.SignalData, p.Name)
	svc.targetUnavailable(connID, p.UserToCall, err)
	return err
}

func (svc *Service) handleAnswerCall(connID string, payload json.RawMessage) error {
	var p model.AnswerCallPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	err := svc.relay.SendAnswer(connID, p.To, p.Signal)
	svc.targetUnavailable(connID, p.To, err)
	return err
}

// targetUnavailable tells the sender its signaling target is gone when the
// relay is configured to do so. By default the envelope is dropped silently.
func (svc *Service) targetUnavailable(connID, targetID string, err error) {
	if !svc.notifyUnavailable || !errors.Is(err, _switch.ErrUnknownTarget) {
		return
	}
	svc.reply(connID, model.EventTypeCallUnavailable, model.CallUnavailable{To: targetID})
}

package _switch

import (
	"encoding/json"
	"errors"

	"github.com/adwski/studygroup-relay/backend/model"
)

// SendOffer forwards a call offer to the target connection only. The callee
// sees the caller's connection ID as the address to answer to.
func (sw *Switch) SendOffer(callerID, targetID string, signal json.RawMessage, name string) error {
	caller, ok := sw.reg.Lookup(callerID)
	if !ok {
		return ErrUnknownSender
	}
	if name == "" {
		name = caller.Identity.DisplayName()
	}
	ev, err := model.NewEvent(model.EventTypeCallUser, model.IncomingCall{
		Signal: signal,
		From:   callerID,
		Name:   name,
	})
	if err != nil {
		return errors.Join(ErrEncode, err)
	}
	return sw.forward(callerID, targetID, ev)
}

// SendAnswer forwards a call answer back to the caller connection.
func (sw *Switch) SendAnswer(calleeID, targetID string, signal json.RawMessage) error {
	if _, ok := sw.reg.Lookup(calleeID); !ok {
		return ErrUnknownSender
	}
	ev, err := model.NewEvent(model.EventTypeCallAccepted, model.CallAccepted{
		Signal: signal,
	})
	if err != nil {
		return errors.Join(ErrEncode, err)
	}
	return sw.forward(calleeID, targetID, ev)
}

func (sw *Switch) forward(srcID, dstID string, ev model.Event) error {
	logger := sw.logger.With().
		Str("src", srcID).
		Str("dst", dstID).
		Str("type", ev.Type).
		Logger()

	dst, ok := sw.reg.Lookup(dstID)
	if !ok {
		logger.Debug().Msg("cannot forward, dst not found")
		return ErrUnknownTarget
	}
	send(dst, ev, &logger)
	return nil
}

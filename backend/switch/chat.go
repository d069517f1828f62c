package _switch

import (
	"errors"

	"github.com/adwski/studygroup-relay/backend/model"
)

// Publish delivers text to every connection in the room at the time of the
// call, sender included. Subscribers that cannot take the message are
// skipped. It returns the number of connections the message reached.
func (sw *Switch) Publish(senderID, roomID, text string) (int, error) {
	sender, ok := sw.reg.Lookup(senderID)
	if !ok {
		return 0, ErrUnknownSender
	}
	if !sw.reg.InRoom(senderID, roomID) {
		return 0, ErrNotAMember
	}

	ev, err := model.NewEvent(model.EventTypeMessage, model.ChatMessage{
		User:    sender.Identity.DisplayName(),
		Message: text,
	})
	if err != nil {
		return 0, errors.Join(ErrEncode, err)
	}

	logger := sw.logger.With().
		Str("roomID", roomID).
		Str("src", senderID).
		Logger()

	var delivered int
	for _, memberID := range sw.reg.MembersOf(roomID) {
		member, ok := sw.reg.Lookup(memberID)
		if !ok {
			continue
		}
		if send(member, ev, &logger) {
			delivered++
		}
	}
	logger.Debug().Int("delivered", delivered).Msg("chat message published")
	return delivered, nil
}

package model

import "encoding/json"

// Identity is the user bound to a connection once it has authenticated.
// Zero value means the connection is anonymous.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (id Identity) Anonymous() bool {
	return id.ID == ""
}

// DisplayName is what other room members see as the message author.
func (id Identity) DisplayName() string {
	if id.Name != "" {
		return id.Name
	}
	return id.ID
}

// Connection is a read-only snapshot of one live realtime session.
type Connection struct {
	ID       string       `json:"id"`
	Identity Identity     `json:"identity"`
	Rooms    []string     `json:"rooms"`
	TX       chan<- Event `json:"-"`
}

type Room struct {
	ID      string   `json:"room_id"`
	Members []string `json:"members"`
}

// Inbound event types, sent by clients.
const (
	EventTypeAuthenticate = "authenticate"
	EventTypeJoinGroup    = "joinGroup"
	EventTypeLeaveGroup   = "leaveGroup"
	EventTypeSendMessage  = "sendMessage"
	EventTypeCallUser     = "callUser"
	EventTypeAnswerCall   = "answerCall"
)

// Outbound event types, sent by server.
// EventTypeCallUser is reused for the incoming call delivered to the callee.
const (
	EventTypeConnected       = "connected"
	EventTypeAuthenticated   = "authenticated"
	EventTypeMessage         = "message"
	EventTypeCallAccepted    = "callAccepted"
	EventTypeCallUnavailable = "callUnavailable"
	EventTypeJoined          = "joined"
	EventTypeJoinDenied      = "joinDenied"
	EventTypeLeft            = "left"
	EventTypeError           = "error"
)

type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals v as the event payload.
func NewEvent(typ string, v any) (Event, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Payload: b}, nil
}

type (
	AuthenticatePayload struct {
		Token string `json:"token"`
	}

	RoomPayload struct {
		RoomID string `json:"roomId"`
	}

	SendMessagePayload struct {
		RoomID  string `json:"roomId"`
		Message string `json:"message"`
		User    string `json:"user,omitempty"`
	}

	CallUserPayload struct {
		UserToCall string          `json:"userToCall"`
		SignalData json.RawMessage `json:"signalData"`
		From       string          `json:"from,omitempty"`
		Name       string          `json:"name,omitempty"`
	}

	AnswerCallPayload struct {
		To     string          `json:"to"`
		Signal json.RawMessage `json:"signal"`
	}
)

type (
	ConnectedPayload struct {
		ID string `json:"id"`
	}

	ChatMessage struct {
		User    string `json:"user"`
		Message string `json:"message"`
	}

	IncomingCall struct {
		Signal json.RawMessage `json:"signal"`
		From   string          `json:"from"`
		Name   string          `json:"name"`
	}

	CallAccepted struct {
		Signal json.RawMessage `json:"signal"`
	}

	CallUnavailable struct {
		To string `json:"to"`
	}

	JoinDenied struct {
		RoomID string `json:"roomId"`
		Reason string `json:"reason"`
	}

	ErrorPayload struct {
		Reason string `json:"reason"`
	}
)

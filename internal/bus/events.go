package bus

import "github.com/tjweldon/marain/internal/domain"

// Event is what spec §4.4's Broadcasts become once published: one of the
// four variants below, fanned out by EventBus.Publish.
type Event interface {
	event()
}

// UserRegistered confirms a login handshake completed and the user now has
// a live session token. No wire output: the LoginSuccess was already sent
// in the handshake (spec §4.7.B).
type UserRegistered struct {
	Token domain.UserID
}

func (UserRegistered) event() {}

// MsgReceived carries a chat message to be rendered as a ChatRecv ServerMsg.
type MsgReceived struct {
	Msg domain.MessageLog
}

func (MsgReceived) event() {}

// RoomSnapshot is the (chat_logs, notifications, occupant_names) tuple
// captured atomically by AppState, used to prime a recipient's view of a
// room inside UserJoined/UserLeft.
type RoomSnapshot struct {
	Room          domain.RoomName
	MessageLogs   []domain.MessageLog
	Notifications []domain.NotificationLog
	Occupants     []string
}

// UserJoined announces that a user now occupies Room, carrying a snapshot
// of that room for the recipient to seed its view with.
type UserJoined struct {
	User domain.UserID
	Room domain.RoomName
	Snapshot RoomSnapshot
}

func (UserJoined) event() {}

// UserLeft announces that a user no longer occupies Room. For the departing
// user's own SessionWorker, a UserLeft naming themself is the shutdown
// signal that AppState removal is complete (spec §4.7 "on loop exit").
type UserLeft struct {
	User domain.UserID
	Room domain.RoomName
	Snapshot RoomSnapshot
}

func (UserLeft) event() {}

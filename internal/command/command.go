// Package command implements the CommandHandler described in spec §4.4:
// the sole mutator of appstate.State, translating one Command at a time
// into AppState mutations plus zero or more ordered Broadcasts. Grounded
// on the teacher's room.Room methods (JoinRoom/LeaveRoom/BroadcastMessage),
// which performed the same join/leave/chat effects under a per-room mutex
// this package's caller (internal/app) replaces with single-goroutine
// ownership.
package command

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tjweldon/marain/internal/appstate"
	"github.com/tjweldon/marain/internal/bus"
	"github.com/tjweldon/marain/internal/domain"
	"github.com/tjweldon/marain/internal/logging"
)

func logErrField(err error) zap.Field {
	return zap.Error(err)
}

// Command is implemented by every payload the gateway forwards to App.
// Time is deliberately absent: per spec §4.4/§4.7.A it is answered locally
// by SessionWorker and never becomes a Command.
type Command interface {
	command()
}

// RegisterUser is sent once by a SessionWorker at startup, handing App its
// event sink so future Broadcasts reach that connection.
type RegisterUser struct {
	User domain.User
	Sink chan<- bus.Event
}

func (RegisterUser) command() {}

// MoveUser requests that User leave its current room (if any) and join
// Target.
type MoveUser struct {
	User   domain.User
	Target domain.RoomName
}

func (MoveUser) command() {}

// RecordMessage requests that Contents be recorded as a chat message from
// User's current room.
type RecordMessage struct {
	User     domain.User
	Contents string
}

func (RecordMessage) command() {}

// DropUser requests that User be removed from AppState entirely, the
// terminal command of a connection's lifetime.
type DropUser struct {
	User domain.User
}

func (DropUser) command() {}

// Broadcast pairs an Event with the recipients it must be published to, in
// the order App must publish it (spec §4.4 "Tie-breaks and ordering").
type Broadcast struct {
	Event      bus.Event
	Recipients []domain.UserID
}

// Handler consumes Commands against a single appstate.State.
type Handler struct {
	state *appstate.State
}

// New builds a Handler bound to state. state must only ever be touched
// through this Handler (spec §5: single-owner).
func New(state *appstate.State) *Handler {
	return &Handler{state: state}
}

// Handle applies cmd to AppState and returns the Broadcasts it produces, in
// publish order. Mutation errors (e.g. a user already gone due to a race
// with disconnect) are logged and otherwise swallowed: per spec §4.4, the
// App loop never terminates on a handler error.
func (h *Handler) Handle(ctx context.Context, cmd Command) []Broadcast {
	switch c := cmd.(type) {
	case RegisterUser:
		return h.handleRegisterUser(c)
	case MoveUser:
		return h.handleMoveUser(ctx, c)
	case RecordMessage:
		return h.handleRecordMessage(ctx, c)
	case DropUser:
		return h.handleDropUser(c)
	default:
		logging.Warn(ctx, "command: unknown command type")
		return nil
	}
}

func (h *Handler) handleRegisterUser(c RegisterUser) []Broadcast {
	h.state.AddUserToRoom(c.User, domain.Hub)
	h.state.RecordNotificationInRoom(domain.Hub, joinNotification(c.User, domain.Hub))

	hubOccupants := h.state.Occupants(domain.Hub)
	return []Broadcast{
		{
			Event:      bus.UserRegistered{Token: c.User.ID},
			Recipients: []domain.UserID{c.User.ID},
		},
		{
			Event:      bus.UserJoined{User: c.User.ID, Room: domain.Hub, Snapshot: toBusSnapshot(domain.Hub, h.state.SnapshotRoom(domain.Hub))},
			Recipients: hubOccupants,
		},
	}
}

func (h *Handler) handleMoveUser(ctx context.Context, c MoveUser) []Broadcast {
	oldRoom, hadRoom := h.state.CurrentRoom(c.User.ID)

	var broadcasts []Broadcast
	if hadRoom {
		oldRecipients := h.state.Occupants(oldRoom)
		if _, err := h.state.RemoveUserFromCurrentRoom(c.User); err != nil {
			logging.Warn(ctx, "command: move user not found during removal", logErrField(err))
		}
		broadcasts = append(broadcasts, Broadcast{
			Event:      bus.UserLeft{User: c.User.ID, Room: oldRoom, Snapshot: toBusSnapshot(oldRoom, h.state.SnapshotRoom(oldRoom))},
			Recipients: oldRecipients,
		})
	}

	h.state.AddUserToRoom(c.User, c.Target)
	h.state.RecordNotificationInRoom(c.Target, joinNotification(c.User, c.Target))
	newRecipients := h.state.Occupants(c.Target)
	broadcasts = append(broadcasts, Broadcast{
		Event:      bus.UserJoined{User: c.User.ID, Room: c.Target, Snapshot: toBusSnapshot(c.Target, h.state.SnapshotRoom(c.Target))},
		Recipients: newRecipients,
	})
	return broadcasts
}

func (h *Handler) handleRecordMessage(ctx context.Context, c RecordMessage) []Broadcast {
	msg := domain.MessageLog{
		Username:  c.User.Name,
		Timestamp: time.Now(),
		Contents:  c.Contents,
	}
	recipients, err := h.state.RecordChat(c.User, msg)
	if err != nil {
		logging.Warn(ctx, "command: chat message from user with no room", logErrField(err))
		return nil
	}
	return []Broadcast{{Event: bus.MsgReceived{Msg: msg}, Recipients: recipients}}
}

func (h *Handler) handleDropUser(c DropUser) []Broadcast {
	room, err := h.state.RemoveUserFromCurrentRoom(c.User)
	if err != nil {
		// Already gone (e.g. never finished joining a room). Spec §4.4
		// still requires a UserLeft reach the departing SessionWorker so
		// its shutdown wait (§4.7 "on loop exit") terminates.
		return []Broadcast{{
			Event:      bus.UserLeft{User: c.User.ID},
			Recipients: []domain.UserID{c.User.ID},
		}}
	}

	recipients := h.state.Occupants(room)
	recipients = ensureContains(recipients, c.User.ID)
	return []Broadcast{{
		Event:      bus.UserLeft{User: c.User.ID, Room: room, Snapshot: toBusSnapshot(room, h.state.SnapshotRoom(room))},
		Recipients: recipients,
	}}
}

func joinNotification(user domain.User, room domain.RoomName) domain.NotificationLog {
	return domain.NotificationLog{
		Notifier:  domain.ServerNotifier,
		Timestamp: time.Now(),
		Contents:  fmt.Sprintf("%s joined %s", user.Name, room),
	}
}

func toBusSnapshot(room domain.RoomName, snap appstate.RoomSnapshot) bus.RoomSnapshot {
	return bus.RoomSnapshot{
		Room:          room,
		MessageLogs:   snap.MessageLogs,
		Notifications: snap.Notifications,
		Occupants:     snap.Occupants,
	}
}

func ensureContains(ids []domain.UserID, target domain.UserID) []domain.UserID {
	for _, id := range ids {
		if id == target {
			return ids
		}
	}
	return append(ids, target)
}

// Package appstate implements the single authoritative mapping of
// rooms -> occupants, rooms -> chat log, rooms -> notification log
// described in spec §3/§4.3. It is mutated only by internal/command's
// CommandHandler, which in turn is driven exclusively by internal/app's
// single-owner loop — no mutex guards State because nothing outside that
// one goroutine ever touches it, the REDESIGN FLAG called out in spec §9
// ("collapse many short-lived locks over shared maps into a single-owner
// task"). Grounded on the teacher's room.Room, whose chatHistory/
// maxChatHistoryLength/clients map play the same role behind a
// sync.RWMutex this package intentionally drops.
package appstate

import (
	"fmt"
	"time"

	"github.com/tjweldon/marain/internal/domain"
)

// ErrUserNotFound is returned by RemoveUserFromCurrentRoom when the user
// does not currently occupy any room. Per spec §4.3/§7 (StateError), this
// is logged by the caller and never surfaced to the transport.
var ErrUserNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "appstate: user not found in any room" }

type roomState struct {
	occupancy     []domain.User
	chatLogs      *ring[domain.MessageLog]
	notifications *ring[domain.NotificationLog]
}

func newRoomState() *roomState {
	return &roomState{
		chatLogs:      newRing[domain.MessageLog](domain.HistoryCap),
		notifications: newRing[domain.NotificationLog](domain.HistoryCap),
	}
}

// State is the single authoritative store of rooms, occupancy and logs.
// Not safe for concurrent use: callers must serialize access (internal/app
// does this by running State only from its own goroutine).
type State struct {
	rooms map[domain.RoomName]*roomState
	// userRoom lets RemoveUserFromCurrentRoom/RecordChat/RecordNotification
	// find a user's room in O(1) instead of scanning every room's occupancy.
	userRoom map[domain.UserID]domain.RoomName
}

// New creates an AppState with the Hub room pre-created, per spec §3
// ("The Hub room exists from process start").
func New() *State {
	s := &State{
		rooms:    make(map[domain.RoomName]*roomState),
		userRoom: make(map[domain.UserID]domain.RoomName),
	}
	s.rooms[domain.Hub] = newRoomState()
	return s
}

func (s *State) ensureRoom(room domain.RoomName) *roomState {
	r, ok := s.rooms[room]
	if !ok {
		r = newRoomState()
		s.rooms[room] = r
	}
	return r
}

// AddUserToRoom appends user to room's occupancy, creating the room if it
// does not yet exist (spec §4.3/§3: "rooms are created lazily").
func (s *State) AddUserToRoom(user domain.User, room domain.RoomName) {
	r := s.ensureRoom(room)
	r.occupancy = append(r.occupancy, user)
	s.userRoom[user.ID] = room
}

// RemoveUserFromCurrentRoom removes user's first (only) occurrence from
// its room's occupancy via swap-remove (order of the remaining occupants
// is unspecified afterwards, as spec §4.3 allows) and records a
// "{name} left {room}" notification into that room. Returns the room the
// user was removed from, or ErrUserNotFound if the user was not present
// in any room — a case the caller logs and continues past (spec §4.3 edge
// case: "a user that is not found during removal yields a logged warning
// but no error up to the handler").
func (s *State) RemoveUserFromCurrentRoom(user domain.User) (domain.RoomName, error) {
	room, ok := s.userRoom[user.ID]
	if !ok {
		return "", ErrUserNotFound
	}
	r := s.rooms[room]
	for i, occupant := range r.occupancy {
		if occupant.ID == user.ID {
			last := len(r.occupancy) - 1
			r.occupancy[i] = r.occupancy[last]
			r.occupancy = r.occupancy[:last]
			break
		}
	}
	delete(s.userRoom, user.ID)

	note := domain.NotificationLog{
		Notifier:  domain.ServerNotifier,
		Timestamp: time.Now(),
		Contents:  fmt.Sprintf("%s left %s", user.Name, room),
	}
	r.notifications.push(note)
	return room, nil
}

// RecordChat pushes msg into room's chat log (evicting the oldest entry
// past domain.HistoryCap) and returns a snapshot of that room's occupants
// to use as broadcast recipients.
func (s *State) RecordChat(user domain.User, msg domain.MessageLog) ([]domain.UserID, error) {
	room, ok := s.userRoom[user.ID]
	if !ok {
		return nil, ErrUserNotFound
	}
	r := s.rooms[room]
	r.chatLogs.push(msg)
	return occupantIDs(r.occupancy), nil
}

// RecordNotification pushes note into notifications for user's current
// room, with the same HistoryCap eviction policy as RecordChat.
func (s *State) RecordNotification(user domain.User, note domain.NotificationLog) error {
	room, ok := s.userRoom[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	s.rooms[room].notifications.push(note)
	return nil
}

// RecordNotificationInRoom is RecordNotification addressed directly by
// room name, creating the room if needed. CommandHandler uses it to record
// the join notice in the room a user has just been added to; departure
// notices are recorded by RemoveUserFromCurrentRoom itself.
func (s *State) RecordNotificationInRoom(room domain.RoomName, note domain.NotificationLog) {
	s.ensureRoom(room).notifications.push(note)
}

// RoomSnapshot is the (chat_logs, notifications, occupant_names) tuple
// used to seed UserJoined/UserLeft events (spec GLOSSARY: "Snapshot").
type RoomSnapshot struct {
	MessageLogs   []domain.MessageLog
	Notifications []domain.NotificationLog
	Occupants     []string
}

// SnapshotRoom captures room's current state. Always succeeds: a room
// that does not exist yet is treated as empty, not an error, since
// MoveUser may target a brand-new room name.
func (s *State) SnapshotRoom(room domain.RoomName) RoomSnapshot {
	r, ok := s.rooms[room]
	if !ok {
		return RoomSnapshot{}
	}
	names := make([]string, len(r.occupancy))
	for i, u := range r.occupancy {
		names[i] = u.Name
	}
	return RoomSnapshot{
		MessageLogs:   r.chatLogs.snapshot(),
		Notifications: r.notifications.snapshot(),
		Occupants:     names,
	}
}

// CurrentRoom returns the room a user currently occupies, if any.
func (s *State) CurrentRoom(user domain.UserID) (domain.RoomName, bool) {
	room, ok := s.userRoom[user]
	return room, ok
}

// Occupants returns the UserIDs currently in room, in occupancy (delivery)
// order.
func (s *State) Occupants(room domain.RoomName) []domain.UserID {
	r, ok := s.rooms[room]
	if !ok {
		return nil
	}
	return occupantIDs(r.occupancy)
}

func occupantIDs(occupants []domain.User) []domain.UserID {
	ids := make([]domain.UserID, len(occupants))
	for i, u := range occupants {
		ids[i] = u.ID
	}
	return ids
}

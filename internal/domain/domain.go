// Package domain holds the plain value types shared between appstate,
// command, bus and wire so those packages can refer to users, rooms and
// logged entries without importing one another.
package domain

import "time"

// UserID is the server-assigned identity for the lifetime of one connection,
// a UUIDv4 rendered as uppercase hex.
type UserID string

// RoomName is a room's identity. Non-empty.
type RoomName string

// Hub is the always-present landing room.
const Hub RoomName = "Hub"

// HistoryCap bounds chat_logs and notifications per room.
const HistoryCap = 25

// User is the identity for the lifetime of one connection.
type User struct {
	ID           UserID
	Name         string
	SharedSecret [32]byte
	ConnectedAt  time.Time
}

// MessageLog is a chat message recorded in a room.
type MessageLog struct {
	Username  string
	Timestamp time.Time
	Contents  string
}

// Display renders a MessageLog the way a client-facing history view does:
// "[ {username} | {HH-MM-SS} ]: {contents}"
func (m MessageLog) Display() string {
	return "[ " + m.Username + " | " + m.Timestamp.Format("15-04-05") + " ]: " + m.Contents
}

// NotificationLog is a server-authored notice.
type NotificationLog struct {
	Notifier  string // always "SERVER"
	Timestamp time.Time
	Contents  string
}

const ServerNotifier = "SERVER"

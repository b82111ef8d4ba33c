package appstate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjweldon/marain/internal/domain"
)

func user(id, name string) domain.User {
	return domain.User{ID: domain.UserID(id), Name: name}
}

func TestAddUserToRoomCreatesRoomLazily(t *testing.T) {
	s := New()
	u := user("u1", "Alice")

	s.AddUserToRoom(u, "new-room")

	snap := s.SnapshotRoom("new-room")
	assert.Equal(t, []string{"Alice"}, snap.Occupants)
}

func TestHubExistsFromStart(t *testing.T) {
	s := New()
	snap := s.SnapshotRoom(domain.Hub)
	assert.Empty(t, snap.Occupants)
}

func TestRemoveUserFromCurrentRoom(t *testing.T) {
	s := New()
	alice := user("u1", "Alice")
	bob := user("u2", "Bob")
	s.AddUserToRoom(alice, "lounge")
	s.AddUserToRoom(bob, "lounge")

	room, err := s.RemoveUserFromCurrentRoom(alice)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomName("lounge"), room)

	snap := s.SnapshotRoom("lounge")
	assert.Equal(t, []string{"Bob"}, snap.Occupants)
	require.Len(t, snap.Notifications, 1)
	assert.Equal(t, "Alice left lounge", snap.Notifications[0].Contents)
	assert.Equal(t, domain.ServerNotifier, snap.Notifications[0].Notifier)

	_, ok := s.CurrentRoom(alice.ID)
	assert.False(t, ok)
}

func TestRemoveUserFromCurrentRoomNotFound(t *testing.T) {
	s := New()
	_, err := s.RemoveUserFromCurrentRoom(user("ghost", "Ghost"))
	assert.ErrorIs(t, err, ErrUserNotFound)
}

// A user can never occupy two rooms at once: moving rooms is remove-then-add,
// and CurrentRoom always reflects exactly the most recent AddUserToRoom.
func TestUserOccupiesExactlyOneRoom(t *testing.T) {
	s := New()
	u := user("u1", "Alice")
	s.AddUserToRoom(u, "room-a")
	_, err := s.RemoveUserFromCurrentRoom(u)
	require.NoError(t, err)
	s.AddUserToRoom(u, "room-b")

	room, ok := s.CurrentRoom(u.ID)
	require.True(t, ok)
	assert.Equal(t, domain.RoomName("room-b"), room)

	snapA := s.SnapshotRoom("room-a")
	assert.Empty(t, snapA.Occupants)
}

func TestRecordChatReturnsOccupantsAsRecipients(t *testing.T) {
	s := New()
	alice := user("u1", "Alice")
	bob := user("u2", "Bob")
	s.AddUserToRoom(alice, "lounge")
	s.AddUserToRoom(bob, "lounge")

	recipients, err := s.RecordChat(alice, domain.MessageLog{Username: "Alice", Contents: "hi"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.UserID{"u1", "u2"}, recipients)
}

func TestRecordChatUnknownUser(t *testing.T) {
	s := New()
	_, err := s.RecordChat(user("ghost", "Ghost"), domain.MessageLog{})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

// chat_logs and notifications are both capped at domain.HistoryCap entries
// per room; pushing past the cap evicts the oldest rather than growing
// without bound.
func TestChatLogBoundedAtHistoryCap(t *testing.T) {
	s := New()
	u := user("u1", "Alice")
	s.AddUserToRoom(u, "lounge")

	for i := 0; i < domain.HistoryCap+10; i++ {
		_, err := s.RecordChat(u, domain.MessageLog{Contents: fmt.Sprintf("msg-%d", i)})
		require.NoError(t, err)
	}

	snap := s.SnapshotRoom("lounge")
	require.Len(t, snap.MessageLogs, domain.HistoryCap)
	assert.Equal(t, "msg-10", snap.MessageLogs[0].Contents)
	assert.Equal(t, fmt.Sprintf("msg-%d", domain.HistoryCap+9), snap.MessageLogs[len(snap.MessageLogs)-1].Contents)
}

func TestNotificationsBoundedAtHistoryCap(t *testing.T) {
	s := New()
	u := user("u1", "Alice")
	s.AddUserToRoom(u, "lounge")

	for i := 0; i < domain.HistoryCap+5; i++ {
		err := s.RecordNotification(u, domain.NotificationLog{Contents: fmt.Sprintf("note-%d", i)})
		require.NoError(t, err)
	}

	snap := s.SnapshotRoom("lounge")
	require.Len(t, snap.Notifications, domain.HistoryCap)
	assert.Equal(t, "note-5", snap.Notifications[0].Contents)
}

func TestSnapshotRoomOfUnknownRoomIsEmpty(t *testing.T) {
	s := New()
	snap := s.SnapshotRoom("does-not-exist")
	assert.Empty(t, snap.Occupants)
	assert.Empty(t, snap.MessageLogs)
	assert.Empty(t, snap.Notifications)
}

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tjweldon/marain/internal/bus"
	"github.com/tjweldon/marain/internal/command"
	"github.com/tjweldon/marain/internal/domain"
	"github.com/tjweldon/marain/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type readResult struct {
	msgType int
	data    []byte
	err     error
}

// fakeConn implements wsConn without a real socket, grounded on the
// teacher's own wsConnection test seam.
type fakeConn struct {
	toRead    chan readResult
	written   chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toRead:  make(chan readResult, 8),
		written: make(chan []byte, 8),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-f.toRead:
		return m.msgType, m.data, m.err
	case <-f.closed:
		return 0, nil, errors.New("fakeConn: closed")
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.written <- data
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func encryptClientMsg(t *testing.T, secret [32]byte, m wire.ClientMsg) []byte {
	t.Helper()
	plaintext, err := wire.SerializeClientMsg(m)
	require.NoError(t, err)
	ciphertext, err := wire.Encrypt(secret, plaintext)
	require.NoError(t, err)
	return ciphertext
}

func decryptServerMsg(t *testing.T, secret [32]byte, ciphertext []byte) wire.ServerMsg {
	t.Helper()
	plaintext, err := wire.Decrypt(secret, ciphertext)
	require.NoError(t, err)
	msg, err := wire.DeserializeServerMsg(plaintext)
	require.NoError(t, err)
	return msg
}

func testUser() (domain.User, [32]byte) {
	var secret [32]byte
	secret[0] = 0x42
	return domain.User{ID: "u1", Name: "Alice", SharedSecret: secret}, secret
}

func TestWorkerRegistersOnStart(t *testing.T) {
	user, secret := testUser()
	conn := newFakeConn()
	gateway := make(chan command.Command, 8)
	w := New(user, secret, conn, gateway)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()

	select {
	case cmd := <-gateway:
		reg, ok := cmd.(command.RegisterUser)
		require.True(t, ok)
		assert.Equal(t, user.ID, reg.User.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RegisterUser")
	}

	cancel()
	conn.Close()
	<-readAndDrainDropUser(t, gateway)
	w.events <- bus.UserLeft{User: user.ID}
	<-done
}

// readAndDrainDropUser waits for the DropUser command shutdown always sends,
// returning a channel closed once observed.
func readAndDrainDropUser(t *testing.T, gateway <-chan command.Command) <-chan struct{} {
	t.Helper()
	out := make(chan struct{})
	go func() {
		defer close(out)
		select {
		case cmd := <-gateway:
			_, ok := cmd.(command.DropUser)
			assert.True(t, ok)
		case <-time.After(time.Second):
			t.Error("timed out waiting for DropUser")
		}
	}()
	return out
}

func TestWorkerAnswersGetTimeWithoutTouchingGateway(t *testing.T) {
	user, secret := testUser()
	conn := newFakeConn()
	gateway := make(chan command.Command, 8)
	w := New(user, secret, conn, gateway)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()

	<-gateway // RegisterUser

	token := string(user.ID)
	req := encryptClientMsg(t, secret, wire.ClientMsg{Token: &token, Body: wire.GetTime{}})
	conn.toRead <- readResult{msgType: websocket.BinaryMessage, data: req}

	select {
	case raw := <-conn.written:
		reply := decryptServerMsg(t, secret, raw)
		assert.Equal(t, wire.StatusYes, reply.Status)
		_, ok := reply.Body.(wire.Empty)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for GetTime reply")
	}

	// GetTime must never produce a Command.
	select {
	case cmd := <-gateway:
		t.Fatalf("unexpected command from GetTime: %#v", cmd)
	default:
	}

	cancel()
	conn.Close()
	<-readAndDrainDropUser(t, gateway)
	w.events <- bus.UserLeft{User: user.ID}
	<-done
}

func TestWorkerForwardsSendToRoomAsRecordMessage(t *testing.T) {
	user, secret := testUser()
	conn := newFakeConn()
	gateway := make(chan command.Command, 8)
	w := New(user, secret, conn, gateway)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()

	<-gateway // RegisterUser

	token := string(user.ID)
	req := encryptClientMsg(t, secret, wire.ClientMsg{Token: &token, Body: wire.SendToRoom{Contents: "hello"}})
	conn.toRead <- readResult{msgType: websocket.BinaryMessage, data: req}

	select {
	case cmd := <-gateway:
		rec, ok := cmd.(command.RecordMessage)
		require.True(t, ok)
		assert.Equal(t, "hello", rec.Contents)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RecordMessage command")
	}

	cancel()
	conn.Close()
	<-readAndDrainDropUser(t, gateway)
	w.events <- bus.UserLeft{User: user.ID}
	<-done
}

func TestWorkerShutsDownOnDecryptFailure(t *testing.T) {
	user, secret := testUser()
	conn := newFakeConn()
	gateway := make(chan command.Command, 8)
	w := New(user, secret, conn, gateway)

	done := make(chan struct{})
	go func() { w.Run(context.Background()); close(done) }()

	<-gateway // RegisterUser

	conn.toRead <- readResult{msgType: websocket.BinaryMessage, data: []byte("not valid ciphertext")}

	select {
	case cmd := <-gateway:
		_, ok := cmd.(command.DropUser)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for DropUser after decrypt failure")
	}

	w.events <- bus.UserLeft{User: user.ID}
	<-done
}

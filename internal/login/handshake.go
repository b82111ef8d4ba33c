// Package login implements the handshake state machine described in spec
// §4.8: accept a raw WebSocket, exchange X25519 public keys, derive a
// shared secret, assign a user id, and hand off to a SessionWorker.
// Grounded on the teacher's Hub.ServeWs (accept -> validate -> construct
// Client -> spawn pumps), restructured around ECDH instead of JWT/JWKS
// validation.
package login

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tjweldon/marain/internal/command"
	"github.com/tjweldon/marain/internal/domain"
	"github.com/tjweldon/marain/internal/logging"
	"github.com/tjweldon/marain/internal/metrics"
	"github.com/tjweldon/marain/internal/session"
	"github.com/tjweldon/marain/internal/wire"
)

// ErrHandshakeFailed is returned (wrapped) whenever a connection fails to
// complete the login handshake, whatever the reason.
var ErrHandshakeFailed = fmt.Errorf("login: handshake failed")

// Accept performs one connection's handshake and, on success, returns a
// SessionWorker ready to Run. timeout bounds how long the socket may sit
// idle before a Login frame arrives (spec §9's resolved open question on
// handshake timeouts); it is enforced via conn.SetReadDeadline, the same
// pattern the teacher uses for its write deadline in writePump.
func Accept(ctx context.Context, conn *websocket.Conn, gatewaySink chan<- command.Command, timeout time.Duration) (*session.Worker, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("%w: set read deadline: %v", ErrHandshakeFailed, err)
	}

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		metrics.HandshakeFailures.WithLabelValues("read_error").Inc()
		failAndClose(ctx, conn, "could not read login frame")
		return nil, fmt.Errorf("%w: read login frame: %v", ErrHandshakeFailed, err)
	}
	if msgType != websocket.BinaryMessage {
		metrics.HandshakeFailures.WithLabelValues("non_binary_frame").Inc()
		failAndClose(ctx, conn, "expected a binary login frame")
		return nil, fmt.Errorf("%w: first frame was not binary", ErrHandshakeFailed)
	}

	clientMsg, err := wire.DeserializeClientMsg(data)
	if err != nil {
		metrics.HandshakeFailures.WithLabelValues("malformed_frame").Inc()
		failAndClose(ctx, conn, "malformed login frame")
		return nil, fmt.Errorf("%w: deserialize login frame: %v", ErrHandshakeFailed, err)
	}
	if clientMsg.Token != nil {
		metrics.HandshakeFailures.WithLabelValues("token_on_login").Inc()
		failAndClose(ctx, conn, "login must not carry a token")
		return nil, fmt.Errorf("%w: login frame carried a token", ErrHandshakeFailed)
	}
	loginBody, ok := clientMsg.Body.(wire.Login)
	if !ok {
		metrics.HandshakeFailures.WithLabelValues("wrong_body").Inc()
		failAndClose(ctx, conn, "first message must be Login")
		return nil, fmt.Errorf("%w: first message body was %T, not Login", ErrHandshakeFailed, clientMsg.Body)
	}

	serverPublic, serverSecret, err := wire.NewX25519Keypair()
	if err != nil {
		metrics.HandshakeFailures.WithLabelValues("keygen_error").Inc()
		failAndClose(ctx, conn, "internal error")
		return nil, fmt.Errorf("%w: generate server keypair: %v", ErrHandshakeFailed, err)
	}
	sharedSecret, err := wire.ECDH(serverSecret, loginBody.ClientPublicKey)
	if err != nil {
		metrics.HandshakeFailures.WithLabelValues("ecdh_error").Inc()
		failAndClose(ctx, conn, "internal error")
		return nil, fmt.Errorf("%w: compute shared secret: %v", ErrHandshakeFailed, err)
	}

	userID := newUserID()
	user := domain.User{
		ID:           domain.UserID(userID),
		Name:         loginBody.Name,
		SharedSecret: sharedSecret,
		ConnectedAt:  time.Now(),
	}

	success := wire.ServerMsg{
		Status:    wire.StatusYes,
		Timestamp: wire.NewTimestamp(time.Now()),
		Body:      wire.LoginSuccess{Token: userID, PublicKey: serverPublic},
	}
	if err := writeCleartext(conn, success); err != nil {
		metrics.HandshakeFailures.WithLabelValues("write_error").Inc()
		conn.Close()
		return nil, fmt.Errorf("%w: send LoginSuccess: %v", ErrHandshakeFailed, err)
	}

	// The handshake deadline only bounds the login exchange; once a
	// SessionWorker owns the connection there is no read deadline, and
	// the Worker ignores Ping/Pong frames.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		logging.Warn(ctx, "login: failed to clear read deadline", zap.Error(err))
	}

	logging.Info(logging.WithUser(ctx, userID), "login: handshake complete", zap.String("name", user.Name))
	return session.New(user, sharedSecret, conn, gatewaySink), nil
}

// newUserID renders a UUIDv4 as the uppercase hex string spec §4.8 calls
// for: 32 hex digits, no separators.
func newUserID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(raw)
}

func writeCleartext(conn *websocket.Conn, msg wire.ServerMsg) error {
	plaintext, err := wire.SerializeServerMsg(msg)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return conn.WriteMessage(websocket.BinaryMessage, plaintext)
}

// failAndClose sends a cleartext LoginFail (Status=JustNo) and closes the
// socket, per spec §4.8 step 2.
func failAndClose(ctx context.Context, conn *websocket.Conn, reason string) {
	fail := wire.ServerMsg{
		Status:    wire.StatusJustNo,
		Timestamp: wire.NewTimestamp(time.Now()),
		Body:      wire.Empty{},
	}
	if err := writeCleartext(conn, fail); err != nil {
		logging.Debug(ctx, "login: failed to write LoginFail", zap.Error(err), zap.String("reason", reason))
	}
	conn.Close()
}

// Package session implements SessionWorker, the per-connection state
// machine described in spec §4.7. Grounded on the teacher's
// session.Client readPump/writePump split (two-goroutine-per-connection,
// buffered send, SetWriteDeadline on every write) but collapsed into a
// single select loop racing inbound frames against subscribed Events, per
// spec's "race two sources" wording — there is exactly one owner of the
// socket's write half and of dispatch decisions, so no mutex is needed on
// the Worker itself.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tjweldon/marain/internal/bus"
	"github.com/tjweldon/marain/internal/command"
	"github.com/tjweldon/marain/internal/domain"
	"github.com/tjweldon/marain/internal/logging"
	"github.com/tjweldon/marain/internal/metrics"
	"github.com/tjweldon/marain/internal/wire"
)

// writeWait bounds how long a single WriteMessage call may block, mirroring
// the teacher's writePump.
const writeWait = 10 * time.Second

// wsConn is the subset of *websocket.Conn a Worker needs. Abstracted for
// testing with in-memory fakes, the same reason the teacher's
// wsConnection interface exists.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Worker is one connection's state machine: it owns the socket, the
// shared secret negotiated during login, and the channels connecting it
// to AppGateway and its EventBus subscription.
type Worker struct {
	user         domain.User
	sharedSecret [32]byte
	conn         wsConn
	gatewaySink  chan<- command.Command
	events       chan bus.Event
}

// New builds a Worker. gatewaySink is this connection's dedicated Command
// producer channel into AppGateway.
func New(user domain.User, sharedSecret [32]byte, conn wsConn, gatewaySink chan<- command.Command) *Worker {
	return &Worker{
		user:         user,
		sharedSecret: sharedSecret,
		conn:         conn,
		gatewaySink:  gatewaySink,
		events:       make(chan bus.Event, 64),
	}
}

type frame struct {
	msgType int
	data    []byte
	err     error
}

// Run is the connection's entire lifetime: register with App, dispatch
// frames and events until the connection ends, then tear down. It returns
// once the DropUser/UserLeft handshake described in spec §4.7 ("on loop
// exit") has completed.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncConnection()
	defer metrics.DecConnection()

	ctx = logging.WithUser(ctx, string(w.user.ID))

	w.gatewaySink <- command.RegisterUser{User: w.user, Sink: w.events}

	frames := make(chan frame, 16)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		w.readFrames(frames)
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case fr, ok := <-frames:
			if !ok {
				break loop
			}
			if !w.handleFrame(ctx, fr) {
				break loop
			}
		case ev := <-w.events:
			w.handleEvent(ctx, ev)
		}
	}

	// Close the socket before waiting on the reader goroutine: whatever
	// broke the loop (ctx cancellation, a handled frame error) may not
	// have come from the socket itself, so readFrames could still be
	// blocked in ReadMessage.
	w.conn.Close()
	w.shutdown(ctx)
	<-readerDone
}

// readFrames pumps ReadMessage results onto out until the socket errors,
// then closes out. Grounded on the teacher's readPump loop shape.
func (w *Worker) readFrames(out chan<- frame) {
	defer close(out)
	for {
		mt, data, err := w.conn.ReadMessage()
		out <- frame{msgType: mt, data: data, err: err}
		if err != nil {
			return
		}
	}
}

// handleFrame dispatches one inbound frame. Returns false when the main
// loop must break (connection ending).
func (w *Worker) handleFrame(ctx context.Context, fr frame) bool {
	if fr.err != nil {
		if !isNormalClose(fr.err) {
			logging.Warn(ctx, "session: socket read error", zap.Error(fr.err))
		}
		return false
	}

	switch fr.msgType {
	case websocket.CloseMessage:
		return false
	case websocket.BinaryMessage:
		return w.handleBinaryFrame(ctx, fr.data)
	case websocket.TextMessage, websocket.PingMessage, websocket.PongMessage:
		logging.Debug(ctx, "session: ignoring non-binary frame", zap.Int("frame_type", fr.msgType))
		return true
	default:
		logging.Debug(ctx, "session: ignoring unknown frame type", zap.Int("frame_type", fr.msgType))
		return true
	}
}

func (w *Worker) handleBinaryFrame(ctx context.Context, data []byte) bool {
	start := time.Now()
	plaintext, err := wire.Decrypt(w.sharedSecret, data)
	if err != nil {
		// A decrypt failure means this session is desynced from its peer;
		// spec §4.1/§4.7 treats this as end-session, not skip-and-log.
		logging.Warn(ctx, "session: decrypt failed, ending session", zap.Error(err))
		return false
	}

	msg, err := wire.DeserializeClientMsg(plaintext)
	if err != nil {
		logging.Warn(ctx, "session: malformed client message", zap.Error(err))
		return true
	}
	metrics.FrameProcessingDuration.WithLabelValues("inbound").Observe(time.Since(start).Seconds())

	switch body := msg.Body.(type) {
	case wire.SendToRoom:
		w.gatewaySink <- command.RecordMessage{User: w.user, Contents: body.Contents}
	case wire.Move:
		w.gatewaySink <- command.MoveUser{User: w.user, Target: domain.RoomName(body.Target)}
	case wire.GetTime:
		w.answerGetTime(ctx)
	default:
		logging.Warn(ctx, "session: unexpected client message body", zap.String("type", "unknown"))
	}
	return true
}

// answerGetTime is the one request answered without involving App at all
// (spec §4.7.A: "Never round-trips through App").
func (w *Worker) answerGetTime(ctx context.Context) {
	reply := wire.ServerMsg{
		Status:    wire.StatusYes,
		Timestamp: wire.NewTimestamp(time.Now()),
		Body:      wire.Empty{},
	}
	w.send(ctx, reply)
}

// handleEvent renders one subscribed Event as wire traffic.
func (w *Worker) handleEvent(ctx context.Context, ev bus.Event) {
	switch e := ev.(type) {
	case bus.UserRegistered:
		logging.Info(ctx, "session: registered with app", zap.String("token", string(e.Token)))
	case bus.MsgReceived:
		msg := wire.ServerMsg{
			Status:    wire.StatusYes,
			Timestamp: wire.NewTimestamp(e.Msg.Timestamp),
			Body: wire.ChatRecv{
				Direct: false,
				ChatMsg: wire.ChatMsg{
					Sender:    e.Msg.Username,
					Timestamp: wire.NewTimestamp(e.Msg.Timestamp),
					Content:   e.Msg.Contents,
				},
			},
		}
		w.send(ctx, msg)
	case bus.UserJoined:
		w.send(ctx, roomDataMsg(e.Snapshot))
	case bus.UserLeft:
		w.send(ctx, roomDataMsg(e.Snapshot))
	}
}

func roomDataMsg(snap bus.RoomSnapshot) wire.ServerMsg {
	logs := make([]wire.ChatMsg, len(snap.MessageLogs))
	for i, m := range snap.MessageLogs {
		logs[i] = wire.ChatMsg{
			Sender:    m.Username,
			Timestamp: wire.NewTimestamp(m.Timestamp),
			Content:   m.Contents,
		}
	}
	return wire.ServerMsg{
		Status:    wire.StatusYes,
		Timestamp: wire.NewTimestamp(time.Now()),
		Body: wire.RoomData{
			QueryTs:   wire.NewTimestamp(time.Now()),
			Logs:      logs,
			Occupants: snap.Occupants,
		},
	}
}

// send serializes, encrypts and writes msg, logging (never panicking) on
// failure — a write failure here just means the next ReadMessage in
// readFrames will surface the socket's death and end the loop.
func (w *Worker) send(ctx context.Context, msg wire.ServerMsg) {
	plaintext, err := wire.SerializeServerMsg(msg)
	if err != nil {
		logging.Error(ctx, "session: serialize failed", zap.Error(err))
		return
	}
	ciphertext, err := wire.Encrypt(w.sharedSecret, plaintext)
	if err != nil {
		logging.Error(ctx, "session: encrypt failed", zap.Error(err))
		return
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.BinaryMessage, ciphertext); err != nil {
		logging.Warn(ctx, "session: write failed", zap.Error(err))
	}
}

// shutdown implements spec §4.7's "on loop exit": send DropUser, then
// keep consuming events (ignoring everything but our own UserLeft) until
// App confirms removal.
func (w *Worker) shutdown(ctx context.Context) {
	w.gatewaySink <- command.DropUser{User: w.user}
	for ev := range w.events {
		if left, ok := ev.(bus.UserLeft); ok && left.User == w.user.ID {
			return
		}
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) || errors.Is(err, websocket.ErrCloseSent)
}

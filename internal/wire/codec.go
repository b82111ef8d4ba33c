package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrDecode is returned (wrapped) whenever a frame is malformed: truncated,
// an unknown tag, or a token that violates the MUST rules in spec §6.1.
var ErrDecode = errors.New("wire: decode error")

const (
	tagLogin = iota
	tagSendToRoom
	tagMove
	tagGetTime
)

const (
	tagEmpty = iota
	tagLoginSuccess
	tagChatRecv
	tagRoomData
)

// --- low level writers ---

func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func writeUint8(buf *bytes.Buffer, v uint8) {
	buf.WriteByte(v)
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

// --- low level readers ---

type reader struct {
	r *bytes.Reader
}

func (rd *reader) uint8() (uint8, error) {
	b, err := rd.r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return b, nil
}

func (rd *reader) bool() (bool, error) {
	b, err := rd.uint8()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (rd *reader) int64() (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(rd.r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func (rd *reader) uint16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(rd.r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (rd *reader) string() (string, error) {
	n, err := rd.uint16()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rd.r, b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return string(b), nil
}

func (rd *reader) bytes32() ([32]byte, error) {
	var b [32]byte
	if _, err := io.ReadFull(rd.r, b[:]); err != nil {
		return b, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return b, nil
}

// SerializeClientMsg encodes a ClientMsg to its wire form.
func SerializeClientMsg(m ClientMsg) ([]byte, error) {
	var buf bytes.Buffer
	if m.Token == nil {
		writeUint8(&buf, 0)
	} else {
		writeUint8(&buf, 1)
		writeString(&buf, *m.Token)
	}
	writeInt64(&buf, int64(m.Timestamp))

	switch body := m.Body.(type) {
	case Login:
		if m.Token != nil {
			return nil, fmt.Errorf("%w: Login must carry no token", ErrDecode)
		}
		writeUint8(&buf, tagLogin)
		writeString(&buf, body.Name)
		buf.Write(body.ClientPublicKey[:])
	case SendToRoom:
		writeUint8(&buf, tagSendToRoom)
		writeString(&buf, body.Contents)
	case Move:
		writeUint8(&buf, tagMove)
		writeString(&buf, body.Target)
	case GetTime:
		writeUint8(&buf, tagGetTime)
	default:
		return nil, fmt.Errorf("%w: unknown ClientMsgBody %T", ErrDecode, body)
	}
	return buf.Bytes(), nil
}

// DeserializeClientMsg decodes a ClientMsg from its wire form.
func DeserializeClientMsg(data []byte) (ClientMsg, error) {
	rd := &reader{r: bytes.NewReader(data)}

	hasToken, err := rd.uint8()
	if err != nil {
		return ClientMsg{}, err
	}
	var token *string
	if hasToken == 1 {
		s, err := rd.string()
		if err != nil {
			return ClientMsg{}, err
		}
		token = &s
	} else if hasToken != 0 {
		return ClientMsg{}, fmt.Errorf("%w: bad token presence byte", ErrDecode)
	}

	ts, err := rd.int64()
	if err != nil {
		return ClientMsg{}, err
	}

	tag, err := rd.uint8()
	if err != nil {
		return ClientMsg{}, err
	}

	var body ClientMsgBody
	switch tag {
	case tagLogin:
		if token != nil {
			return ClientMsg{}, fmt.Errorf("%w: Login must not carry a token", ErrDecode)
		}
		name, err := rd.string()
		if err != nil {
			return ClientMsg{}, err
		}
		pk, err := rd.bytes32()
		if err != nil {
			return ClientMsg{}, err
		}
		body = Login{Name: name, ClientPublicKey: pk}
	case tagSendToRoom:
		if token == nil {
			return ClientMsg{}, fmt.Errorf("%w: SendToRoom requires a token", ErrDecode)
		}
		contents, err := rd.string()
		if err != nil {
			return ClientMsg{}, err
		}
		body = SendToRoom{Contents: contents}
	case tagMove:
		if token == nil {
			return ClientMsg{}, fmt.Errorf("%w: Move requires a token", ErrDecode)
		}
		target, err := rd.string()
		if err != nil {
			return ClientMsg{}, err
		}
		body = Move{Target: target}
	case tagGetTime:
		if token == nil {
			return ClientMsg{}, fmt.Errorf("%w: GetTime requires a token", ErrDecode)
		}
		body = GetTime{}
	default:
		return ClientMsg{}, fmt.Errorf("%w: unknown ClientMsgBody tag %d", ErrDecode, tag)
	}

	return ClientMsg{Token: token, Timestamp: Timestamp(ts), Body: body}, nil
}

// SerializeServerMsg encodes a ServerMsg to its wire form.
func SerializeServerMsg(m ServerMsg) ([]byte, error) {
	var buf bytes.Buffer
	switch m.Status {
	case StatusYes:
		writeUint8(&buf, 0)
	case StatusNo:
		writeUint8(&buf, 1)
		writeString(&buf, m.Reason)
	case StatusJustNo:
		writeUint8(&buf, 2)
	default:
		return nil, fmt.Errorf("%w: unknown Status %d", ErrDecode, m.Status)
	}
	writeInt64(&buf, int64(m.Timestamp))

	switch body := m.Body.(type) {
	case Empty:
		writeUint8(&buf, tagEmpty)
	case LoginSuccess:
		writeUint8(&buf, tagLoginSuccess)
		writeString(&buf, body.Token)
		buf.Write(body.PublicKey[:])
	case ChatRecv:
		writeUint8(&buf, tagChatRecv)
		writeBool(&buf, body.Direct)
		writeChatMsg(&buf, body.ChatMsg)
	case RoomData:
		writeUint8(&buf, tagRoomData)
		writeInt64(&buf, int64(body.QueryTs))
		writeUint16(&buf, uint16(len(body.Logs)))
		for _, l := range body.Logs {
			writeChatMsg(&buf, l)
		}
		writeUint16(&buf, uint16(len(body.Occupants)))
		for _, o := range body.Occupants {
			writeString(&buf, o)
		}
	default:
		return nil, fmt.Errorf("%w: unknown ServerMsgBody %T", ErrDecode, body)
	}
	return buf.Bytes(), nil
}

func writeChatMsg(buf *bytes.Buffer, c ChatMsg) {
	writeString(buf, c.Sender)
	writeInt64(buf, int64(c.Timestamp))
	writeString(buf, c.Content)
}

func (rd *reader) chatMsg() (ChatMsg, error) {
	sender, err := rd.string()
	if err != nil {
		return ChatMsg{}, err
	}
	ts, err := rd.int64()
	if err != nil {
		return ChatMsg{}, err
	}
	content, err := rd.string()
	if err != nil {
		return ChatMsg{}, err
	}
	return ChatMsg{Sender: sender, Timestamp: Timestamp(ts), Content: content}, nil
}

// DeserializeServerMsg decodes a ServerMsg from its wire form.
func DeserializeServerMsg(data []byte) (ServerMsg, error) {
	rd := &reader{r: bytes.NewReader(data)}

	statusTag, err := rd.uint8()
	if err != nil {
		return ServerMsg{}, err
	}
	var status Status
	var reason string
	switch statusTag {
	case 0:
		status = StatusYes
	case 1:
		status = StatusNo
		reason, err = rd.string()
		if err != nil {
			return ServerMsg{}, err
		}
	case 2:
		status = StatusJustNo
	default:
		return ServerMsg{}, fmt.Errorf("%w: unknown Status tag %d", ErrDecode, statusTag)
	}

	ts, err := rd.int64()
	if err != nil {
		return ServerMsg{}, err
	}

	tag, err := rd.uint8()
	if err != nil {
		return ServerMsg{}, err
	}

	var body ServerMsgBody
	switch tag {
	case tagEmpty:
		body = Empty{}
	case tagLoginSuccess:
		token, err := rd.string()
		if err != nil {
			return ServerMsg{}, err
		}
		pk, err := rd.bytes32()
		if err != nil {
			return ServerMsg{}, err
		}
		body = LoginSuccess{Token: token, PublicKey: pk}
	case tagChatRecv:
		direct, err := rd.bool()
		if err != nil {
			return ServerMsg{}, err
		}
		cm, err := rd.chatMsg()
		if err != nil {
			return ServerMsg{}, err
		}
		body = ChatRecv{Direct: direct, ChatMsg: cm}
	case tagRoomData:
		queryTs, err := rd.int64()
		if err != nil {
			return ServerMsg{}, err
		}
		logCount, err := rd.uint16()
		if err != nil {
			return ServerMsg{}, err
		}
		var logs []ChatMsg
		for i := uint16(0); i < logCount; i++ {
			cm, err := rd.chatMsg()
			if err != nil {
				return ServerMsg{}, err
			}
			logs = append(logs, cm)
		}
		occCount, err := rd.uint16()
		if err != nil {
			return ServerMsg{}, err
		}
		var occupants []string
		for i := uint16(0); i < occCount; i++ {
			s, err := rd.string()
			if err != nil {
				return ServerMsg{}, err
			}
			occupants = append(occupants, s)
		}
		body = RoomData{QueryTs: Timestamp(queryTs), Logs: logs, Occupants: occupants}
	default:
		return ServerMsg{}, fmt.Errorf("%w: unknown ServerMsgBody tag %d", ErrDecode, tag)
	}

	return ServerMsg{Status: status, Reason: reason, Timestamp: Timestamp(ts), Body: body}, nil
}

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// ReadControlMessage reads exactly one control message from r: a type
// byte followed by the type's fixed or length-prefixed body. Unknown
// type bytes come back as an Invalid message, not an error. Only
// malformed bytes for a known type (truncated read, bad UTF-8) fail.
func ReadControlMessage(r io.Reader) (ControlMessage, error) {
	var typeBuf [1]byte
	if _, err := io.ReadFull(r, typeBuf[:]); err != nil {
		return ControlMessage{}, fmt.Errorf("read control type: %w", err)
	}

	switch typeBuf[0] {
	case TypeAuthentication:
		auth, err := readAuthentication(r)
		if err != nil {
			return ControlMessage{}, err
		}
		return ControlMessage{Type: TypeAuthentication, Authentication: auth}, nil
	case TypeJoinChannel:
		var idBuf [4]byte
		if _, err := io.ReadFull(r, idBuf[:]); err != nil {
			return ControlMessage{}, fmt.Errorf("read channel id: %w", err)
		}
		return ControlMessage{
			Type:        TypeJoinChannel,
			JoinChannel: JoinChannel{ChannelID: binary.LittleEndian.Uint32(idBuf[:])},
		}, nil
	default:
		return ControlMessage{Type: typeBuf[0], InvalidType: typeBuf[0]}, nil
	}
}

func readAuthentication(r io.Reader) (Authentication, error) {
	var echoBuf [1]byte
	if _, err := io.ReadFull(r, echoBuf[:]); err != nil {
		return Authentication{}, fmt.Errorf("read echo flag: %w", err)
	}

	username, err := readLengthPrefixedString(r)
	if err != nil {
		return Authentication{}, fmt.Errorf("read username: %w", err)
	}
	password, err := readLengthPrefixedString(r)
	if err != nil {
		return Authentication{}, fmt.Errorf("read password: %w", err)
	}

	return Authentication{
		Echo:     echoBuf[0] != 0,
		Username: username,
		Password: password,
	}, nil
}

func readLengthPrefixedString(r io.Reader) (string, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", fmt.Errorf("read length: %w", err)
	}

	n := int(lenBuf[0])
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("invalid utf-8")
	}
	return string(buf), nil
}

// WriteAuthentication encodes an Authentication control message,
// rejecting usernames/passwords over MaxCredentialLen bytes. Used by
// tests and the debug client; the relay itself never emits control
// messages.
func WriteAuthentication(w io.Writer, msg Authentication) error {
	if len(msg.Username) > MaxCredentialLen {
		return fmt.Errorf("username exceeds %d bytes", MaxCredentialLen)
	}
	if len(msg.Password) > MaxCredentialLen {
		return fmt.Errorf("password exceeds %d bytes", MaxCredentialLen)
	}

	buf := make([]byte, 0, 4+len(msg.Username)+len(msg.Password))
	buf = append(buf, TypeAuthentication)
	if msg.Echo {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(len(msg.Username)))
	buf = append(buf, msg.Username...)
	buf = append(buf, byte(len(msg.Password)))
	buf = append(buf, msg.Password...)

	_, err := w.Write(buf)
	return err
}

// WriteJoinChannel encodes a JoinChannel control message.
func WriteJoinChannel(w io.Writer, channelID uint32) error {
	buf := make([]byte, 5)
	buf[0] = TypeJoinChannel
	binary.LittleEndian.PutUint32(buf[1:], channelID)
	_, err := w.Write(buf)
	return err
}

// ReadDataFrame reads one client->server data frame: a 2-byte LE
// length followed by that many payload bytes. A zero length is a
// keep-alive and returns a nil payload with no further read. Lengths
// above MaxFrameLen are a protocol error; the caller must abort the
// connection.
func ReadDataFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.LittleEndian.Uint16(lenBuf[:])
	if length == 0 {
		return nil, nil
	}
	if length > MaxFrameLen {
		return nil, fmt.Errorf("frame length %d exceeds max %d", length, MaxFrameLen)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// WriteDataFrame writes a server->client data frame: 4-byte LE sender
// id, 2-byte LE length, payload.
func WriteDataFrame(w io.Writer, senderID uint32, payload []byte) error {
	if len(payload) > MaxFrameLen {
		return fmt.Errorf("frame length %d exceeds max %d", len(payload), MaxFrameLen)
	}

	buf := make([]byte, DataFrameHeaderLen+len(payload))
	EncodeDataFrame(buf, senderID, payload)
	_, err := w.Write(buf)
	return err
}

// EncodeDataFrame writes the framed representation of payload into
// buf, prefixed with the sender id. buf must be at least
// DataFrameHeaderLen+len(payload) bytes. Lets the fan-out engine build
// a frame once per destination without an intermediate io.Writer.
func EncodeDataFrame(buf []byte, senderID uint32, payload []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], senderID)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(payload)))
	copy(buf[DataFrameHeaderLen:], payload)
}

// ReadServerFrame decodes a server->client framed data message. It is
// used by the debug client and by tests asserting on relayed output.
func ReadServerFrame(r io.Reader) (senderID uint32, payload []byte, err error) {
	var header [DataFrameHeaderLen]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}

	senderID = binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint16(header[4:6])
	if length == 0 {
		return senderID, nil, nil
	}

	payload = make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read frame payload: %w", err)
	}
	return senderID, payload, nil
}

// WriteClientFrame writes a client->server data frame (length-prefixed
// payload, no sender id). Used by the debug client.
func WriteClientFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLen {
		return fmt.Errorf("frame length %d exceeds max %d", len(payload), MaxFrameLen)
	}
	buf := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(payload)))
	copy(buf[2:], payload)
	_, err := w.Write(buf)
	return err
}

// Package ws adapts gorilla/websocket connections to streaming sessions.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"example.com/activityrecognition/internal/streaming"
)

// Encodings selectable with the encoding query parameter.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

const (
	closeGracePeriod = time.Second
	maxCloseReason   = 123
)

// Conn implements streaming.Conn over a websocket. JSON travels in text frames and msgpack in
// binary frames; inbound frames are decoded by their frame type.
type Conn struct {
	ws       *websocket.Conn
	encoding string

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an upgraded websocket.
func NewConn(ws *websocket.Conn, encoding string) *Conn {
	if encoding != EncodingMsgpack {
		encoding = EncodingJSON
	}
	return &Conn{ws: ws, encoding: encoding}
}

// ReadMessage blocks for the next client message. Undecodable frames wrap streaming.ErrProtocol.
func (c *Conn) ReadMessage() (streaming.ClientMessage, error) {
	var msg streaming.ClientMessage
	frameType, data, err := c.ws.ReadMessage()
	if err != nil {
		return msg, err
	}

	switch frameType {
	case websocket.BinaryMessage:
		err = msgpack.Unmarshal(data, &msg)
	default:
		err = json.Unmarshal(data, &msg)
	}
	if err != nil {
		return msg, fmt.Errorf("%w: decode message: %v", streaming.ErrProtocol, err)
	}
	return msg, nil
}

// WriteMessage sends one tick record, bounded by the ctx deadline.
func (c *Conn) WriteMessage(ctx context.Context, msg streaming.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		frameType int
		data      []byte
		err       error
	)
	if c.encoding == EncodingMsgpack {
		frameType = websocket.BinaryMessage
		data, err = msgpack.Marshal(msg)
	} else {
		frameType = websocket.TextMessage
		data, err = json.Marshal(msg)
	}
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(frameType, data)
}

// Close sends a close frame with code and reason, then closes the socket. It is idempotent.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		payload := websocket.FormatCloseMessage(code, reason)
		err := c.ws.WriteControl(websocket.CloseMessage, payload, time.Now().Add(closeGracePeriod))
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
		c.closeErr = errors.Join(err, c.ws.Close())
	})
	return c.closeErr
}

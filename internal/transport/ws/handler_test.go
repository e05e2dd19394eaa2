package ws

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/streaming"
	"example.com/activityrecognition/internal/synth"
)

func TestJSONSessionOverWebsocket(t *testing.T) {
	url := startServer(t, "")
	client := dial(t, url, http.Header{})

	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"type": "config", "activity": "running", "duration_seconds": 0.05,
	}))

	var msgs []streaming.Message
	for {
		var msg streaming.Message
		err := client.ReadJSON(&msg)
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		msgs = append(msgs, msg)
	}

	require.Len(t, msgs, 5)
	for i, msg := range msgs {
		require.Equal(t, uint64(i+1), msg.Seq)
		require.Equal(t, "running", msg.Activity)
		require.Nil(t, msg.Prediction)
	}
}

func TestUntypedConfigStartsSession(t *testing.T) {
	url := startServer(t, "")
	client := dial(t, url, http.Header{})

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"activity":"walking","duration":0.04}`)))

	var msgs []streaming.Message
	for {
		var msg streaming.Message
		err := client.ReadJSON(&msg)
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		msgs = append(msgs, msg)
	}

	require.Len(t, msgs, 4)
	require.Equal(t, "walking", msgs[0].Activity)
}

func TestMsgpackSessionOverWebsocket(t *testing.T) {
	url := startServer(t, "")
	client := dial(t, url+"?encoding=msgpack", http.Header{})

	payload, err := msgpack.Marshal(streaming.ClientMessage{Type: streaming.MessageTypeConfig, Activity: "sitting", Duration: floatPtr(0.03)})
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, payload))

	var count int
	for {
		frameType, data, err := client.ReadMessage()
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		require.Equal(t, websocket.BinaryMessage, frameType)
		var msg streaming.Message
		require.NoError(t, msgpack.Unmarshal(data, &msg))
		count++
		require.Equal(t, uint64(count), msg.Seq)
		require.Equal(t, "sitting", msg.Activity)
	}
	require.Equal(t, 3, count)
}

func TestMalformedMessageClosesWithPolicyViolation(t *testing.T) {
	url := startServer(t, "")
	client := dial(t, url, http.Header{})

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("{not json")))

	for {
		_, _, err := client.ReadMessage()
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "unexpected error: %v", err)
			require.Contains(t, err.Error(), "protocol violation")
			return
		}
	}
}

func TestUnsupportedEncodingIsRejected(t *testing.T) {
	url := startServer(t, "")

	_, resp, err := websocket.DefaultDialer.Dial(url+"?encoding=xml", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOriginCheck(t *testing.T) {
	url := startServer(t, "http://allowed.example")

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://allowed.example")
	client := dial(t, url, header)
	require.NoError(t, client.WriteJSON(map[string]string{"type": "stop"}))
}

func TestCloseTruncatesLongReasons(t *testing.T) {
	url := startServer(t, "")
	client := dial(t, url, http.Header{})

	require.NoError(t, client.WriteJSON(map[string]string{"type": "config", "activity": strings.Repeat("x", 300)}))
	for {
		_, _, err := client.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			require.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
			require.LessOrEqual(t, len(closeErr.Text), maxCloseReason)
			return
		}
	}
}

func startServer(t *testing.T, origin string) string {
	t.Helper()
	gen, err := synth.New(synth.DefaultProfiles(), 3)
	require.NoError(t, err)

	logger := log.New(testWriter{t}, "", 0)
	manager := streaming.NewManager(streaming.Config{
		TickInterval: 10 * time.Millisecond,
		ConfigWait:   time.Second,
	}, stubPredictor{}, gen, streaming.WithLogger(logger))

	opts := []Option{WithLogger(logger)}
	if origin != "" {
		opts = append(opts, WithAllowedOrigins(origin))
	}
	srv := httptest.NewServer(NewHandler(manager, opts...))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	client, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	return client
}

func floatPtr(v float64) *float64 { return &v }

type stubPredictor struct{}

func (stubPredictor) Trained() bool       { return false }
func (stubPredictor) SequenceLength() int { return 8 }
func (stubPredictor) Predict(ctx context.Context, window []domain.Reading) (domain.Prediction, error) {
	return domain.Prediction{Label: domain.UnknownLabel}, nil
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

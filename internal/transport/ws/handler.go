package ws

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"example.com/activityrecognition/internal/streaming"
)

const maxInboundBytes = 64 << 10

// SessionServer runs a streaming session on an open connection.
type SessionServer interface {
	Serve(ctx context.Context, conn streaming.Conn) error
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger overrides the logger used for upgrade failures.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithAllowedOrigins restricts browser origins. "*" allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) {
		h.origins = origins
	}
}

// Handler upgrades requests to websockets and hands them to a SessionServer.
type Handler struct {
	server   SessionServer
	upgrader websocket.Upgrader
	origins  []string
	logger   *log.Logger
}

// NewHandler constructs a Handler. Without allowed origins only same-host requests are accepted.
func NewHandler(server SessionServer, opts ...Option) *Handler {
	h := &Handler{
		server: server,
		logger: log.New(log.Writer(), "[ws] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if len(h.origins) > 0 {
		h.upgrader.CheckOrigin = h.checkOrigin
	}
	return h
}

// ServeHTTP implements http.Handler. The session's lifetime is bound to the request context.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	encoding := strings.ToLower(r.URL.Query().Get("encoding"))
	if encoding != "" && encoding != EncodingJSON && encoding != EncodingMsgpack {
		http.Error(w, "unsupported encoding", http.StatusBadRequest)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Printf("upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	socket.SetReadLimit(maxInboundBytes)

	conn := NewConn(socket, encoding)
	if err := h.server.Serve(r.Context(), conn); err != nil {
		h.logger.Printf("session from %s ended: %v", r.RemoteAddr, err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

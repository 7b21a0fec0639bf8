package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

// ExtensionBridge sends a request to the browser extension and waits for
// the matching response.
type ExtensionBridge interface {
	Request(ctx context.Context, action string, payload any) (json.RawMessage, error)
}

// ErrExtensionNotConnected is returned when no extension holds a connection.
var ErrExtensionNotConnected = errors.New("browser extension is not connected")

type bridgeRequest struct {
	RequestID string `json:"requestId"`
	Action    string `json:"action"`
	Payload   any    `json:"payload,omitempty"`
}

type bridgeResponse struct {
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// WebsocketBridge accepts the extension's websocket connection and
// correlates requests and responses by request id. Only the most recent
// connection is kept.
type WebsocketBridge struct {
	upgrader websocket.Upgrader
	logger   arbor.ILogger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending map[string]chan bridgeResponse
}

func NewWebsocketBridge(logger arbor.ILogger) *WebsocketBridge {
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}
	return &WebsocketBridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Extensions connect from a chrome-extension:// origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		pending: make(map[string]chan bridgeResponse),
	}
}

// Connected reports whether an extension connection is open.
func (b *WebsocketBridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// ServeHTTP upgrades the extension's connection and reads responses until
// it closes.
func (b *WebsocketBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Extension websocket upgrade failed")
		return
	}

	b.mu.Lock()
	previous := b.conn
	if previous != nil {
		b.failPendingLocked()
	}
	b.conn = conn
	b.mu.Unlock()
	if previous != nil {
		previous.Close()
	}
	b.logger.Info().Str("remote", r.RemoteAddr).Msg("Browser extension connected")

	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
			b.failPendingLocked()
		}
		b.mu.Unlock()
		conn.Close()
		b.logger.Info().Msg("Browser extension disconnected")
	}()

	for {
		var resp bridgeResponse
		if err := conn.ReadJSON(&resp); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug().Err(err).Msg("Extension read loop ended")
			}
			return
		}
		b.mu.Lock()
		ch, ok := b.pending[resp.RequestID]
		delete(b.pending, resp.RequestID)
		b.mu.Unlock()
		if !ok {
			b.logger.Warn().Str("request_id", resp.RequestID).Msg("Response for unknown extension request")
			continue
		}
		ch <- resp
	}
}

// failPendingLocked answers every in-flight request with a disconnect error,
// since the connection they were written to will never reply. b.mu must be held.
func (b *WebsocketBridge) failPendingLocked() {
	for id, ch := range b.pending {
		select {
		case ch <- bridgeResponse{RequestID: id, Error: "extension disconnected"}:
		default:
		}
	}
	b.pending = make(map[string]chan bridgeResponse)
}

func (b *WebsocketBridge) Request(ctx context.Context, action string, payload any) (json.RawMessage, error) {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return nil, ErrExtensionNotConnected
	}
	id := uuid.NewString()
	ch := make(chan bridgeResponse, 1)
	b.pending[id] = ch
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}

	b.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	err := conn.WriteJSON(bridgeRequest{RequestID: id, Action: action, Payload: payload})
	b.writeMu.Unlock()
	if err != nil {
		cleanup()
		return nil, &ProviderError{Provider: ChromeID, Endpoint: action, Message: err.Error()}
	}

	select {
	case resp := <-ch:
		if resp.Error != "" || !resp.Success {
			msg := resp.Error
			if msg == "" {
				msg = "extension reported failure"
			}
			return nil, &ProviderError{Provider: ChromeID, Endpoint: action, Message: msg}
		}
		return resp.Data, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

var _ ExtensionBridge = (*WebsocketBridge)(nil)

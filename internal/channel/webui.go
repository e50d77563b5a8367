package channel

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/stellarlinkco/myfriend/internal/bus"
	"github.com/stellarlinkco/myfriend/internal/config"
)

//go:embed static
var staticFiles embed.FS

const webUIChannelName = "webui"

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	ID      string `json:"id,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

// WebUIChannel is a local websocket chat. It has no listener of its own; it
// mounts on the gateway's HTTP router.
type WebUIChannel struct {
	BaseChannel
	clients sync.Map
	nextID  atomic.Int64
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewWebUIChannel(cfg config.WebUIConfig, b *bus.MessageBus) (*WebUIChannel, error) {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Mount registers the chat page and the websocket endpoint.
func (w *WebUIChannel) Mount(r *mux.Router) error {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("embed static fs: %w", err)
	}
	r.HandleFunc("/ws", w.handleWS)
	r.PathPrefix("/").Handler(http.FileServer(http.FS(staticFS)))
	return nil
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			w.cancel()
		case <-w.ctx.Done():
		}
	}()
	w.logger.Info("webui ready", "path", "/ws")
	return nil
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		w.logger.Warn("websocket accept failed", "error", err)
		return
	}

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	w.clients.Store(clientID, &wsClient{conn: conn, id: clientID})
	w.logger.Info("client connected", "client", clientID)

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		w.logger.Info("client disconnected", "client", clientID)
	}()

	var seq int64
	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "message" && msg.Type != "command" {
			continue
		}
		if msg.Content == "" {
			continue
		}
		if !w.IsAllowed(clientID) {
			w.logger.Info("rejected message", "client", clientID)
			continue
		}

		seq++
		in := bus.InboundMessage{
			Channel:   webUIChannelName,
			SenderID:  clientID,
			ChatID:    clientID,
			MessageID: fmt.Sprintf("%d", seq),
			Content:   msg.Content,
			Timestamp: time.Now(),
		}
		if msg.Type == "command" {
			in.Command, in.Content = msg.Content, ""
		}
		if !w.publish(w.ctx, in) {
			return
		}
	}
}

func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	out := wsMessage{Type: "message", Content: msg.Content}
	switch {
	case msg.Typing:
		out = wsMessage{Type: "typing"}
	case msg.IsReaction():
		out = wsMessage{Type: "reaction", Content: msg.Reaction, ID: msg.ReplyTo}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}

	client, ok := w.clients.Load(msg.ChatID)
	if !ok {
		return fmt.Errorf("webui client %s not connected", msg.ChatID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.(*wsClient).conn.Write(ctx, websocket.MessageText, data)
}

func (w *WebUIChannel) Stop() error {
	w.cancel()
	w.clients.Range(func(key, value any) bool {
		value.(*wsClient).conn.CloseNow()
		return true
	})
	w.logger.Info("stopped")
	return nil
}

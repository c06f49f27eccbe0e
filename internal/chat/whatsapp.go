package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xaenox/tripsync-bot/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	participantsTimeout = 10 * time.Second
	maxReconnectBackoff = 30 * time.Second
)

// WhatsAppConfig configures the bridge connection.
type WhatsAppConfig struct {
	BridgeURL string
	// Headless is forwarded to the bridge, which runs its browser session
	// without a window when set.
	Headless bool
	// SendRate caps outbound messages per second; zero disables the cap.
	SendRate float64
}

// bridgeFrame is the JSON frame exchanged with the WhatsApp bridge
// (a whatsapp-web.js process owning the actual WhatsApp session).
type bridgeFrame struct {
	Type         string              `json:"type"`
	From         string              `json:"from,omitempty"`
	FromName     string              `json:"from_name,omitempty"`
	FromMe       bool                `json:"from_me,omitempty"`
	Chat         string              `json:"chat,omitempty"`
	ChatName     string              `json:"chat_name,omitempty"`
	To           string              `json:"to,omitempty"`
	Content      string              `json:"content,omitempty"`
	Timestamp    int64               `json:"timestamp,omitempty"`
	Self         string              `json:"self,omitempty"`
	Code         string              `json:"code,omitempty"`
	Headless     *bool               `json:"headless,omitempty"`
	RequestID    string              `json:"request_id,omitempty"`
	Participants []bridgeParticipant `json:"participants,omitempty"`
	Error        string              `json:"error,omitempty"`
}

type bridgeParticipant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// WhatsApp talks to a WhatsApp bridge over a WebSocket.
type WhatsApp struct {
	config  WhatsAppConfig
	logger  *zap.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	conn    *websocket.Conn
	selfID  string
	pending map[string]chan bridgeFrame

	writeMu sync.Mutex
}

func NewWhatsApp(cfg WhatsAppConfig, logger *zap.Logger) (*WhatsApp, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), 1)
	}

	return &WhatsApp{
		config:  cfg,
		logger:  logger,
		limiter: limiter,
		pending: make(map[string]chan bridgeFrame),
	}, nil
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) SelfID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selfID
}

// Start connects to the bridge and starts the receive loop. A failed first
// connection is not fatal; the loop keeps retrying.
func (w *WhatsApp) Start(ctx context.Context, h Handler) error {
	w.logger.Info("Starting whatsapp channel", zap.String("bridge_url", w.config.BridgeURL))

	if err := w.connect(ctx); err != nil {
		w.logger.Warn("Initial whatsapp bridge connection failed, will retry", zap.Error(err))
	}

	go w.listenLoop(ctx, h)
	return nil
}

func (w *WhatsApp) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

func (w *WhatsApp) Send(ctx context.Context, chatID, text string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}
	return w.write(bridgeFrame{Type: "message", To: chatID, Content: text})
}

// Participants asks the bridge for the chat's member list and waits for the
// reply carrying the same request id.
func (w *WhatsApp) Participants(ctx context.Context, chatID string) ([]models.Participant, error) {
	requestID := uuid.NewString()
	reply := make(chan bridgeFrame, 1)

	w.mu.Lock()
	w.pending[requestID] = reply
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, requestID)
		w.mu.Unlock()
	}()

	if err := w.write(bridgeFrame{Type: "participants", Chat: chatID, RequestID: requestID}); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, participantsTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for participants of %s: %w", chatID, ctx.Err())
	case frame := <-reply:
		if frame.Error != "" {
			return nil, fmt.Errorf("bridge participants error: %s", frame.Error)
		}
		participants := make([]models.Participant, 0, len(frame.Participants))
		for _, p := range frame.Participants {
			participants = append(participants, models.Participant{ID: p.ID, Username: p.Name})
		}
		return participants, nil
	}
}

func (w *WhatsApp) write(frame bridgeFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal whatsapp frame: %w", err)
	}

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}

	// gorilla/websocket allows a single concurrent writer
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp %s frame: %w", frame.Type, err)
	}
	return nil
}

func (w *WhatsApp) connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, w.config.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", w.config.BridgeURL, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	headless := w.config.Headless
	if err := w.write(bridgeFrame{Type: "hello", Headless: &headless}); err != nil {
		w.dropConn(conn)
		return err
	}

	w.logger.Info("Whatsapp bridge connected", zap.String("url", w.config.BridgeURL))
	return nil
}

func (w *WhatsApp) dropConn(conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == conn {
		_ = w.conn.Close()
		w.conn = nil
	}
}

// listenLoop reads frames from the bridge, reconnecting with exponential
// backoff whenever the connection drops.
func (w *WhatsApp) listenLoop(ctx context.Context, h Handler) {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			w.Close()
			return
		}

		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()

		if conn == nil {
			w.logger.Info("Attempting whatsapp bridge reconnect", zap.Duration("backoff", backoff))

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := w.connect(ctx); err != nil {
				w.logger.Warn("Whatsapp bridge reconnect failed", zap.Error(err))
				backoff = min(backoff*2, maxReconnectBackoff)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("Whatsapp read error, will reconnect", zap.Error(err))
			}
			w.dropConn(conn)
			continue
		}

		var frame bridgeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			w.logger.Warn("Invalid whatsapp frame JSON", zap.Error(err))
			continue
		}
		w.handleFrame(ctx, frame, h)
	}
}

func (w *WhatsApp) handleFrame(ctx context.Context, frame bridgeFrame, h Handler) {
	switch frame.Type {
	case "message":
		if msg, ok := w.toMessage(frame); ok {
			w.logger.Debug("Whatsapp message received",
				zap.String("sender_id", msg.SenderID),
				zap.String("chat_id", msg.ChatID),
				zap.String("preview", Truncate(msg.Text, 50)))
			h(ctx, msg)
		}
	case "ready":
		w.mu.Lock()
		w.selfID = frame.Self
		w.mu.Unlock()
		w.logger.Info("Whatsapp session ready", zap.String("self_id", frame.Self))
	case "qr":
		w.logger.Info("Whatsapp pairing required, scan the QR code shown by the bridge",
			zap.String("qr", frame.Code))
	case "participants":
		w.mu.Lock()
		reply, ok := w.pending[frame.RequestID]
		w.mu.Unlock()
		if !ok {
			w.logger.Debug("Ignoring participants reply without a waiting request",
				zap.String("request_id", frame.RequestID))
			return
		}
		// The waiter reads at most one frame; a duplicate must not stall the read loop.
		select {
		case reply <- frame:
		default:
			w.logger.Debug("Dropping duplicate participants reply",
				zap.String("request_id", frame.RequestID))
		}
	default:
		w.logger.Debug("Ignoring whatsapp frame", zap.String("type", frame.Type))
	}
}

func (w *WhatsApp) toMessage(frame bridgeFrame) (models.Message, bool) {
	if frame.From == "" || frame.FromMe {
		return models.Message{}, false
	}

	chatID := frame.Chat
	if chatID == "" {
		chatID = frame.From
	}

	ts := time.Now()
	if frame.Timestamp > 0 {
		ts = time.Unix(frame.Timestamp, 0)
	}

	var name *string
	if n := strings.TrimSpace(frame.FromName); n != "" {
		name = &n
	}

	return models.Message{
		SenderID:   frame.From,
		SenderName: name,
		ChatID:     chatID,
		ChatName:   frame.ChatName,
		Text:       frame.Content,
		Timestamp:  ts,
		// WhatsApp group chat ids end in "@g.us"
		IsGroup: strings.HasSuffix(chatID, "@g.us"),
	}, true
}

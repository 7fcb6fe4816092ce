package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"cardDesigner/internal/auth"
	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/editor"
	"cardDesigner/internal/geometry"
	"cardDesigner/internal/metrics"
	"cardDesigner/internal/store"
)

type redisPubSub interface {
	redisPublisher
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// EditorWsHandler 为每个 WebSocket 连接维护一个独立的编辑器会话。
type EditorWsHandler struct {
	store          store.Store
	cache          store.Cache
	redisClient    redisPubSub
	authService    *auth.AuthService
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewEditorWsHandler 构造处理器。redisClient 为 nil 时不广播也不转发保存通知；
// authService 为 nil 时跳过 auth 消息。
func NewEditorWsHandler(layouts store.Store, cache store.Cache, redisClient redisPubSub, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *EditorWsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &EditorWsHandler{
		store:          layouts,
		cache:          cache,
		redisClient:    redisClient,
		authService:    authService,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(h.allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

type editorClientMessage struct {
	Type    string                `json:"type"`
	Token   string                `json:"token,omitempty"`
	Mode    string                `json:"mode,omitempty"`
	Element cardlayout.ElementID  `json:"element,omitempty"`
	X       float64               `json:"x"`
	Y       float64               `json:"y"`
	Style   editor.Style          `json:"style"`
	Card    editor.CardAttributes `json:"card"`
}

type editorServerMessage struct {
	Type      string                 `json:"type"`
	Layout    *cardlayout.CardLayout `json:"layout,omitempty"`
	State     editor.State           `json:"state,omitempty"`
	Element   cardlayout.ElementID   `json:"element,omitempty"`
	Source    editor.LoadSource      `json:"source,omitempty"`
	Error     string                 `json:"error,omitempty"`
	UpdatedAt *time.Time             `json:"updated_at,omitempty"`
}

// editorConn 串行化写操作，gorilla/websocket 不支持并发写。
type editorConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *editorConn) send(msg editorServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

func (c *editorConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
}

func (c *editorConn) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(5*time.Second))
}

type editorSession struct {
	id     string
	editor *editor.Editor
	conn   *editorConn
	log    *slog.Logger
}

// HandleConnection 升级连接，完成可选鉴权后加载布局并进入消息循环。
func (h *EditorWsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sessionID := uuid.NewString()
	log := h.logger.With(
		slog.String("client_ip", c.ClientIP()),
		slog.String("session_id", sessionID),
	)
	wc := &editorConn{conn: conn}

	if h.authService != nil {
		subject, err := h.authenticate(conn)
		if err != nil {
			wc.close(websocket.ClosePolicyViolation, "unauthorized")
			log.Warn("websocket authentication failed", slog.Any("error", err))
			return
		}
		log = log.With(slog.String("subject", subject))
	}

	opts := []editor.Option{editor.WithLogger(log)}
	if h.redisClient != nil {
		opts = append(opts, editor.WithNotifier(NewRedisNotifier(h.redisClient, sessionID)))
	}
	session := &editorSession{
		id:     sessionID,
		editor: editor.New(h.store, h.cache, opts...),
		conn:   wc,
		log:    log,
	}

	metrics.EditorSessionOpened()
	defer metrics.EditorSessionClosed()
	log.Info("editor session opened")

	if err := session.load(ctx); err != nil {
		return
	}

	errCh := make(chan error, 2)
	go func() { errCh <- session.readLoop(ctx) }()
	go func() { errCh <- h.subscribeLoop(ctx, session) }()

	err = <-errCh
	cancel()
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Info("editor session closed", slog.Any("error", err))
		return
	}
	log.Info("editor session closed")
}

func (h *EditorWsHandler) authenticate(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var msg editorClientMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("decode auth payload: %w", err)
	}
	if msg.Type != "auth" || msg.Token == "" {
		return "", errors.New("auth required")
	}
	claims, err := h.authService.ValidateToken(msg.Token)
	if err != nil {
		return "", fmt.Errorf("validate token: %w", err)
	}
	if claims.TokenType != "access" {
		return "", fmt.Errorf("invalid token type: %s", claims.TokenType)
	}
	if !claims.HasScope(auth.ScopeCardDesignWrite) {
		return "", errors.New("insufficient scope")
	}
	return claims.Subject, nil
}

func (s *editorSession) load(ctx context.Context) error {
	layout, source := s.editor.Load(ctx)
	state, active := s.editor.State()
	return s.conn.send(editorServerMessage{Type: "layout", Layout: &layout, State: state, Element: active, Source: source})
}

func (s *editorSession) sendLayout() error {
	layout := s.editor.Layout()
	state, active := s.editor.State()
	return s.conn.send(editorServerMessage{Type: "layout", Layout: &layout, State: state, Element: active})
}

func (s *editorSession) sendError(msg string) error {
	return s.conn.send(editorServerMessage{Type: "error", Error: msg})
}

func (s *editorSession) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		var msg editorClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := s.sendError("invalid message"); err != nil {
				return err
			}
			continue
		}
		if err := s.handle(ctx, msg); err != nil {
			return err
		}
	}
}

// handle 应用一条客户端消息。只有写失败才返回错误并结束会话。
func (s *editorSession) handle(ctx context.Context, msg editorClientMessage) error {
	pointer := geometry.Point{X: msg.X, Y: msg.Y}

	switch msg.Type {
	case "pointerdown":
		switch msg.Mode {
		case "", "drag":
			s.editor.BeginDrag(msg.Element, pointer)
		case "resize":
			s.editor.BeginResize(msg.Element, pointer)
		default:
			return s.sendError("unknown pointer mode")
		}
	case "pointermove":
		switch state, _ := s.editor.State(); state {
		case editor.StateDragging:
			s.editor.ContinueDrag(pointer)
		case editor.StateResizing:
			s.editor.ContinueResize(pointer)
		default:
			return nil
		}
	case "pointerup":
		switch state, _ := s.editor.State(); state {
		case editor.StateDragging:
			s.editor.EndDrag()
		case editor.StateResizing:
			s.editor.EndResize()
		}
	case "style":
		if err := s.editor.SetElementStyle(msg.Element, msg.Style); err != nil {
			return s.sendError(err.Error())
		}
	case "card":
		s.editor.SetCardAttributes(msg.Card)
	case "save":
		// 保存期间继续处理指针消息，重复的 save 由编辑器拒绝。
		go s.save(ctx)
		return nil
	case "load":
		return s.load(ctx)
	default:
		return s.sendError("unknown message type")
	}
	return s.sendLayout()
}

func (s *editorSession) save(ctx context.Context) {
	if err := s.editor.Save(ctx); err != nil {
		if !errors.Is(err, editor.ErrSaveInFlight) {
			s.log.Warn("save card design failed", slog.Any("error", err))
		}
		_ = s.sendError(err.Error())
		return
	}
	s.log.Info("card design saved")
	if err := s.conn.send(editorServerMessage{Type: "saved"}); err != nil {
		return
	}
	_ = s.sendLayout()
}

// subscribeLoop 转发其他会话的保存通知并定时 ping。
func (h *EditorWsHandler) subscribeLoop(ctx context.Context, s *editorSession) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	var updates <-chan *redis.Message
	if h.redisClient != nil {
		pubsub := h.redisClient.Subscribe(ctx, CardDesignUpdatedChannel)
		defer pubsub.Close()
		updates = pubsub.Channel()
		s.log.Info("subscribed to redis channel", slog.String("channel", CardDesignUpdatedChannel))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-updates:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			var update CardDesignUpdatedMessage
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				s.log.Warn("decode card design notification failed", slog.Any("error", err))
				continue
			}
			if update.Source == s.id {
				continue
			}
			if err := s.conn.send(editorServerMessage{Type: "updated", UpdatedAt: &update.UpdatedAt}); err != nil {
				return fmt.Errorf("write message: %w", err)
			}
		case <-ticker.C:
			if err := s.conn.ping(); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

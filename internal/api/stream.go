package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/events"
	"github.com/HypocriteSnow/UandUTDD/internal/grid"
	"github.com/HypocriteSnow/UandUTDD/internal/logging"
	"github.com/HypocriteSnow/UandUTDD/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Настройки WebSocket
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// KindSnapshot - первое сообщение потока: состояние сетки на момент подключения
const KindSnapshot events.Kind = "grid.snapshot"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage - сообщение потока занятости
type StreamMessage struct {
	Type events.Kind `json:"type"`
	Data interface{} `json:"data"`
}

// Snapshot - состояние сетки для нового подписчика
type Snapshot struct {
	Summary GridSummary     `json:"summary"`
	Tiles   []grid.TileInfo `json:"tiles"`
}

// StreamHub рассылает события сетки подключённым WebSocket-клиентам.
// Рассылка выполняется в горутине сессии и не блокируется: клиент,
// не успевающий читать, отключается.
type StreamHub struct {
	sess *session.Session

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	subs    []events.Subscription
	closed  bool

	dropped uint64
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// streamKinds - события, попадающие в поток
var streamKinds = []events.Kind{
	grid.KindGridChanged,
	grid.KindTileDeployableChanged,
	grid.KindTileTypeChanged,
	grid.KindLoaded,
	grid.KindCleared,
}

// NewStreamHub подписывается на события сессии
func NewStreamHub(sess *session.Session) *StreamHub {
	h := &StreamHub{
		sess:    sess,
		clients: make(map[*streamClient]struct{}),
	}
	for _, kind := range streamKinds {
		h.subs = append(h.subs, sess.Channel().Subscribe(kind, h.broadcast))
	}
	return h
}

func (h *StreamHub) broadcast(ev events.Event) error {
	data, err := json.Marshal(StreamMessage{Type: ev.Kind(), Data: ev})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			atomic.AddUint64(&h.dropped, 1)
			delete(h.clients, c)
			close(c.send)
			logging.Warn("[Stream] клиент %s не успевает читать, отключён", c.conn.RemoteAddr())
		}
	}
	return nil
}

// Clients возвращает число подключённых клиентов
func (h *StreamHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped возвращает число клиентов, отключённых из-за переполнения
func (h *StreamHub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

func (h *StreamHub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close отписывается от событий и отключает всех клиентов
func (h *StreamHub) Close() {
	for _, s := range h.subs {
		s.Unsubscribe()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS обрабатывает GET /ws/occupancy
func (h *StreamHub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn("[Stream] upgrade: %v", err)
		return
	}
	client := &streamClient{conn: conn, send: make(chan []byte, sendBuffer)}

	// Снимок и регистрация выполняются в горутине сессии, поэтому между
	// ними не может потеряться или задвоиться событие
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	err = h.sess.Do(ctx, func(w *grid.World) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, err := json.Marshal(StreamMessage{Type: KindSnapshot, Data: Snapshot{
			Summary: summarize(w, h.sess),
			Tiles:   w.Tiles(),
		}})
		if err != nil {
			return err
		}
		client.send <- data

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			return session.ErrStopped
		}
		h.clients[client] = struct{}{}
		return nil
	})
	cancel()
	if err != nil {
		logging.Warn("[Stream] не удалось подписать клиента: %v", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	logging.Info("[Stream] клиент подключён: %s", conn.RemoteAddr())
	go h.writePump(client)
	h.readPump(client)
}

// readPump читает только управляющие кадры; входящие данные игнорируются
func (h *StreamHub) readPump(c *streamClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		logging.Info("[Stream] клиент отключён: %s", c.conn.RemoteAddr())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("[Stream] ошибка чтения: %v", err)
			}
			return
		}
	}
}

// writePump отправляет сообщения клиенту и поддерживает соединение пингами
func (h *StreamHub) writePump(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Канал закрыт
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

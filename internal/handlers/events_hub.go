package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"estate-crm/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// --- Глобальные переменные ---

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Для разработки разрешаем все источники
	},
}

// GlobalHub - единственный экземпляр хаба для всего приложения.
// Дашборды бэк-офиса подписываются на него и в реальном времени видят
// исходы сверки входящих платежей.
var GlobalHub = NewEventsHub()

// --- Структуры ---

// ReconcileEvent - событие, уходящее подписчикам после обработки транзакции.
type ReconcileEvent struct {
	Type           string    `json:"type"` // payment.reconciled | transaction.unmatched | payment.duplicate
	TransactionID  uint      `json:"transactionId"`
	Status         string    `json:"status"`
	AppliedAmount  int64     `json:"appliedAmount"`
	LeftoverAmount int64     `json:"leftoverAmount"`
	At             time.Time `json:"at"`
}

type eventClient struct {
	hub    *EventsHub
	conn   *websocket.Conn
	send   chan []byte
	userID uint
}

type EventsHub struct {
	clients    map[uint]*eventClient
	broadcast  chan []byte
	register   chan *eventClient
	unregister chan *eventClient
	mu         sync.Mutex
}

// --- Методы Хаба ---

func NewEventsHub() *EventsHub {
	return &EventsHub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *eventClient),
		unregister: make(chan *eventClient),
		clients:    make(map[uint]*eventClient),
	}
}

func (h *EventsHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.userID] = client
			h.mu.Unlock()
			slog.Info("Events client registered", "userID", client.userID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.userID]; ok {
				delete(h.clients, client.userID)
				close(client.send)
			}
			h.mu.Unlock()
			slog.Info("Events client unregistered", "userID", client.userID)

		case eventData := <-h.broadcast:
			h.fanOut(eventData)
		}
	}
}

// fanOut рассылает событие всем подключенным клиентам. Медленного клиента
// отключаем, чтобы он не тормозил остальных.
func (h *EventsHub) fanOut(eventData []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, client := range h.clients {
		select {
		case client.send <- eventData:
		default:
			close(client.send)
			delete(h.clients, userID)
		}
	}
}

// NotifyReconcileOutcome публикует исход сверки в хаб. Вызывается воркерами
// и синхронным обработчиком; никогда не блокирует вызывающего.
func NotifyReconcileOutcome(transactionID uint, result *services.ReconcileResult) {
	if result == nil {
		return
	}
	eventType := "payment.reconciled"
	switch result.Status {
	case services.ReconcileStatusUnmatched:
		eventType = "transaction.unmatched"
	case services.ReconcileStatusAlreadyProcessed:
		eventType = "payment.duplicate"
	}
	event := ReconcileEvent{
		Type:           eventType,
		TransactionID:  transactionID,
		Status:         string(result.Status),
		AppliedAmount:  result.AppliedAmount,
		LeftoverAmount: result.LeftoverAmount,
		At:             time.Now(),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal reconcile event", "error", err)
		return
	}
	select {
	case GlobalHub.broadcast <- eventBytes:
	default:
		slog.Warn("Events hub переполнен, событие отброшено", "transaction_id", transactionID)
	}
}

// --- Методы клиента и WebSocket Endpoint ---

func (c *eventClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	// Клиенты ничего не присылают, читаем только ради обнаружения разрыва.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("Unexpected websocket close error", "error", err)
			}
			break
		}
	}
}

func (c *eventClient) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			slog.Error("Failed to write event to websocket", "error", err)
			return
		}
	}
}

// EventsWSEndpoint подключает дашборд к ленте событий сверки.
func EventsWSEndpoint(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}

	client := &eventClient{
		hub:    GlobalHub,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID.(uint),
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

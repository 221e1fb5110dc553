package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"digitbot/internal/models"
	"digitbot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ ОПТИМИЗАЦИЯ: sync.Pool для JSON буферов ============
// Тики идут несколько раз в секунду, буфер не аллоцируется на каждый

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// broadcastBufferSize - ёмкость очереди broadcast
const broadcastBufferSize = 256

// Hub управляет всеми активными WebSocket соединениями UI
//
// Рассылает клиентам тики, сделки, статус сессии и уведомления.
// Broadcast никогда не блокирует отправителя: при переполненной
// очереди сообщение отбрасывается и учитывается в DroppedMessages.
// Медленные клиенты отключаются.
//
// Использование:
// 1. Создать hub: hub := NewHub(log)
// 2. Запустить в горутине: go hub.Run()
// 3. Остановить: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	dropped int64

	// Mutex для потокобезопасного доступа к clients
	mu  sync.RWMutex
	log *utils.Logger
}

// NewHub создает новый Hub
func NewHub(log *utils.Logger) *Hub {
	if log == nil {
		log = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.WithComponent("ws_hub"),
	}
}

// Run запускает главный цикл Hub до вызова Stop
//
// Список клиентов копируется под коротким RLock, отправка идёт без
// блокировки, медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", zap.Int("clients", total))

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				for _, client := range toRemove {
					h.remove(client)
				}
				h.log.Info("slow clients removed", zap.Int("removed", len(toRemove)), zap.Int("clients", h.ClientCount()))
			}
		}
	}
}

// Stop останавливает Run и закрывает всех клиентов
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("client disconnected", zap.Int("clients", total))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Warn("failed to marshal broadcast message", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Убираем trailing newline от Encode
	data := bytes.TrimRight(buf.Bytes(), "\n")

	// Копируем данные (буфер вернётся в пул)
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msgCopy)
}

// BroadcastRaw ставит в очередь уже сериализованное сообщение
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		atomic.AddInt64(&h.dropped, 1)
	}
}

// BroadcastTick отправляет обработанный тик
func (h *Hub) BroadcastTick(symbol string, price float64, digit int) {
	h.Broadcast(NewTickMessage(symbol, price, digit))
}

// BroadcastTrade отправляет рассчитанную сделку
func (h *Hub) BroadcastTrade(rec *models.TradeRecord) {
	h.Broadcast(NewTradeMessage(rec))
}

// BroadcastStatus отправляет снимок сессии
func (h *Hub) BroadcastStatus(status *models.SessionStatus) {
	h.Broadcast(NewStatusMessage(status))
}

// BroadcastNotification отправляет уведомление
func (h *Hub) BroadcastNotification(kind, message string) {
	h.Broadcast(NewNotificationMessage(kind, message))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает количество отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// Package derivtest поднимает фейковую площадку на httptest для тестов
// транспорта и движка.
package derivtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

// ValidToken - токен, который площадка принимает по умолчанию
const ValidToken = "test-token"

// Request - входящий запрос, как его увидела площадка
type Request map[string]interface{}

// Op возвращает имя операции запроса
func (r Request) Op() string {
	for _, op := range []string{"authorize", "ticks", "balance", "proposal", "buy", "proposal_open_contract", "ping"} {
		if _, ok := r[op]; ok {
			return op
		}
	}
	return ""
}

// ClientID возвращает passthrough.client_id запроса
func (r Request) ClientID() string {
	pt, ok := r["passthrough"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := pt["client_id"].(string)
	return id
}

// Number возвращает числовое поле запроса
func (r Request) Number(key string) float64 {
	f, _ := r[key].(float64)
	return f
}

// Responder формирует ответ на запрос; nil означает "не отвечать"
type Responder func(conn *Conn, req Request) interface{}

// Conn - серверная сторона одного соединения
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Send пишет сообщение клиенту
func (c *Conn) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Venue - фейковая площадка
type Venue struct {
	Server *httptest.Server

	mu         sync.Mutex
	token      string
	balance    float64
	outcomes   []float64 // profit по контрактам в порядке покупки
	responders map[string]Responder
	conns      []*Conn
	requests   []Request
	polls      map[int64]int
	settled    map[int64]float64

	connects   int32
	nextID     int64
	rejectDial int32

	requestCh chan Request
}

// NewVenue запускает площадку и регистрирует её остановку в t.Cleanup
func NewVenue(t testing.TB) *Venue {
	v := &Venue{
		token:      ValidToken,
		balance:    1000,
		responders: make(map[string]Responder),
		polls:      make(map[int64]int),
		settled:    make(map[int64]float64),
		requestCh:  make(chan Request, 1024),
	}
	v.Server = httptest.NewServer(http.HandlerFunc(v.serve))
	t.Cleanup(func() {
		v.DropAll()
		v.Server.Close()
	})
	return v
}

// URL возвращает ws:// адрес площадки
func (v *Venue) URL() string {
	return "ws" + strings.TrimPrefix(v.Server.URL, "http")
}

// SetToken задаёт токен, который принимает authorize
func (v *Venue) SetToken(token string) {
	v.mu.Lock()
	v.token = token
	v.mu.Unlock()
}

// SetBalance задаёт баланс, который отдаётся в authorize и balance
func (v *Venue) SetBalance(balance float64) {
	v.mu.Lock()
	v.balance = balance
	v.mu.Unlock()
}

// SetOutcomes задаёт profit контрактов в порядке покупки
func (v *Venue) SetOutcomes(profits ...float64) {
	v.mu.Lock()
	v.outcomes = append([]float64(nil), profits...)
	v.mu.Unlock()
}

// Handle переопределяет ответ на операцию
func (v *Venue) Handle(op string, r Responder) {
	v.mu.Lock()
	v.responders[op] = r
	v.mu.Unlock()
}

// Hold заставляет площадку молчать на операцию
func (v *Venue) Hold(op string) {
	v.Handle(op, func(*Conn, Request) interface{} { return nil })
}

// Release возвращает операции поведение по умолчанию
func (v *Venue) Release(op string) {
	v.mu.Lock()
	delete(v.responders, op)
	v.mu.Unlock()
}

// RejectDials отклоняет апгрейд websocket (имитация недоступности)
func (v *Venue) RejectDials(reject bool) {
	if reject {
		atomic.StoreInt32(&v.rejectDial, 1)
	} else {
		atomic.StoreInt32(&v.rejectDial, 0)
	}
}

// Connects возвращает количество принятых соединений
func (v *Venue) Connects() int {
	return int(atomic.LoadInt32(&v.connects))
}

// Requests возвращает канал входящих запросов
func (v *Venue) Requests() <-chan Request {
	return v.requestCh
}

// Received возвращает копию всех полученных запросов
func (v *Venue) Received() []Request {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Request(nil), v.requests...)
}

// CountOp возвращает количество полученных запросов операции
func (v *Venue) CountOp(op string) int {
	n := 0
	for _, r := range v.Received() {
		if r.Op() == op {
			n++
		}
	}
	return n
}

// Push рассылает сообщение всем текущим соединениям
func (v *Venue) Push(msg interface{}) {
	v.mu.Lock()
	conns := append([]*Conn(nil), v.conns...)
	v.mu.Unlock()

	for _, c := range conns {
		c.Send(msg)
	}
}

// PushTick отправляет тик
func (v *Venue) PushTick(symbol string, quote float64, pipSize int) {
	v.Push(map[string]interface{}{
		"msg_type": "tick",
		"tick": map[string]interface{}{
			"symbol":   symbol,
			"quote":    quote,
			"pip_size": pipSize,
		},
	})
}

// PushBalance отправляет обновление баланса
func (v *Venue) PushBalance(balance float64) {
	v.SetBalance(balance)
	v.Push(map[string]interface{}{
		"msg_type": "balance",
		"balance":  map[string]interface{}{"balance": balance, "currency": "USD"},
	})
}

// DropAll рвёт все текущие соединения
func (v *Venue) DropAll() {
	v.mu.Lock()
	conns := v.conns
	v.conns = nil
	v.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (v *Venue) serve(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&v.rejectDial) == 1 {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	atomic.AddInt32(&v.connects, 1)

	conn := &Conn{ws: ws}
	v.mu.Lock()
	v.conns = append(v.conns, conn)
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		for i, c := range v.conns {
			if c == conn {
				v.conns = append(v.conns[:i], v.conns[i+1:]...)
				break
			}
		}
		v.mu.Unlock()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		v.mu.Lock()
		v.requests = append(v.requests, req)
		responder := v.responders[req.Op()]
		v.mu.Unlock()

		select {
		case v.requestCh <- req:
		default:
		}

		var resp interface{}
		if responder != nil {
			resp = responder(conn, req)
		} else {
			resp = v.respond(req)
		}
		if resp != nil {
			conn.Send(resp)
		}
	}
}

// respond - поведение площадки по умолчанию
func (v *Venue) respond(req Request) interface{} {
	v.mu.Lock()
	defer v.mu.Unlock()

	echo := func(msgType string, body interface{}) map[string]interface{} {
		m := map[string]interface{}{"msg_type": msgType, msgType: body}
		if pt, ok := req["passthrough"]; ok {
			m["passthrough"] = pt
		}
		return m
	}

	switch req.Op() {
	case "authorize":
		if tok, _ := req["authorize"].(string); tok != v.token {
			return map[string]interface{}{
				"msg_type": "authorize",
				"error":    map[string]interface{}{"code": "InvalidToken", "message": "The token is invalid."},
			}
		}
		return echo("authorize", map[string]interface{}{
			"balance": v.balance, "currency": "USD", "loginid": "VRTC1",
		})

	case "balance":
		return echo("balance", map[string]interface{}{"balance": v.balance, "currency": "USD"})

	case "ticks":
		return nil

	case "proposal":
		v.nextID++
		amount := req.Number("amount")
		return echo("proposal", map[string]interface{}{
			"id":        "prop-" + strconv.FormatInt(v.nextID, 10),
			"ask_price": amount,
			"payout":    amount * 1.9,
		})

	case "buy":
		v.nextID++
		price := req.Number("price")
		return echo("buy", map[string]interface{}{
			"contract_id": v.nextID,
			"buy_price":   price,
		})

	case "proposal_open_contract":
		id := int64(req.Number("contract_id"))
		v.polls[id]++
		if v.polls[id] < 2 {
			return echo("proposal_open_contract", map[string]interface{}{
				"contract_id": id, "is_sold": 0,
			})
		}
		profit, ok := v.settled[id]
		if !ok {
			profit = 0.31
			if len(v.outcomes) > 0 {
				profit = v.outcomes[0]
				v.outcomes = v.outcomes[1:]
			}
			v.settled[id] = profit
		}
		return echo("proposal_open_contract", map[string]interface{}{
			"contract_id": id, "is_sold": 1, "profit": profit, "status": "sold",
		})

	case "ping":
		return echo("ping", "pong")
	}
	return nil
}

package deriv

import (
	"bytes"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// json - кодек протокола (совместим с encoding/json, быстрее на горячем пути)
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Passthrough - поле, которое площадка возвращает в ответе без изменений
type Passthrough struct {
	ClientID string `json:"client_id"`
}

// ============================================================
// Исходящие сообщения
// ============================================================

// Request - коррелируемый запрос; реализуется только типами этого пакета
type Request interface {
	attach(p *Passthrough)
	operation() string
}

// OperationOf возвращает имя операции запроса (для логов и метрик)
func OperationOf(r Request) string {
	return r.operation()
}

type envelope struct {
	Passthrough *Passthrough `json:"passthrough,omitempty"`
}

func (e *envelope) attach(p *Passthrough) { e.Passthrough = p }

// AuthorizeRequest - авторизация токеном (отправляется транспортом при подключении)
type AuthorizeRequest struct {
	Authorize string `json:"authorize"`
}

// TicksRequest - подписка на тики символа
type TicksRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe,omitempty"`
}

// BalanceRequest - подписка на изменения баланса
type BalanceRequest struct {
	Balance   int `json:"balance"`
	Subscribe int `json:"subscribe,omitempty"`
}

// ProposalRequest - запрос котировки контракта
type ProposalRequest struct {
	envelope
	Proposal     int     `json:"proposal"`
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
	Barrier      string  `json:"barrier"`
}

func (*ProposalRequest) operation() string { return "proposal" }

// NewProposalRequest собирает запрос котировки цифрового контракта на ставку
func NewProposalRequest(stake float64, contractType, currency, symbol string, duration int, unit string, barrier int) *ProposalRequest {
	return &ProposalRequest{
		Proposal:     1,
		Amount:       stake,
		Basis:        "stake",
		ContractType: contractType,
		Currency:     currency,
		Duration:     duration,
		DurationUnit: unit,
		Symbol:       symbol,
		Barrier:      strconv.Itoa(barrier),
	}
}

// BuyRequest - покупка по ID котировки с максимальной ценой
type BuyRequest struct {
	envelope
	Buy   string  `json:"buy"`
	Price float64 `json:"price"`
}

func (*BuyRequest) operation() string { return "buy" }

// ContractStatusRequest - запрос состояния открытого контракта
type ContractStatusRequest struct {
	envelope
	ProposalOpenContract int   `json:"proposal_open_contract"`
	ContractID           int64 `json:"contract_id"`
}

func (*ContractStatusRequest) operation() string { return "proposal_open_contract" }

// PingRequest - прикладной ping площадки (проверка канала запрос/ответ)
type PingRequest struct {
	envelope
	Ping int `json:"ping"`
}

func (*PingRequest) operation() string { return "ping" }

// ============================================================
// Входящие сообщения
// ============================================================

// APIError - ошибка в ответе площадки
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope - входящее сообщение. Заполнено ровно то поле, которое
// соответствует msg_type (плюс error при ошибке).
type Envelope struct {
	MsgType              string          `json:"msg_type"`
	Passthrough          *Passthrough    `json:"passthrough,omitempty"`
	Error                *APIError       `json:"error,omitempty"`
	Authorize            *Authorization  `json:"authorize,omitempty"`
	Balance              *BalanceUpdate  `json:"balance,omitempty"`
	Tick                 *Tick           `json:"tick,omitempty"`
	Proposal             *Proposal       `json:"proposal,omitempty"`
	Buy                  *BuyReceipt     `json:"buy,omitempty"`
	ProposalOpenContract *ContractStatus `json:"proposal_open_contract,omitempty"`
	Ping                 string          `json:"ping,omitempty"`
}

// ClientID возвращает токен корреляции или пустую строку
func (e *Envelope) ClientID() string {
	if e.Passthrough == nil {
		return ""
	}
	return e.Passthrough.ClientID
}

// Authorization - результат authorize
type Authorization struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
	LoginID  string  `json:"loginid"`
}

// BalanceUpdate - push обновления баланса
type BalanceUpdate struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// Tick - push котировки
type Tick struct {
	Symbol  string  `json:"symbol"`
	Quote   float64 `json:"quote"`
	Epoch   int64   `json:"epoch"`
	PipSize float64 `json:"pip_size"`
}

// Proposal - котировка контракта
type Proposal struct {
	ID       string  `json:"id"`
	AskPrice float64 `json:"ask_price"`
	Payout   float64 `json:"payout"`
}

// BuyReceipt - подтверждение покупки
type BuyReceipt struct {
	ContractID    int64   `json:"contract_id"`
	BuyPrice      float64 `json:"buy_price"`
	BalanceAfter  float64 `json:"balance_after"`
	TransactionID int64   `json:"transaction_id"`
}

// ContractStatus - состояние контракта
type ContractStatus struct {
	ContractID int64    `json:"contract_id"`
	IsSold     Flag     `json:"is_sold"`
	Profit     *float64 `json:"profit,omitempty"`
	BuyPrice   float64  `json:"buy_price"`
	SellPrice  float64  `json:"sell_price"`
	Status     string   `json:"status"`
}

// SettledProfit возвращает profit, если площадка его прислала,
// иначе sell_price − buy_price
func (c *ContractStatus) SettledProfit() float64 {
	if c.Profit != nil {
		return *c.Profit
	}
	return c.SellPrice - c.BuyPrice
}

// Flag - булево поле, которое площадка присылает как 0/1 или true/false
type Flag bool

// UnmarshalJSON принимает true/false, числа и строки "0"/"1"
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	switch string(data) {
	case "true":
		*f = true
		return nil
	case "false", "null", "":
		*f = false
		return nil
	}

	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = n != 0
	return nil
}

// decodeEnvelope разбирает входящее сообщение
func decodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// encode сериализует исходящее сообщение
func encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

package deriv

// Kind - класс входящего сообщения
type Kind int

const (
	KindUnrecognized Kind = iota
	KindCorrelated
	KindTick
	KindBalance
	KindAuthorize
)

func (k Kind) String() string {
	switch k {
	case KindCorrelated:
		return "correlated"
	case KindTick:
		return "tick"
	case KindBalance:
		return "balance"
	case KindAuthorize:
		return "authorize"
	default:
		return "unrecognized"
	}
}

// Message - классифицированное входящее сообщение
type Message struct {
	Kind     Kind
	ClientID string
	Envelope *Envelope // nil, если payload не разобрался
	Raw      []byte
	Err      error // ошибка разбора
}

// Classify раскладывает сырой payload по классам.
//
// Порядок важен: сообщение с passthrough.client_id всегда коррелируемое,
// даже если это ошибка. Push-сообщения с полем error (например, неверный
// символ подписки) уходят в Unrecognized, чтобы их залогировали.
func Classify(raw []byte) Message {
	env, err := decodeEnvelope(raw)
	if err != nil {
		return Message{Kind: KindUnrecognized, Raw: raw, Err: err}
	}

	msg := Message{Envelope: env, Raw: raw}

	if id := env.ClientID(); id != "" {
		msg.Kind = KindCorrelated
		msg.ClientID = id
		return msg
	}

	switch {
	case env.Tick != nil && env.Error == nil:
		msg.Kind = KindTick
	case env.Balance != nil && env.Error == nil:
		msg.Kind = KindBalance
	case env.MsgType == "authorize" || env.Authorize != nil:
		msg.Kind = KindAuthorize
	default:
		msg.Kind = KindUnrecognized
	}
	return msg
}

package deriv

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender запоминает токены отправленных запросов
type fakeSender struct {
	mu     sync.Mutex
	err    error
	tokens chan string
}

func newFakeSender() *fakeSender {
	return &fakeSender{tokens: make(chan string, 64)}
}

func (f *fakeSender) Send(v interface{}) error {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}

	data, err := encode(v)
	if err != nil {
		return err
	}
	// из исходящего кадра нужен только passthrough
	var frame struct {
		Passthrough *Passthrough `json:"passthrough"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	if frame.Passthrough == nil {
		return errors.New("passthrough не заполнен")
	}
	f.tokens <- frame.Passthrough.ClientID
	return nil
}

func (f *fakeSender) next(t *testing.T) string {
	t.Helper()
	select {
	case tok := <-f.tokens:
		return tok
	case <-time.After(2 * time.Second):
		t.Fatal("запрос не был отправлен")
		return ""
	}
}

func TestCorrelator_ResolveOutOfOrder(t *testing.T) {
	sender := newFakeSender()
	c := NewCorrelator(sender, nil, time.Second)

	type reply struct {
		idx int
		env *Envelope
		err error
	}
	replies := make(chan reply, 3)

	tokens := make([]string, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			env, err := c.Request(context.Background(), &PingRequest{Ping: 1}, 0)
			replies <- reply{idx: i, env: env, err: err}
		}()
		tokens[i] = sender.next(t)
	}
	require.Equal(t, 3, c.Pending())

	// отвечаем в обратном порядке, в ответ кладём сам токен
	for i := 2; i >= 0; i-- {
		env := &Envelope{MsgType: "ping", Ping: tokens[i], Passthrough: &Passthrough{ClientID: tokens[i]}}
		assert.True(t, c.Resolve(tokens[i], env))
	}

	got := make(map[string]bool)
	for i := 0; i < 3; i++ {
		r := <-replies
		require.NoError(t, r.err)
		got[r.env.Ping] = true
	}
	for _, tok := range tokens {
		assert.True(t, got[tok], "ответ для %s не доставлен", tok)
	}
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_Timeout(t *testing.T) {
	sender := newFakeSender()
	c := NewCorrelator(sender, nil, time.Second)

	start := time.Now()
	_, err := c.Request(context.Background(), &PingRequest{Ping: 1}, 50*time.Millisecond)

	var timeoutErr *RequestTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, "ping", timeoutErr.Op)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.True(t, IsTimeout(err))

	// запись удалена, поздний ответ отбрасывается
	assert.Equal(t, 0, c.Pending())
	token := sender.next(t)
	assert.False(t, c.Resolve(token, &Envelope{}))
}

func TestCorrelator_RejectAll(t *testing.T) {
	sender := newFakeSender()
	c := NewCorrelator(sender, nil, 5*time.Second)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Request(context.Background(), &ContractStatusRequest{ProposalOpenContract: 1, ContractID: 7}, 0)
			errs <- err
		}()
		sender.next(t)
	}

	assert.Equal(t, 2, c.RejectAll(ErrConnectionLost))

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrConnectionLost)
		case <-time.After(time.Second):
			t.Fatal("запрос не был отклонён")
		}
	}
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_Rejected(t *testing.T) {
	sender := newFakeSender()
	c := NewCorrelator(sender, nil, time.Second)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), &BuyRequest{Buy: "p1", Price: 0.35}, 0)
		errs <- err
	}()

	token := sender.next(t)
	c.Resolve(token, &Envelope{
		MsgType: "buy",
		Error:   &APIError{Code: "InvalidContractProposal", Message: "Proposal expired"},
	})

	err := <-errs
	var rejected *RequestRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "buy", rejected.Op)
	assert.Equal(t, "InvalidContractProposal", rejected.Code)
}

func TestCorrelator_SendFailure(t *testing.T) {
	sender := newFakeSender()
	sender.err = &ConnectionError{Op: "write", Err: ErrNotConnected}
	c := NewCorrelator(sender, nil, time.Second)

	_, err := c.Request(context.Background(), &PingRequest{Ping: 1}, 0)
	assert.True(t, IsConnectionError(err))
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_ContextCancel(t *testing.T) {
	sender := newFakeSender()
	c := NewCorrelator(sender, nil, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := c.Request(ctx, &PingRequest{Ping: 1}, 0)
		errs <- err
	}()
	sender.next(t)
	cancel()

	assert.ErrorIs(t, <-errs, context.Canceled)
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_UniqueTokens(t *testing.T) {
	c := NewCorrelator(newFakeSender(), nil, time.Second)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok := c.nextToken()
		require.False(t, seen[tok], "дубликат токена %s", tok)
		require.True(t, strings.HasPrefix(tok, "c"))
		require.Len(t, strings.Split(tok, "_"), 3)
		seen[tok] = true
	}
}

func TestCorrelator_PingRoundTrip(t *testing.T) {
	sender := newFakeSender()
	c := NewCorrelator(sender, nil, time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), &PingRequest{Ping: 1}, 0)
		done <- err
	}()

	token := sender.next(t)
	require.NotEmpty(t, token)
	assert.True(t, c.Resolve(token, &Envelope{MsgType: "ping", Ping: "pong"}))
	require.NoError(t, <-done)
}

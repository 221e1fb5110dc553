package deriv

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки транспорта и корреляции
var (
	ErrConnectionLost  = errors.New("connection lost")
	ErrNotConnected    = errors.New("not connected")
	ErrSessionStopped  = errors.New("session stopped")
	ErrTransportClosed = errors.New("transport closed")
)

// ConnectionError - ошибка уровня соединения (dial, read, write)
//
// Запускает политику переподключения, процесс не падает.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CodeMissingToken - код AuthError, когда токен не задан
const CodeMissingToken = "MissingToken"

// AuthError - токен отсутствует или отклонён площадкой
//
// Не повторяется автоматически, требует новый токен.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Code == "" {
		return "authorization failed: " + e.Message
	}
	return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Message)
}

// RequestTimeoutError - на запрос не пришёл ответ за отведённое время
//
// Исход НЕИЗВЕСТЕН: площадка могла обработать запрос.
type RequestTimeoutError struct {
	Op       string
	ClientID string
	Timeout  time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("%s request %s timed out after %v (outcome unknown)", e.Op, e.ClientID, e.Timeout)
}

// RequestRejectedError - площадка вернула явную ошибку в ответе
type RequestRejectedError struct {
	Op      string
	Code    string
	Message string
}

func (e *RequestRejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s: %s", e.Op, e.Code, e.Message)
}

// IsConnectionError проверяет, относится ли ошибка к соединению
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNotConnected)
}

// IsAuthError проверяет, является ли ошибка ошибкой авторизации
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTimeout проверяет, истёк ли таймаут запроса
func IsTimeout(err error) bool {
	var timeoutErr *RequestTimeoutError
	return errors.As(err, &timeoutErr)
}

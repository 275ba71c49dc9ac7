package session

import (
	"fmt"

	"github.com/pkg/errors"
)

// Причины ошибок сессии. Проверяются через errors.Is.
var (
	ErrSessionNotRunning  = errors.New("session is not running")
	ErrSessionTerminated  = errors.New("session is terminated")
	ErrTransport          = errors.New("transport failure")
	ErrUnsupportedVersion = errors.New("unsupported RTP version")
	ErrInvalidConfig      = errors.New("invalid session config")
	ErrNoDestination      = errors.New("participant has no destination address")
)

// SessionError ошибка операции сессии с контекстом
type SessionError struct {
	Op        string // Операция: init, dispatch_data, send_control, ...
	SessionID string
	State     State // Состояние сессии в момент ошибки
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %s (state %s): %v", e.SessionID, e.Op, e.State, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func (s *Session) newError(op string, err error) error {
	return &SessionError{
		Op:        op,
		SessionID: s.id,
		State:     s.State(),
		Err:       err,
	}
}

package participant

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/rtp_stack/pkg/packet"
)

// Operation действие над участником при обходе базы.
// Ошибка одного вызова не прерывает обход остальных участников.
type Operation func(p *Participant) error

// Database база участников одной сессии, ключ - SSRC.
// Все реализации thread-safe.
type Database interface {
	// ID идентификатор базы (совпадает с ID сессии)
	ID() string

	// AddReceiver добавляет получателя. false - добавление отклонено политикой базы.
	AddReceiver(p *Participant) bool
	// RemoveReceiver удаляет получателя. false - удаление отклонено или участник не найден.
	RemoveReceiver(p *Participant) bool
	// RemoveReceiverBySSRC удаляет получателя по SSRC
	RemoveReceiverBySSRC(ssrc uint32) bool

	// GetParticipant ищет участника по SSRC
	GetParticipant(ssrc uint32) (*Participant, bool)
	// GetOrCreateParticipantFromDataPacket находит или создает участника по SSRC RTP пакета
	GetOrCreateParticipantFromDataPacket(origin net.Addr, pkt *packet.DataPacket) *Participant
	// GetOrCreateParticipantFromSDESChunk находит или создает участника по SSRC SDES chunk
	GetOrCreateParticipantFromSDESChunk(origin net.Addr, chunk packet.SDESChunk) *Participant

	// DoWithReceivers применяет op к каждому получателю в порядке добавления.
	// Возвращает ошибки отдельных вызовов.
	DoWithReceivers(op Operation) []error
	// DoWithParticipants применяет op к каждому известному участнику
	DoWithParticipants(op Operation) []error

	// Receivers снимок списка получателей
	Receivers() []*Participant
	// Participants снимок списка всех участников
	Participants() []*Participant
	ReceiverCount() int
	ParticipantCount() int

	// Cleanup удаляет участников, узнанных из трафика, которые прислали BYE
	// или замолчали. Получатели, добавленные явно, не удаляются.
	Cleanup(now time.Time) []*Participant
	// Clear удаляет все записи, которые база разрешает удалять
	Clear()
}

// Listener получает уведомления об изменении состава базы.
// Вызывается вне блокировок базы.
type Listener interface {
	ParticipantCreatedFromDataPacket(p *Participant)
	ParticipantCreatedFromSDESChunk(p *Participant)
	ParticipantDeleted(p *Participant)
}

// DatabaseConfig общая конфигурация баз участников
type DatabaseConfig struct {
	ID       string
	Listener Listener           // Может быть nil
	Logger   logrus.FieldLogger // По умолчанию logrus.StandardLogger()

	// Таймауты для Cleanup; нулевое значение отключает критерий
	InactivityTimeout time.Duration
	ByeTimeout        time.Duration

	// AutoAddReceivers делает участников, узнанных из трафика, получателями
	// (только MultiPeerDatabase)
	AutoAddReceivers bool
}

// DefaultDatabaseConfig возвращает конфигурацию по умолчанию
func DefaultDatabaseConfig(id string) DatabaseConfig {
	return DatabaseConfig{
		ID:                id,
		InactivityTimeout: 60 * time.Second,
		ByeTimeout:        5 * time.Second,
	}
}

func (c *DatabaseConfig) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger().WithField("component", "participant_db")
	}
	return c.Logger
}

// runOperations применяет op к каждому участнику из снимка, изолируя ошибки и паники
func runOperations(log logrus.FieldLogger, participants []*Participant, op Operation) []error {
	var errs []error
	for _, p := range participants {
		if err := runOperation(p, op); err != nil {
			log.WithFields(logrus.Fields{
				"participant": p.String(),
				"error":       err,
			}).Warn("ошибка операции над участником")
			errs = append(errs, err)
		}
	}
	return errs
}

func runOperation(p *Participant, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в операции над участником %s: %v", p, r)
		}
	}()
	return op(p)
}

package session

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/rtp_stack/pkg/participant"
)

// Mode режим базы участников сессии
type Mode int

const (
	// ModeSinglePeer - один заранее известный собеседник (point-to-point)
	ModeSinglePeer Mode = iota
	// ModeMultiPeer - конференция, участники появляются из трафика
	ModeMultiPeer
)

func (m Mode) String() string {
	switch m {
	case ModeSinglePeer:
		return "single_peer"
	case ModeMultiPeer:
		return "multi_peer"
	default:
		return "unknown"
	}
}

// Config конфигурация RTP сессии.
// Обязательны LocalParticipant.CNAME, а для ModeSinglePeer еще и Peer.
type Config struct {
	// ID сессии; пустой - сгенерировать через IDGenerator
	ID string

	// Локальный участник. SSRC без HasSSRC выбирается случайно.
	LocalParticipant participant.Info
	Mode             Mode
	Peer             *participant.Participant // Собеседник для ModeSinglePeer

	// Локальные адреса каналов
	Host        string
	DataPort    int
	ControlPort int

	NonBlockingIO    bool             // Подсказка транспорту (useNio)
	TransportFactory TransportFactory // По умолчанию UDPTransportFactory
	IDGenerator      *IDGenerator     // По умолчанию DefaultIDGenerator()

	// Получатели входящих пакетов (могут быть nil)
	DataReceiver    DataReceiver
	ControlReceiver ControlReceiver
	EventListener   EventListener

	// Периодические RTCP отчеты
	AutomatedRTCPHandling bool
	RTCPInterval          time.Duration // 0 - считать по RFC 3550 Appendix A.7
	RTCPBandwidth         float64       // Байт/с для RTCP, используется при RTCPInterval == 0
	ClockRate             uint32        // Частота RTP timestamp участников

	SendByeOnTerminate bool
	ByeReason          string

	// Очистка молчащих участников (только ModeMultiPeer)
	CleanupInterval   time.Duration // 0 - не чистить
	InactivityTimeout time.Duration
	ByeTimeout        time.Duration
	AutoAddReceivers  bool // Участники из трафика становятся получателями

	// Размер таблицы адресов, с которых приходили конфликты SSRC
	ConflictTableSize int

	Logger            logrus.FieldLogger
	MetricsRegisterer prometheus.Registerer // По умолчанию отдельный реестр сессии
}

// DefaultConfig возвращает конфигурацию по умолчанию для локального участника с cname
func DefaultConfig(cname string) Config {
	return Config{
		LocalParticipant:  participant.Info{CNAME: cname},
		Mode:              ModeMultiPeer,
		Host:              "0.0.0.0",
		RTCPBandwidth:     160, // 5% от 64 кбит/с G.711 в байтах/с
		ClockRate:         participant.DefaultClockRate,
		ByeReason:         "session terminated",
		InactivityTimeout: 30 * time.Second,
		ByeTimeout:        2 * time.Second,
		AutoAddReceivers:  true,
		ConflictTableSize: 64,
	}
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.LocalParticipant.CNAME == "" {
		return errors.Wrap(ErrInvalidConfig, "local participant CNAME is required")
	}
	if len(c.LocalParticipant.CNAME) > 255 {
		return errors.Wrap(ErrInvalidConfig, "local participant CNAME exceeds 255 bytes")
	}
	switch c.Mode {
	case ModeSinglePeer:
		if c.Peer == nil {
			return errors.Wrap(ErrInvalidConfig, "single peer mode requires Peer")
		}
	case ModeMultiPeer:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown mode %d", c.Mode)
	}
	if c.DataPort < 0 || c.DataPort > 65535 || c.ControlPort < 0 || c.ControlPort > 65535 {
		return errors.Wrap(ErrInvalidConfig, "port out of range")
	}
	if c.DataPort != 0 && c.DataPort == c.ControlPort {
		return errors.Wrap(ErrInvalidConfig, "data and control ports must differ")
	}
	if c.RTCPInterval < 0 || c.CleanupInterval < 0 {
		return errors.Wrap(ErrInvalidConfig, "negative interval")
	}
	if c.ConflictTableSize < 0 {
		return errors.Wrap(ErrInvalidConfig, "negative conflict table size")
	}
	return nil
}

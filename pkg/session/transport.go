package session

import (
	"net"

	"github.com/sirupsen/logrus"
)

// Channel канал сессии: RTP данные или RTCP управление
type Channel int

const (
	ChannelData Channel = iota
	ChannelControl
)

func (c Channel) String() string {
	if c == ChannelControl {
		return "control"
	}
	return "data"
}

// DatagramHandler получает каждую принятую датаграмму.
// Срез действителен только на время вызова.
type DatagramHandler func(src net.Addr, data []byte)

// Transport отправка датаграмм одного канала.
// Прием идет через DatagramHandler, переданный фабрике.
type Transport interface {
	Send(dst net.Addr, data []byte) error
	LocalAddr() net.Addr
	Close() error
}

// ChannelConfig параметры одного канала для фабрики транспорта
type ChannelConfig struct {
	Channel Channel
	Host    string
	Port    int // 0 - выбрать свободный порт

	// NonBlockingIO подсказка транспорту: обрабатывать датаграммы в пуле
	// воркеров, а не в горутине чтения
	NonBlockingIO bool

	Logger logrus.FieldLogger
}

// TransportFactory создает и запускает транспорт канала
type TransportFactory func(config ChannelConfig, handler DatagramHandler) (Transport, error)

package session

import (
	"context"
	"net"
	"strconv"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/arzzra/rtp_stack/pkg/participant"
)

const (
	// DefaultReadBufferSize размер буфера чтения одной датаграммы
	DefaultReadBufferSize = 1500

	// VoiceSocketBufferSize размер буферов сокета ядра
	VoiceSocketBufferSize = 65535

	// DSCP значения для QoS согласно RFC 4594
	DSCPExpeditedForwarding = 46 // EF для интерактивного аудио
	DSCPBestEffort          = 0
)

// UDPOptions настройки UDP транспорта
type UDPOptions struct {
	ReadBufferSize   int  // Максимальный размер датаграммы
	SocketBufferSize int  // SO_RCVBUF и SO_SNDBUF; 0 - не менять
	ReusePort        bool // SO_REUSEADDR/SO_REUSEPORT
	DSCP             int  // DSCP маркировка исходящих пакетов; 0 - не менять

	// Параметры пула обработки для ChannelConfig.NonBlockingIO
	Workers   int
	QueueSize int
}

// DefaultUDPOptions возвращает настройки по умолчанию для голосового трафика
func DefaultUDPOptions() UDPOptions {
	return UDPOptions{
		ReadBufferSize:   DefaultReadBufferSize,
		SocketBufferSize: VoiceSocketBufferSize,
		DSCP:             DSCPExpeditedForwarding,
		Workers:          4,
		QueueSize:        256,
	}
}

// UDPTransportFactory создает UDP транспорт с DefaultUDPOptions
func UDPTransportFactory(config ChannelConfig, handler DatagramHandler) (Transport, error) {
	return NewUDPTransportFactory(DefaultUDPOptions())(config, handler)
}

// NewUDPTransportFactory возвращает фабрику UDP транспорта с заданными настройками
func NewUDPTransportFactory(options UDPOptions) TransportFactory {
	return func(config ChannelConfig, handler DatagramHandler) (Transport, error) {
		t, err := newUDPTransport(config, options, handler)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

type datagram struct {
	src  net.Addr
	data []byte
}

// udpTransport UDP сокет одного канала с горутиной чтения.
// При NonBlockingIO датаграммы обрабатываются пулом воркеров через
// ограниченную очередь; при переполнении очереди датаграмма отбрасывается.
type udpTransport struct {
	conn    *net.UDPConn
	handler DatagramHandler
	options UDPOptions
	logger  logrus.FieldLogger

	queue chan datagram

	closeOnce sync.Once
	closed    chan struct{}
}

func newUDPTransport(config ChannelConfig, options UDPOptions, handler DatagramHandler) (*udpTransport, error) {
	if handler == nil {
		return nil, errors.New("datagram handler is required")
	}
	if options.ReadBufferSize <= 0 {
		options.ReadBufferSize = DefaultReadBufferSize
	}

	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	listenConfig := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if !options.ReusePort {
				return nil
			}
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = setSockOptReuse(int(fd))
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	address := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	pc, err := listenConfig.ListenPacket(context.Background(), "udp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen %s channel on %s", config.Channel, address)
	}
	conn := pc.(*net.UDPConn)

	t := &udpTransport{
		conn:    conn,
		handler: handler,
		options: options,
		logger:  logger,
		closed:  make(chan struct{}),
	}

	if err := t.tune(); err != nil {
		conn.Close()
		return nil, err
	}

	if config.NonBlockingIO {
		workers := options.Workers
		if workers <= 0 {
			workers = 1
		}
		t.queue = make(chan datagram, max(options.QueueSize, 1))
		for i := 0; i < workers; i++ {
			go t.worker()
		}
	}

	go t.readLoop()

	return t, nil
}

// tune применяет размеры буферов и DSCP. Ошибка DSCP не критична.
func (t *udpTransport) tune() error {
	if size := t.options.SocketBufferSize; size > 0 {
		if err := t.conn.SetReadBuffer(size); err != nil {
			return errors.Wrap(err, "failed to set receive buffer")
		}
		if err := t.conn.SetWriteBuffer(size); err != nil {
			return errors.Wrap(err, "failed to set send buffer")
		}
	}

	if t.options.DSCP > 0 {
		if err := ipv4.NewConn(t.conn).SetTOS(t.options.DSCP << 2); err != nil {
			t.logger.WithError(err).Debug("DSCP не установлен")
		}
	}
	return nil
}

func (t *udpTransport) readLoop() {
	defer func() {
		if t.queue != nil {
			close(t.queue)
		}
	}()

	buf := make([]byte, t.options.ReadBufferSize)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.WithError(err).Warn("ошибка чтения UDP")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if t.queue == nil {
			t.handler(addr, data)
			continue
		}

		select {
		case t.queue <- datagram{src: addr, data: data}:
		default:
			t.logger.WithField("origin", addr).Warn("очередь обработки переполнена, датаграмма отброшена")
		}
	}
}

func (t *udpTransport) worker() {
	for d := range t.queue {
		t.handler(d.src, d.data)
	}
}

// Send отправляет одну датаграмму. Неразрешенный адрес разрешается через DNS.
func (t *udpTransport) Send(dst net.Addr, data []byte) error {
	select {
	case <-t.closed:
		return net.ErrClosed
	default:
	}

	resolved, err := participant.Resolve(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", dst)
	}
	if _, err := t.conn.WriteTo(data, resolved); err != nil {
		return errors.Wrapf(err, "failed to send to %s", resolved)
	}
	return nil
}

func (t *udpTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close закрывает сокет. Горутина чтения завершается сама, не дожидаясь
// обработчика, поэтому Close можно вызывать из DatagramHandler.
func (t *udpTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

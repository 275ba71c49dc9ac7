package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtp_stack/pkg/packet"
	"github.com/arzzra/rtp_stack/pkg/participant"
)

type sentDatagram struct {
	dst  net.Addr
	data []byte
}

// fakeTransport транспорт в памяти: запоминает отправленное, прием через deliver
type fakeTransport struct {
	mu       sync.Mutex
	channel  Channel
	local    net.Addr
	handler  DatagramHandler
	sent     []sentDatagram
	closed   bool
	closeErr error
}

func (t *fakeTransport) Send(dst net.Addr, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return net.ErrClosed
	}
	t.sent = append(t.sent, sentDatagram{dst: dst, data: append([]byte(nil), data...)})
	return nil
}

func (t *fakeTransport) LocalAddr() net.Addr { return t.local }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.closeErr
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) sentDatagrams() []sentDatagram {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentDatagram(nil), t.sent...)
}

func (t *fakeTransport) deliver(src net.Addr, data []byte) {
	t.handler(src, data)
}

// fakeFactory создает fakeTransport; failOn задает канал, создание которого падает
type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	failOn     map[Channel]bool
	closeErr   error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{failOn: make(map[Channel]bool)}
}

func (f *fakeFactory) create(config ChannelConfig, handler DatagramHandler) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failOn[config.Channel] {
		return nil, errors.New("bind failed")
	}
	t := &fakeTransport{
		channel:  config.Channel,
		local:    &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000 + len(f.transports)},
		handler:  handler,
		closeErr: f.closeErr,
	}
	f.transports = append(f.transports, t)
	return t, nil
}

// last возвращает последний созданный транспорт канала
func (f *fakeFactory) last(channel Channel) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.transports) - 1; i >= 0; i-- {
		if f.transports[i].channel == channel {
			return f.transports[i]
		}
	}
	return nil
}

// eventRecorder записывает события сессии
type eventRecorder struct {
	mu           sync.Mutex
	joinedData   []*participant.Participant
	joinedCtrl   []*participant.Participant
	updated      []*participant.Participant
	left         []*participant.Participant
	deleted      []*participant.Participant
	conflicts    [][2]uint32
	terminations int
}

func (r *eventRecorder) ParticipantJoinedFromData(_ *Session, p *participant.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinedData = append(r.joinedData, p)
}

func (r *eventRecorder) ParticipantJoinedFromControl(_ *Session, p *participant.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinedCtrl = append(r.joinedCtrl, p)
}

func (r *eventRecorder) ParticipantDataUpdated(_ *Session, p *participant.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, p)
}

func (r *eventRecorder) ParticipantLeft(_ *Session, p *participant.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, p)
}

func (r *eventRecorder) ParticipantDeleted(_ *Session, p *participant.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, p)
}

func (r *eventRecorder) ResolvedSSRCConflict(_ *Session, oldSSRC, newSSRC uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, [2]uint32{oldSSRC, newSSRC})
}

func (r *eventRecorder) SessionTerminated(*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminations++
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func udpAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// testConfig конфигурация multi-peer сессии на fakeFactory с фиксированным SSRC
func testConfig(factory *fakeFactory, events EventListener) Config {
	config := DefaultConfig("local@test")
	config.LocalParticipant = participant.NewInfo(0x1234, "local@test")
	config.TransportFactory = factory.create
	config.EventListener = events
	config.AutoAddReceivers = false
	config.Logger = quietLogger()
	return config
}

func newRunningSession(t *testing.T, config Config) *Session {
	t.Helper()
	s, err := New(config)
	require.NoError(t, err)
	require.True(t, s.Init())
	t.Cleanup(s.Terminate)
	return s
}

func encodeData(t *testing.T, pkt *packet.DataPacket) []byte {
	t.Helper()
	data, err := pkt.Encode()
	require.NoError(t, err)
	return data
}

func encodeCompound(t *testing.T, packets ...packet.ControlPacket) []byte {
	t.Helper()
	compound, err := packet.NewCompoundControlPacket(packets...)
	require.NoError(t, err)
	data, err := compound.Encode()
	require.NoError(t, err)
	return data
}

// counterValue значение счетчика name с меткой channel (пустая - без метки)
func counterValue(t *testing.T, gatherer prometheus.Gatherer, name, channel string) float64 {
	t.Helper()
	families, err := gatherer.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if channel == "" || hasLabel(metric.GetLabel(), "channel", channel) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func gaugeValue(t *testing.T, gatherer prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := gatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name && len(family.GetMetric()) > 0 {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func hasLabel(pairs []*dto.LabelPair, name, value string) bool {
	for _, pair := range pairs {
		if pair.GetName() == name && pair.GetValue() == value {
			return true
		}
	}
	return false
}

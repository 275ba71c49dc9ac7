// Package session реализует RTP сессию по RFC 3550: жизненный цикл
// (created -> running -> terminated), прием и разбор датаграмм, сопоставление
// пакетов с участниками, отправку данных и RTCP отчетов, разрешение коллизий SSRC.
//
// Сессия не зависит от транспорта: каналы данных и управления создаются через
// TransportFactory. По умолчанию используется UDPTransportFactory.
//
// Пример:
//
//	config := session.DefaultConfig("alice@example.com")
//	config.DataPort = 5004
//	config.ControlPort = 5005
//	s, err := session.New(config)
//	if err != nil {
//		return err
//	}
//	if !s.Init() {
//		return errors.New("не удалось запустить сессию")
//	}
//	defer s.Terminate()
package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/randutil"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/rtp_stack/pkg/bytecodec"
	"github.com/arzzra/rtp_stack/pkg/packet"
	"github.com/arzzra/rtp_stack/pkg/participant"
)

// State состояние сессии
type State string

const (
	StateCreated    State = "created"
	StateRunning    State = "running"
	StateTerminated State = "terminated"
)

const (
	eventInit      = "init"
	eventTerminate = "terminate"
)

// Session RTP сессия. Все методы безопасны для конкурентного вызова:
// прием на каналах данных и управления, отправка и обход участников
// могут идти одновременно.
type Session struct {
	id     string
	config Config
	logger *logrus.Entry

	// mu сериализует Init и Terminate
	mu           sync.Mutex
	stateMachine *fsm.FSM

	ioMu             sync.RWMutex
	dataTransport    Transport
	controlTransport Transport

	local    *participant.Participant
	database participant.Database
	listener EventListener

	collisionMu sync.Mutex
	conflicts   *conflictTable
	idGenerator *IDGenerator

	sender   senderStats
	rng      randutil.MathRandomGenerator
	metrics  *sessionMetrics
	gatherer prometheus.Gatherer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New создает сессию в состоянии created. Ресурсы захватываются в Init.
func New(config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	idGenerator := config.IDGenerator
	if idGenerator == nil {
		idGenerator = DefaultIDGenerator()
	}

	id := config.ID
	if id == "" {
		var err error
		if id, err = idGenerator.NewID(); err != nil {
			return nil, err
		}
	}

	localInfo := config.LocalParticipant
	if !localInfo.HasSSRC {
		ssrc, err := idGenerator.NewSSRC()
		if err != nil {
			return nil, err
		}
		localInfo.SSRC = ssrc
		localInfo.HasSSRC = true
	}

	baseLogger := config.Logger
	if baseLogger == nil {
		baseLogger = logrus.StandardLogger()
	}
	logger := baseLogger.WithFields(logrus.Fields{
		"component":  "rtp_session",
		"session_id": id,
	})

	registerer := config.MetricsRegisterer
	var gatherer prometheus.Gatherer
	if registerer == nil {
		registry := prometheus.NewRegistry()
		registerer = registry
		gatherer = registry
	}

	s := &Session{
		id:          id,
		config:      config,
		logger:      logger,
		local:       participant.NewFromInfo(localInfo),
		listener:    config.EventListener,
		conflicts:   newConflictTable(config.ConflictTableSize),
		idGenerator: idGenerator,
		rng:         randutil.NewMathRandomGenerator(),
		metrics:     newSessionMetrics(registerer, id),
		gatherer:    gatherer,
	}
	if s.listener == nil {
		s.listener = NopEventListener{}
	}

	dbConfig := participant.DatabaseConfig{
		ID:                id,
		Listener:          databaseListener{session: s},
		Logger:            logger,
		InactivityTimeout: config.InactivityTimeout,
		ByeTimeout:        config.ByeTimeout,
		AutoAddReceivers:  config.AutoAddReceivers,
	}
	switch config.Mode {
	case ModeSinglePeer:
		config.Peer.SetClockRate(s.clockRate())
		s.database = participant.NewSinglePeerDatabase(config.Peer, dbConfig)
	default:
		s.database = participant.NewMultiPeerDatabase(dbConfig)
	}
	s.updateParticipantsGauge()

	s.initStateMachine()
	return s, nil
}

// initStateMachine инициализирует конечный автомат состояний
func (s *Session) initStateMachine() {
	s.stateMachine = fsm.NewFSM(
		string(StateCreated),
		fsm.Events{
			{Name: eventInit, Src: []string{string(StateCreated)}, Dst: string(StateRunning)},
			{Name: eventTerminate, Src: []string{string(StateRunning)}, Dst: string(StateTerminated)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				s.logger.WithFields(logrus.Fields{
					"from": e.Src,
					"to":   e.Dst,
				}).Debug("смена состояния сессии")
			},
		},
	)
}

// ID идентификатор сессии
func (s *Session) ID() string { return s.id }

// State текущее состояние
func (s *Session) State() State {
	return State(s.stateMachine.Current())
}

// IsRunning сообщает, запущена ли сессия
func (s *Session) IsRunning() bool {
	return s.State() == StateRunning
}

// NonBlockingIO подсказка транспортному уровню, с которой создана сессия
func (s *Session) NonBlockingIO() bool { return s.config.NonBlockingIO }

// Mode режим базы участников
func (s *Session) Mode() Mode { return s.config.Mode }

// LocalParticipant локальный участник сессии
func (s *Session) LocalParticipant() *participant.Participant { return s.local }

// Database база участников сессии
func (s *Session) Database() participant.Database { return s.database }

// MetricsGatherer реестр метрик сессии; nil если задан внешний MetricsRegisterer
func (s *Session) MetricsGatherer() prometheus.Gatherer { return s.gatherer }

// DataAddress локальный адрес канала данных; nil если сессия не запущена
func (s *Session) DataAddress() net.Addr {
	if t := s.transport(ChannelData); t != nil {
		return t.LocalAddr()
	}
	return nil
}

// ControlAddress локальный адрес канала управления; nil если сессия не запущена
func (s *Session) ControlAddress() net.Addr {
	if t := s.transport(ChannelControl); t != nil {
		return t.LocalAddr()
	}
	return nil
}

// Init захватывает транспорт для обоих каналов и запускает сессию.
// При ошибке уже захваченные ресурсы освобождаются, сессия остается created.
// Для запущенной или завершенной сессии ничего не делает и возвращает IsRunning.
func (s *Session) Init() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateCreated {
		return s.IsRunning()
	}

	factory := s.config.TransportFactory
	if factory == nil {
		factory = UDPTransportFactory
	}

	data, err := factory(s.channelConfig(ChannelData, s.config.DataPort), s.onDataDatagram)
	if err != nil {
		s.logger.WithError(err).Error("не удалось создать канал данных")
		return false
	}

	control, err := factory(s.channelConfig(ChannelControl, s.config.ControlPort), s.onControlDatagram)
	if err != nil {
		s.logger.WithError(err).Error("не удалось создать канал управления")
		s.closeTransport(ChannelData, data)
		return false
	}

	s.ioMu.Lock()
	s.dataTransport = data
	s.controlTransport = control
	s.ioMu.Unlock()

	if err := s.stateMachine.Event(context.Background(), eventInit); err != nil {
		s.logger.WithError(err).Error("ошибка изменения состояния")
		s.releaseTransports()
		return false
	}

	s.stopCh = make(chan struct{})
	if s.config.AutomatedRTCPHandling {
		s.wg.Add(1)
		go s.rtcpLoop()
	}
	if s.config.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.cleanupLoop()
	}

	s.logger.WithFields(logrus.Fields{
		"data":    data.LocalAddr(),
		"control": control.LocalAddr(),
		"mode":    s.config.Mode.String(),
	}).Info("сессия запущена")
	return true
}

func (s *Session) channelConfig(channel Channel, port int) ChannelConfig {
	return ChannelConfig{
		Channel:       channel,
		Host:          s.config.Host,
		Port:          port,
		NonBlockingIO: s.config.NonBlockingIO,
		Logger:        s.logger.WithField("channel", channel.String()),
	}
}

// Terminate останавливает сессию и освобождает ресурсы. Повторный вызов
// и вызов для незапущенной сессии ничего не делают. Ошибка закрытия одного
// канала не мешает закрыть второй.
func (s *Session) Terminate() {
	s.mu.Lock()

	if s.State() != StateRunning {
		s.mu.Unlock()
		return
	}

	close(s.stopCh)

	if s.config.SendByeOnTerminate {
		if err := s.sendBye(s.config.ByeReason); err != nil {
			s.logger.WithError(err).Warn("не удалось отправить BYE")
		}
	}

	if err := s.stateMachine.Event(context.Background(), eventTerminate); err != nil {
		s.logger.WithError(err).Error("ошибка изменения состояния")
	}
	cause := s.releaseTransports()
	s.mu.Unlock()

	s.wg.Wait()
	s.database.Clear()
	s.conflicts.clear()

	s.logger.Info("сессия завершена")
	s.listener.SessionTerminated(s, cause)
}

// releaseTransports закрывает оба канала и возвращает первую ошибку
func (s *Session) releaseTransports() error {
	s.ioMu.Lock()
	data, control := s.dataTransport, s.controlTransport
	s.dataTransport, s.controlTransport = nil, nil
	s.ioMu.Unlock()

	dataErr := s.closeTransport(ChannelData, data)
	controlErr := s.closeTransport(ChannelControl, control)
	if dataErr != nil {
		return dataErr
	}
	return controlErr
}

func (s *Session) closeTransport(channel Channel, t Transport) error {
	if t == nil {
		return nil
	}
	if err := t.Close(); err != nil {
		s.logger.WithError(err).WithField("channel", channel.String()).Warn("ошибка закрытия канала")
		return errors.Wrapf(ErrTransport, "close %s channel: %v", channel, err)
	}
	return nil
}

func (s *Session) transport(channel Channel) Transport {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	if channel == ChannelControl {
		return s.controlTransport
	}
	return s.dataTransport
}

func (s *Session) checkRunning(op string) error {
	switch s.State() {
	case StateRunning:
		return nil
	case StateTerminated:
		return s.newError(op, ErrSessionTerminated)
	default:
		return s.newError(op, ErrSessionNotRunning)
	}
}

func (s *Session) updateParticipantsGauge() {
	s.metrics.participants.Set(float64(s.database.ParticipantCount()))
}

// AddReceiver добавляет получателя в базу участников
func (s *Session) AddReceiver(p *participant.Participant) bool {
	if p == nil {
		return false
	}
	p.SetClockRate(s.clockRate())
	added := s.database.AddReceiver(p)
	s.updateParticipantsGauge()
	return added
}

// RemoveReceiver удаляет получателя из базы участников
func (s *Session) RemoveReceiver(p *participant.Participant) bool {
	return s.database.RemoveReceiver(p)
}

func (s *Session) onDataDatagram(src net.Addr, data []byte) {
	if err := s.HandleDataDatagram(src, data); err != nil {
		s.logger.WithError(err).WithField("origin", src).Debug("датаграмма данных отброшена")
	}
}

func (s *Session) onControlDatagram(src net.Addr, data []byte) {
	if err := s.HandleControlDatagram(src, data); err != nil {
		s.logger.WithError(err).WithField("origin", src).Debug("датаграмма управления отброшена")
	}
}

// HandleDataDatagram разбирает RTP датаграмму и передает ее в DispatchDataPacket.
// Некорректный пакет отбрасывается без изменения состояния сессии.
func (s *Session) HandleDataDatagram(src net.Addr, data []byte) error {
	if err := s.checkRunning("handle_data"); err != nil {
		return err
	}
	s.metrics.packetsReceived.WithLabelValues(ChannelData.String()).Inc()

	pkt, err := packet.DecodeDataPacket(data)
	if err != nil {
		s.dropMalformed(ChannelData, src, data, err)
		return s.newError("decode_data", err)
	}
	return s.DispatchDataPacket(src, pkt)
}

// HandleControlDatagram разбирает составной RTCP пакет и передает его в DispatchControlPacket
func (s *Session) HandleControlDatagram(src net.Addr, data []byte) error {
	if err := s.checkRunning("handle_control"); err != nil {
		return err
	}
	s.metrics.packetsReceived.WithLabelValues(ChannelControl.String()).Inc()

	compound, err := packet.DecodeCompound(data)
	if err != nil {
		s.dropMalformed(ChannelControl, src, data, err)
		return s.newError("decode_control", err)
	}
	return s.DispatchControlPacket(src, compound)
}

func (s *Session) dropMalformed(channel Channel, src net.Addr, data []byte, err error) {
	s.metrics.decodeErrors.WithLabelValues(channel.String()).Inc()
	entry := s.logger.WithFields(logrus.Fields{
		"channel":     channel.String(),
		"origin":      src,
		"size":        len(data),
		"fingerprint": bytecodec.HashHex(data),
	})
	entry.WithError(err).Warn("некорректный пакет отброшен")
	if s.logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
		entry.Debug("\n" + bytecodec.Dump(data))
	}
}

// DispatchDataPacket сопоставляет RTP пакет с участником и передает его DataReceiver
func (s *Session) DispatchDataPacket(src net.Addr, pkt *packet.DataPacket) error {
	if err := s.checkRunning("dispatch_data"); err != nil {
		return err
	}
	if pkt.Version != packet.V2 {
		return s.newError("dispatch_data", errors.Wrapf(ErrUnsupportedVersion, "version %s", pkt.Version))
	}
	if s.resolveCollision(src, pkt.SSRC) {
		return nil
	}

	p := s.database.GetOrCreateParticipantFromDataPacket(src, pkt)
	if receiver := s.config.DataReceiver; receiver != nil {
		receiver.DataPacketReceived(s, p, pkt)
	}
	return nil
}

// DispatchControlPacket обрабатывает составной RTCP пакет: SDES обновляет
// описания участников, SR запоминается для LSR/DLSR, BYE отмечает уход.
// Затем пакет передается ControlReceiver.
func (s *Session) DispatchControlPacket(src net.Addr, compound *packet.CompoundControlPacket) error {
	if err := s.checkRunning("dispatch_control"); err != nil {
		return err
	}
	now := time.Now()
	packets := compound.Packets()

	// SDES первым: участник должен существовать до учета SR и BYE
	for _, cp := range packets {
		if sdes, ok := cp.(*packet.SourceDescription); ok {
			s.handleSourceDescription(src, sdes)
		}
	}

	for _, cp := range packets {
		switch p := cp.(type) {
		case *packet.SenderReport:
			if s.resolveCollision(src, p.SSRC) {
				continue
			}
			if member, ok := s.database.GetParticipant(p.SSRC); ok {
				member.RecordSenderReport(src, p.NTPTimestamp, now)
			}
		case *packet.ReceiverReport:
			if s.resolveCollision(src, p.SSRC) {
				continue
			}
			if member, ok := s.database.GetParticipant(p.SSRC); ok {
				member.UpdateFromControlPacket(src, now)
			}
		case *packet.Bye:
			s.handleBye(src, p, now)
		case *packet.AppData:
			if member, ok := s.database.GetParticipant(p.SSRC); ok {
				member.UpdateFromControlPacket(src, now)
			}
		}
	}

	if receiver := s.config.ControlReceiver; receiver != nil {
		receiver.ControlPacketReceived(s, src, compound)
	}
	return nil
}

func (s *Session) handleSourceDescription(src net.Addr, sdes *packet.SourceDescription) {
	for _, chunk := range sdes.Chunks {
		if s.resolveCollision(src, chunk.SSRC) {
			continue
		}

		var before participant.Info
		existing, known := s.database.GetParticipant(chunk.SSRC)
		if known {
			before = existing.Info()
		}

		p := s.database.GetOrCreateParticipantFromSDESChunk(src, chunk)
		if known && descriptionChanged(before, p.Info()) {
			s.listener.ParticipantDataUpdated(s, p)
		}
	}
}

func descriptionChanged(a, b participant.Info) bool {
	a.DataAddress, a.ControlAddress = nil, nil
	b.DataAddress, b.ControlAddress = nil, nil
	return a != b
}

func (s *Session) handleBye(src net.Addr, bye *packet.Bye, now time.Time) {
	for _, ssrc := range bye.Sources {
		p, ok := s.database.GetParticipant(ssrc)
		if !ok {
			continue
		}
		p.MarkBye(src, now)
		s.logger.WithFields(logrus.Fields{
			"ssrc":   ssrc,
			"reason": bye.Reason,
		}).Debug("участник покинул сессию")
		s.listener.ParticipantLeft(s, p)
	}
}

// resolveCollision обрабатывает пакет с локальным SSRC (RFC 3550 Section 8.2).
// Первый конфликт с адреса меняет локальный SSRC и рассылает BYE для старого.
// Повторный конфликт с того же адреса считается петлей: пакет отбрасывается.
func (s *Session) resolveCollision(src net.Addr, ssrc uint32) bool {
	s.collisionMu.Lock()
	defer s.collisionMu.Unlock()

	local, _ := s.local.SSRC()
	if ssrc != local {
		return false
	}

	if s.conflicts.seen(src, time.Now()) {
		s.logger.WithFields(logrus.Fields{
			"ssrc":   ssrc,
			"origin": src,
		}).Debug("повторный конфликт SSRC, пакет отброшен")
		return true
	}

	s.metrics.ssrcCollisions.Inc()
	newSSRC, err := s.pickSSRC(local)
	if err != nil {
		s.logger.WithError(err).Error("не удалось выбрать новый SSRC")
		return true
	}

	if err := s.sendBye("SSRC collision"); err != nil {
		s.logger.WithError(err).Warn("не удалось отправить BYE для старого SSRC")
	}
	s.local.ChangeSSRC(newSSRC)

	s.logger.WithFields(logrus.Fields{
		"old_ssrc": local,
		"new_ssrc": newSSRC,
		"origin":   src,
	}).Warn("коллизия SSRC разрешена")
	s.listener.ResolvedSSRCConflict(s, local, newSSRC)
	return false
}

func (s *Session) pickSSRC(old uint32) (uint32, error) {
	for {
		ssrc, err := s.idGenerator.NewSSRC()
		if err != nil {
			return 0, err
		}
		if ssrc == old {
			continue
		}
		if _, taken := s.database.GetParticipant(ssrc); taken {
			continue
		}
		return ssrc, nil
	}
}

// sendBye рассылает отчет с BYE для текущего локального SSRC
func (s *Session) sendBye(reason string) error {
	report, err := s.BuildReport()
	if err != nil {
		return err
	}
	ssrc, _ := s.local.SSRC()
	bye, err := packet.NewCompoundControlPacket(append(report.Packets(), packet.NewBye(reason, ssrc))...)
	if err != nil {
		return err
	}
	return s.sendControl("send_bye", bye)
}

// SendDataPacket отправляет RTP пакет всем получателям от имени локального участника.
// SSRC пакета заменяется локальным; сам pkt не изменяется.
func (s *Session) SendDataPacket(pkt *packet.DataPacket) error {
	if err := s.checkRunning("send_data"); err != nil {
		return err
	}

	out := *pkt
	out.SSRC, _ = s.local.SSRC()
	data, err := out.Encode()
	if err != nil {
		return s.newError("send_data", err)
	}
	s.sender.recordData(&out, time.Now())

	return s.fanOut("send_data", ChannelData, data, (*participant.Participant).DataDestination)
}

// SendControlPacket отправляет составной RTCP пакет всем получателям
func (s *Session) SendControlPacket(compound *packet.CompoundControlPacket) error {
	if err := s.checkRunning("send_control"); err != nil {
		return err
	}
	return s.sendControl("send_control", compound)
}

func (s *Session) sendControl(op string, compound *packet.CompoundControlPacket) error {
	data, err := compound.Encode()
	if err != nil {
		return s.newError(op, err)
	}
	s.sender.recordControl(len(data))
	return s.fanOut(op, ChannelControl, data, (*participant.Participant).ControlDestination)
}

// SendControlPacketTo отправляет составной RTCP пакет на указанный адрес
func (s *Session) SendControlPacketTo(dst net.Addr, compound *packet.CompoundControlPacket) error {
	if err := s.checkRunning("send_control"); err != nil {
		return err
	}
	data, err := compound.Encode()
	if err != nil {
		return s.newError("send_control", err)
	}
	t := s.transport(ChannelControl)
	if t == nil {
		return s.newError("send_control", ErrSessionNotRunning)
	}
	if err := t.Send(dst, data); err != nil {
		return s.newError("send_control", errors.Wrap(ErrTransport, err.Error()))
	}
	s.sender.recordControl(len(data))
	s.metrics.packetsSent.WithLabelValues(ChannelControl.String()).Inc()
	return nil
}

// fanOut отправляет data каждому получателю. Ошибка одного получателя
// не мешает отправке остальным; возвращается первая ошибка.
func (s *Session) fanOut(op string, channel Channel, data []byte, destination func(*participant.Participant) net.Addr) error {
	t := s.transport(channel)
	if t == nil {
		return s.newError(op, ErrSessionNotRunning)
	}

	sent := s.metrics.packetsSent.WithLabelValues(channel.String())
	errs := s.database.DoWithReceivers(func(p *participant.Participant) error {
		dst := destination(p)
		if dst == nil {
			return errors.Wrapf(ErrNoDestination, "%s", p)
		}
		if err := t.Send(dst, data); err != nil {
			return errors.Wrapf(ErrTransport, "send to %s: %v", dst, err)
		}
		sent.Inc()
		return nil
	})

	if len(errs) > 0 {
		return s.newError(op, errs[0])
	}
	return nil
}

func (s *Session) rtcpLoop() {
	defer s.wg.Done()

	initial := true
	for {
		timer := time.NewTimer(s.nextRTCPInterval(initial))
		initial = false

		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		report, err := s.BuildReport()
		if err != nil {
			s.logger.WithError(err).Warn("не удалось собрать RTCP отчет")
			continue
		}
		if err := s.SendControlPacket(report); err != nil {
			s.logger.WithError(err).Debug("ошибка отправки RTCP отчета")
		}
	}
}

func (s *Session) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			if removed := s.database.Cleanup(now); len(removed) > 0 {
				s.logger.WithField("count", len(removed)).Debug("удалены неактивные участники")
			}
		}
	}
}

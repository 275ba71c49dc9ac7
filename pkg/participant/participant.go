// Package participant содержит модель удаленных участников RTP сессии
// и базы участников, сопоставляющие наблюдаемый трафик с SSRC.
//
// Участник (Participant) хранит идентичность (Info) и изменяемое состояние:
// адреса, с которых последний раз пришли RTP и RTCP пакеты, признаки
// получения SDES и BYE, время последней активности.
//
// База участников (Database) - единственный источник истины о том, какие
// участники существуют. Два варианта:
//   - SinglePeerDatabase: один заранее сконфигурированный собеседник (point-to-point)
//   - MultiPeerDatabase: открытая карта SSRC -> участник (конференция)
package participant

import (
	"net"
	"sync"
	"time"

	"github.com/arzzra/rtp_stack/pkg/packet"
)

// Participant удаленный участник RTP сессии.
// Thread-safe: все поля защищены собственным мьютексом.
//
// LastDataOrigin меняется только при получении RTP, LastControlOrigin - только
// при получении RTCP. Это позволяет обнаружить участников, у которых RTP и RTCP
// приходят с разных портов.
type Participant struct {
	mu sync.RWMutex

	info Info

	lastDataOrigin    net.Addr
	lastControlOrigin net.Addr
	receivedSDES      bool
	receivedBye       bool

	lastSequenceNumber int32 // -1 пока не получено ни одного RTP
	lastReceptionTime  time.Time
	byeReceptionTime   time.Time
	dataPackets        uint64
	dataOctets         uint64
	controlPackets     uint64

	clockRate uint32
	reception receptionState
}

// Stats снимок счетчиков участника
type Stats struct {
	DataPackets        uint64
	DataOctets         uint64
	ControlPackets     uint64
	LastSequenceNumber int32
	LastReceptionTime  time.Time
	ByeReceptionTime   time.Time
}

// NewReceiver создает участника с неизвестным SSRC; SSRC определится по первому пакету
func NewReceiver(host string, dataPort, controlPort int) *Participant {
	return &Participant{
		info: Info{
			DataAddress:    NewAddress(host, dataPort),
			ControlAddress: NewAddress(host, controlPort),
		},
		lastSequenceNumber: -1,
	}
}

// NewReceiverWithInfo создает участника с заранее известными SSRC/CNAME
func NewReceiverWithInfo(info Info, host string, dataPort, controlPort int) *Participant {
	info.DataAddress = NewAddress(host, dataPort)
	info.ControlAddress = NewAddress(host, controlPort)
	return &Participant{
		info:               info,
		lastSequenceNumber: -1,
	}
}

// NewFromInfo создает участника из готового Info (например, полученного из SDP)
func NewFromInfo(info Info) *Participant {
	return &Participant{
		info:               info,
		lastSequenceNumber: -1,
	}
}

// NewFromDataPacket создает участника по первому RTP пакету от неизвестного SSRC
func NewFromDataPacket(origin net.Addr, pkt *packet.DataPacket) *Participant {
	p := &Participant{
		info:               Info{SSRC: pkt.SSRC, HasSSRC: true},
		lastSequenceNumber: -1,
	}
	p.UpdateFromDataPacket(origin, pkt, time.Now())
	return p
}

// NewFromSDESChunk создает участника по первому SDES chunk от неизвестного SSRC
func NewFromSDESChunk(origin net.Addr, chunk packet.SDESChunk) *Participant {
	p := &Participant{
		info:               Info{SSRC: chunk.SSRC, HasSSRC: true},
		lastSequenceNumber: -1,
	}
	p.UpdateFromSDESChunk(origin, chunk, time.Now())
	return p
}

// Info возвращает копию идентичности участника
func (p *Participant) Info() Info {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info
}

// SSRC возвращает SSRC и признак того, что он известен
func (p *Participant) SSRC() (uint32, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info.SSRC, p.info.HasSSRC
}

// CNAME возвращает canonical name (пустой до получения SDES)
func (p *Participant) CNAME() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info.CNAME
}

// LastDataOrigin адрес последнего RTP пакета от участника
func (p *Participant) LastDataOrigin() net.Addr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastDataOrigin
}

// LastControlOrigin адрес последнего RTCP пакета от участника
func (p *Participant) LastControlOrigin() net.Addr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastControlOrigin
}

// DataDestination адрес для отправки RTP: сконфигурированный, иначе последний наблюдаемый
func (p *Participant) DataDestination() net.Addr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.info.DataAddress != nil {
		return p.info.DataAddress
	}
	return p.lastDataOrigin
}

// ControlDestination адрес для отправки RTCP: сконфигурированный, иначе последний наблюдаемый
func (p *Participant) ControlDestination() net.Addr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.info.ControlAddress != nil {
		return p.info.ControlAddress
	}
	return p.lastControlOrigin
}

// ReceivedSDES сообщает, был ли получен SDES от участника
func (p *Participant) ReceivedSDES() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.receivedSDES
}

// ReceivedBye сообщает, был ли получен BYE от участника
func (p *Participant) ReceivedBye() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.receivedBye
}

// Stats возвращает снимок счетчиков
func (p *Participant) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		DataPackets:        p.dataPackets,
		DataOctets:         p.dataOctets,
		ControlPackets:     p.controlPackets,
		LastSequenceNumber: p.lastSequenceNumber,
		LastReceptionTime:  p.lastReceptionTime,
		ByeReceptionTime:   p.byeReceptionTime,
	}
}

// UpdateFromDataPacket учитывает RTP пакет: обновляет LastDataOrigin и счетчики.
// Неизвестный SSRC разрешается значением из пакета; сконфигурированный не меняется.
func (p *Participant) UpdateFromDataPacket(origin net.Addr, pkt *packet.DataPacket, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resolveSSRC(pkt.SSRC)
	p.lastDataOrigin = origin
	p.lastSequenceNumber = int32(pkt.SequenceNumber)
	p.lastReceptionTime = now
	p.dataPackets++
	p.dataOctets += uint64(len(pkt.Payload))
	p.reception.update(pkt.SequenceNumber, pkt.Timestamp, now, p.clockRate)
}

// UpdateFromSDESChunk учитывает SDES chunk: обновляет LastControlOrigin и описание
func (p *Participant) UpdateFromSDESChunk(origin net.Addr, chunk packet.SDESChunk, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resolveSSRC(chunk.SSRC)
	p.info.applySDES(chunk)
	p.receivedSDES = true
	p.touchControlLocked(origin, now)
}

// UpdateFromControlPacket учитывает прочие RTCP пакеты (SR, RR, APP) от участника
func (p *Participant) UpdateFromControlPacket(origin net.Addr, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.touchControlLocked(origin, now)
}

// MarkBye отмечает получение BYE
func (p *Participant) MarkBye(origin net.Addr, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.receivedBye = true
	p.byeReceptionTime = now
	p.touchControlLocked(origin, now)
}

// RecordSenderReport запоминает время SR от участника для полей LSR/DLSR
func (p *Participant) RecordSenderReport(origin net.Addr, ntpTimestamp uint64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reception.lastSR = packet.MiddleNTP(ntpTimestamp)
	p.reception.lastSRTime = now
	p.touchControlLocked(origin, now)
}

// SetClockRate задает частоту RTP timestamp для расчета jitter
func (p *Participant) SetClockRate(rate uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clockRate = rate
}

// ReceptionReport формирует блок приема о данных участника.
// false если от участника не было RTP или его SSRC неизвестен.
func (p *Participant) ReceptionReport(now time.Time) (packet.ReceptionReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.reception.started || !p.info.HasSSRC {
		return packet.ReceptionReport{}, false
	}
	return p.reception.report(p.info.SSRC, now), true
}

// ChangeSSRC заменяет SSRC и возвращает прежний.
// Нужен только локальному участнику при разрешении коллизии SSRC.
func (p *Participant) ChangeSSRC(ssrc uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.info.SSRC
	p.info.SSRC = ssrc
	p.info.HasSSRC = true
	return old
}

// IsSender сообщает, присылал ли участник RTP
func (p *Participant) IsSender() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dataPackets > 0
}

func (p *Participant) touchControlLocked(origin net.Addr, now time.Time) {
	p.lastControlOrigin = origin
	p.lastReceptionTime = now
	p.controlPackets++
}

// resolveSSRC устанавливает SSRC только если он еще не известен
func (p *Participant) resolveSSRC(ssrc uint32) {
	if p.info.HasSSRC {
		return
	}
	p.info.SSRC = ssrc
	p.info.HasSSRC = true
}

// bindSSRC привязывает SSRC, пришедший из трафика, к участнику без SSRC.
// Возвращает false если у участника уже другой SSRC.
func (p *Participant) bindSSRC(ssrc uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.info.HasSSRC {
		return p.info.SSRC == ssrc
	}
	p.info.SSRC = ssrc
	p.info.HasSSRC = true
	return true
}

// expired сообщает, молчит ли участник дольше inactivity или получил BYE раньше byeTimeout назад
func (p *Participant) expired(now time.Time, inactivity, byeTimeout time.Duration) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.receivedBye && byeTimeout > 0 && now.Sub(p.byeReceptionTime) >= byeTimeout {
		return true
	}
	if inactivity > 0 && !p.lastReceptionTime.IsZero() && now.Sub(p.lastReceptionTime) >= inactivity {
		return true
	}
	return false
}

func (p *Participant) String() string {
	return p.Info().String()
}

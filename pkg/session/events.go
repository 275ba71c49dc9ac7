package session

import (
	"net"

	"github.com/arzzra/rtp_stack/pkg/packet"
	"github.com/arzzra/rtp_stack/pkg/participant"
)

// DataReceiver получает RTP пакеты после сопоставления с участником
type DataReceiver interface {
	DataPacketReceived(s *Session, from *participant.Participant, pkt *packet.DataPacket)
}

// ControlReceiver получает составные RTCP пакеты после обработки сессией
type ControlReceiver interface {
	ControlPacketReceived(s *Session, origin net.Addr, compound *packet.CompoundControlPacket)
}

// DataReceiverFunc адаптер функции к DataReceiver
type DataReceiverFunc func(s *Session, from *participant.Participant, pkt *packet.DataPacket)

func (f DataReceiverFunc) DataPacketReceived(s *Session, from *participant.Participant, pkt *packet.DataPacket) {
	f(s, from, pkt)
}

// ControlReceiverFunc адаптер функции к ControlReceiver
type ControlReceiverFunc func(s *Session, origin net.Addr, compound *packet.CompoundControlPacket)

func (f ControlReceiverFunc) ControlPacketReceived(s *Session, origin net.Addr, compound *packet.CompoundControlPacket) {
	f(s, origin, compound)
}

// EventListener события жизненного цикла участников и сессии.
// Вызывается синхронно из горутины, обработавшей пакет, вне блокировок сессии.
type EventListener interface {
	ParticipantJoinedFromData(s *Session, p *participant.Participant)
	ParticipantJoinedFromControl(s *Session, p *participant.Participant)
	ParticipantDataUpdated(s *Session, p *participant.Participant)
	ParticipantLeft(s *Session, p *participant.Participant)
	ParticipantDeleted(s *Session, p *participant.Participant)
	ResolvedSSRCConflict(s *Session, oldSSRC, newSSRC uint32)
	SessionTerminated(s *Session, cause error)
}

// NopEventListener пустая реализация для встраивания
type NopEventListener struct{}

func (NopEventListener) ParticipantJoinedFromData(*Session, *participant.Participant)    {}
func (NopEventListener) ParticipantJoinedFromControl(*Session, *participant.Participant) {}
func (NopEventListener) ParticipantDataUpdated(*Session, *participant.Participant)       {}
func (NopEventListener) ParticipantLeft(*Session, *participant.Participant)              {}
func (NopEventListener) ParticipantDeleted(*Session, *participant.Participant)           {}
func (NopEventListener) ResolvedSSRCConflict(*Session, uint32, uint32)                   {}
func (NopEventListener) SessionTerminated(*Session, error)                               {}

// databaseListener пересылает события базы участников в EventListener сессии
type databaseListener struct {
	session *Session
}

func (l databaseListener) ParticipantCreatedFromDataPacket(p *participant.Participant) {
	p.SetClockRate(l.session.clockRate())
	l.session.updateParticipantsGauge()
	l.session.listener.ParticipantJoinedFromData(l.session, p)
}

func (l databaseListener) ParticipantCreatedFromSDESChunk(p *participant.Participant) {
	p.SetClockRate(l.session.clockRate())
	l.session.updateParticipantsGauge()
	l.session.listener.ParticipantJoinedFromControl(l.session, p)
}

func (l databaseListener) ParticipantDeleted(p *participant.Participant) {
	l.session.updateParticipantsGauge()
	l.session.listener.ParticipantDeleted(l.session, p)
}

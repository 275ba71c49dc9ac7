package participant

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/rtp_stack/pkg/packet"
)

// SinglePeerDatabase база из одного заранее сконфигурированного собеседника.
// Состав базы не меняется за все время жизни: добавить можно только того же
// участника, удалить нельзя никого.
type SinglePeerDatabase struct {
	id     string
	peer   *Participant
	logger logrus.FieldLogger
}

// NewSinglePeerDatabase создает базу для point-to-point сессии с peer
func NewSinglePeerDatabase(peer *Participant, config DatabaseConfig) *SinglePeerDatabase {
	return &SinglePeerDatabase{
		id:     config.ID,
		peer:   peer,
		logger: config.logger().WithField("db_id", config.ID),
	}
}

func (db *SinglePeerDatabase) ID() string { return db.id }

// Peer возвращает сконфигурированного собеседника
func (db *SinglePeerDatabase) Peer() *Participant { return db.peer }

// AddReceiver принимает только сконфигурированного собеседника
func (db *SinglePeerDatabase) AddReceiver(p *Participant) bool {
	return p != nil && p == db.peer
}

// RemoveReceiver не поддерживается: собеседник фиксирован
func (db *SinglePeerDatabase) RemoveReceiver(*Participant) bool { return false }

// RemoveReceiverBySSRC не поддерживается: собеседник фиксирован
func (db *SinglePeerDatabase) RemoveReceiverBySSRC(uint32) bool { return false }

func (db *SinglePeerDatabase) GetParticipant(ssrc uint32) (*Participant, bool) {
	if current, ok := db.peer.SSRC(); ok && current == ssrc {
		return db.peer, true
	}
	return nil, false
}

// GetOrCreateParticipantFromDataPacket всегда возвращает собеседника.
// Пакет с чужим SSRC все равно учитывается на нем, второй участник не создается.
func (db *SinglePeerDatabase) GetOrCreateParticipantFromDataPacket(origin net.Addr, pkt *packet.DataPacket) *Participant {
	db.checkSSRC(pkt.SSRC, "rtp")
	db.peer.UpdateFromDataPacket(origin, pkt, time.Now())
	return db.peer
}

// GetOrCreateParticipantFromSDESChunk всегда возвращает собеседника
func (db *SinglePeerDatabase) GetOrCreateParticipantFromSDESChunk(origin net.Addr, chunk packet.SDESChunk) *Participant {
	db.checkSSRC(chunk.SSRC, "sdes")
	db.peer.UpdateFromSDESChunk(origin, chunk, time.Now())
	return db.peer
}

func (db *SinglePeerDatabase) checkSSRC(ssrc uint32, source string) {
	current, ok := db.peer.SSRC()
	if ok && current != ssrc {
		db.logger.WithFields(logrus.Fields{
			"expected_ssrc": current,
			"got_ssrc":      ssrc,
			"source":        source,
		}).Warn("SSRC не совпадает с собеседником")
	}
}

func (db *SinglePeerDatabase) DoWithReceivers(op Operation) []error {
	return runOperations(db.logger, []*Participant{db.peer}, op)
}

func (db *SinglePeerDatabase) DoWithParticipants(op Operation) []error {
	return db.DoWithReceivers(op)
}

func (db *SinglePeerDatabase) Receivers() []*Participant    { return []*Participant{db.peer} }
func (db *SinglePeerDatabase) Participants() []*Participant { return []*Participant{db.peer} }
func (db *SinglePeerDatabase) ReceiverCount() int           { return 1 }
func (db *SinglePeerDatabase) ParticipantCount() int        { return 1 }

// Cleanup ничего не удаляет
func (db *SinglePeerDatabase) Cleanup(time.Time) []*Participant { return nil }

// Clear ничего не удаляет
func (db *SinglePeerDatabase) Clear() {}

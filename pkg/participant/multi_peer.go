package participant

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/rtp_stack/pkg/packet"
)

// MultiPeerDatabase открытая база участников конференции.
//
// Участники делятся на две группы: все известные (participants) и получатели
// (receivers), которым сессия рассылает пакеты. Получатель, добавленный
// явно без SSRC, привязывается к SSRC по совпадению адреса первого пакета.
// Один мьютекс защищает всю карту; операции обхода работают со снимком
// и выполняются вне блокировки.
type MultiPeerDatabase struct {
	mu sync.RWMutex

	id       string
	config   DatabaseConfig
	logger   logrus.FieldLogger
	listener Listener

	bySSRC    map[uint32]*Participant
	all       []*Participant         // порядок появления
	receivers []*Participant         // порядок добавления
	explicit  map[*Participant]bool // добавлены через AddReceiver
}

// NewMultiPeerDatabase создает пустую базу
func NewMultiPeerDatabase(config DatabaseConfig) *MultiPeerDatabase {
	return &MultiPeerDatabase{
		id:       config.ID,
		config:   config,
		logger:   config.logger().WithField("db_id", config.ID),
		listener: config.Listener,
		bySSRC:   make(map[uint32]*Participant),
		explicit: make(map[*Participant]bool),
	}
}

func (db *MultiPeerDatabase) ID() string { return db.id }

// AddReceiver добавляет получателя. Отклоняет nil, повторное явное добавление
// и участника с SSRC, уже занятым другим объектом.
// Участник, ранее узнанный из трафика, становится получателем.
func (db *MultiPeerDatabase) AddReceiver(p *Participant) bool {
	if p == nil {
		return false
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.explicit[p] {
		return false
	}
	// Участник, добавленный в получатели автоматически, становится явным
	if indexOf(db.receivers, p) >= 0 {
		db.explicit[p] = true
		return true
	}

	if ssrc, ok := p.SSRC(); ok {
		existing, found := db.bySSRC[ssrc]
		switch {
		case found && existing != p:
			return false
		case !found:
			db.bySSRC[ssrc] = p
			db.all = append(db.all, p)
		}
	} else if indexOf(db.all, p) < 0 {
		db.all = append(db.all, p)
	}

	db.receivers = append(db.receivers, p)
	db.explicit[p] = true
	return true
}

// RemoveReceiver удаляет участника по SSRC, а участника без SSRC - по ссылке
func (db *MultiPeerDatabase) RemoveReceiver(p *Participant) bool {
	if p == nil {
		return false
	}
	if ssrc, ok := p.SSRC(); ok {
		return db.RemoveReceiverBySSRC(ssrc)
	}

	db.mu.Lock()
	removed := db.removeLocked(p)
	db.mu.Unlock()

	if removed {
		db.notifyDeleted(p)
	}
	return removed
}

// RemoveReceiverBySSRC удаляет участника с данным SSRC
func (db *MultiPeerDatabase) RemoveReceiverBySSRC(ssrc uint32) bool {
	db.mu.Lock()
	p, ok := db.bySSRC[ssrc]
	if ok {
		db.removeLocked(p)
	}
	db.mu.Unlock()

	if ok {
		db.notifyDeleted(p)
	}
	return ok
}

func (db *MultiPeerDatabase) removeLocked(p *Participant) bool {
	idx := indexOf(db.all, p)
	if idx < 0 {
		return false
	}
	db.all = append(db.all[:idx], db.all[idx+1:]...)
	if i := indexOf(db.receivers, p); i >= 0 {
		db.receivers = append(db.receivers[:i], db.receivers[i+1:]...)
	}
	if ssrc, ok := p.SSRC(); ok && db.bySSRC[ssrc] == p {
		delete(db.bySSRC, ssrc)
	}
	delete(db.explicit, p)
	return true
}

func (db *MultiPeerDatabase) GetParticipant(ssrc uint32) (*Participant, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	p, ok := db.bySSRC[ssrc]
	return p, ok
}

// GetOrCreateParticipantFromDataPacket ищет участника по SSRC пакета.
// Если не найден, пробует привязать получателя без SSRC с тем же адресом данных,
// иначе создает нового участника.
func (db *MultiPeerDatabase) GetOrCreateParticipantFromDataPacket(origin net.Addr, pkt *packet.DataPacket) *Participant {
	now := time.Now()
	p, created := db.getOrCreate(pkt.SSRC, origin, func(r *Participant) net.Addr {
		return r.Info().DataAddress
	}, func() *Participant {
		return NewFromDataPacket(origin, pkt)
	})

	if created {
		if db.listener != nil {
			db.listener.ParticipantCreatedFromDataPacket(p)
		}
		return p
	}
	p.UpdateFromDataPacket(origin, pkt, now)
	return p
}

// GetOrCreateParticipantFromSDESChunk то же для управляющего канала; адрес
// сопоставляется с ControlAddress получателей
func (db *MultiPeerDatabase) GetOrCreateParticipantFromSDESChunk(origin net.Addr, chunk packet.SDESChunk) *Participant {
	now := time.Now()
	p, created := db.getOrCreate(chunk.SSRC, origin, func(r *Participant) net.Addr {
		return r.Info().ControlAddress
	}, func() *Participant {
		return NewFromSDESChunk(origin, chunk)
	})

	if created {
		if db.listener != nil {
			db.listener.ParticipantCreatedFromSDESChunk(p)
		}
		return p
	}
	p.UpdateFromSDESChunk(origin, chunk, now)
	return p
}

func (db *MultiPeerDatabase) getOrCreate(ssrc uint32, origin net.Addr, address func(*Participant) net.Addr, create func() *Participant) (*Participant, bool) {
	db.mu.RLock()
	p, ok := db.bySSRC[ssrc]
	db.mu.RUnlock()
	if ok {
		return p, false
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	// Повторная проверка: участника мог создать параллельный вызов
	if p, ok := db.bySSRC[ssrc]; ok {
		return p, false
	}

	if origin != nil {
		for _, r := range db.receivers {
			if _, has := r.SSRC(); has {
				continue
			}
			if SameAddr(address(r), origin) && r.bindSSRC(ssrc) {
				db.bySSRC[ssrc] = r
				db.logger.WithFields(logrus.Fields{
					"ssrc":   ssrc,
					"origin": origin.String(),
				}).Debug("получатель привязан к SSRC")
				return r, false
			}
		}
	}

	p = create()
	db.bySSRC[ssrc] = p
	db.all = append(db.all, p)
	if db.config.AutoAddReceivers {
		db.receivers = append(db.receivers, p)
	}
	db.logger.WithFields(logrus.Fields{
		"ssrc":   ssrc,
		"origin": origin,
	}).Debug("новый участник")
	return p, true
}

func (db *MultiPeerDatabase) DoWithReceivers(op Operation) []error {
	return runOperations(db.logger, db.Receivers(), op)
}

func (db *MultiPeerDatabase) DoWithParticipants(op Operation) []error {
	return runOperations(db.logger, db.Participants(), op)
}

func (db *MultiPeerDatabase) Receivers() []*Participant {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]*Participant(nil), db.receivers...)
}

func (db *MultiPeerDatabase) Participants() []*Participant {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]*Participant(nil), db.all...)
}

func (db *MultiPeerDatabase) ReceiverCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.receivers)
}

func (db *MultiPeerDatabase) ParticipantCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.all)
}

// Cleanup удаляет участников, узнанных из трафика, по таймаутам из DatabaseConfig
func (db *MultiPeerDatabase) Cleanup(now time.Time) []*Participant {
	var removed []*Participant

	db.mu.Lock()
	for _, p := range append([]*Participant(nil), db.all...) {
		if db.explicit[p] {
			continue
		}
		if p.expired(now, db.config.InactivityTimeout, db.config.ByeTimeout) {
			db.removeLocked(p)
			removed = append(removed, p)
		}
	}
	db.mu.Unlock()

	for _, p := range removed {
		db.notifyDeleted(p)
	}
	return removed
}

// Clear удаляет всех участников
func (db *MultiPeerDatabase) Clear() {
	db.mu.Lock()
	removed := db.all
	db.all = nil
	db.receivers = nil
	db.bySSRC = make(map[uint32]*Participant)
	db.explicit = make(map[*Participant]bool)
	db.mu.Unlock()

	for _, p := range removed {
		db.notifyDeleted(p)
	}
}

func (db *MultiPeerDatabase) notifyDeleted(p *Participant) {
	db.logger.WithField("participant", p.String()).Debug("участник удален")
	if db.listener != nil {
		db.listener.ParticipantDeleted(p)
	}
}

func indexOf(list []*Participant, p *Participant) int {
	for i, item := range list {
		if item == p {
			return i
		}
	}
	return -1
}

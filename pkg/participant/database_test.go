package participant

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtp_stack/pkg/packet"
)

type recordingListener struct {
	mu          sync.Mutex
	fromData    []*Participant
	fromControl []*Participant
	deleted     []*Participant
}

func (l *recordingListener) ParticipantCreatedFromDataPacket(p *Participant) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fromData = append(l.fromData, p)
}

func (l *recordingListener) ParticipantCreatedFromSDESChunk(p *Participant) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fromControl = append(l.fromControl, p)
}

func (l *recordingListener) ParticipantDeleted(p *Participant) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = append(l.deleted, p)
}

func udpAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func cnameChunk(ssrc uint32, cname string) packet.SDESChunk {
	return packet.SDESChunk{SSRC: ssrc, Items: []packet.SDESItem{{Type: packet.SDESCNAME, Text: cname}}}
}

func TestSinglePeerDatabaseMembership(t *testing.T) {
	peer := NewReceiverWithInfo(NewInfo(0x45, "peer"), "127.0.0.1", 5000, 5001)
	db := NewSinglePeerDatabase(peer, DefaultDatabaseConfig("db"))

	assert.Equal(t, "db", db.ID())
	assert.True(t, db.AddReceiver(peer))

	other := NewReceiverWithInfo(NewInfo(0x46, "other"), "127.0.0.1", 6000, 6001)
	assert.False(t, db.AddReceiver(other))
	assert.False(t, db.AddReceiver(nil))
	assert.Equal(t, 1, db.ReceiverCount())
	assert.Equal(t, 1, db.ParticipantCount())

	assert.False(t, db.RemoveReceiver(peer))
	assert.False(t, db.RemoveReceiver(other))
	assert.False(t, db.RemoveReceiverBySSRC(0x45))
	assert.Equal(t, []*Participant{peer}, db.Receivers())

	db.Clear()
	assert.Empty(t, db.Cleanup(time.Now().Add(time.Hour)))
	assert.Equal(t, 1, db.ReceiverCount())
}

func TestSinglePeerResolutionFromDataPacket(t *testing.T) {
	peer := NewReceiverWithInfo(NewInfo(0x45, "peer"), "127.0.0.1", 5000, 5001)
	db := NewSinglePeerDatabase(peer, DefaultDatabaseConfig("db"))
	origin := udpAddr(40000)

	p := db.GetOrCreateParticipantFromDataPacket(origin, packet.NewDataPacket(0x45, 0, 1, 0, nil))

	assert.Same(t, peer, p)
	assert.Equal(t, origin, p.LastDataOrigin())
	assert.Nil(t, p.LastControlOrigin())

	found, ok := db.GetParticipant(0x45)
	assert.True(t, ok)
	assert.Same(t, peer, found)
	_, ok = db.GetParticipant(0x46)
	assert.False(t, ok)
}

func TestSinglePeerResolutionFromSDESChunk(t *testing.T) {
	peer := NewReceiverWithInfo(NewInfo(0x45, ""), "127.0.0.1", 5000, 5001)
	db := NewSinglePeerDatabase(peer, DefaultDatabaseConfig("db"))
	origin := udpAddr(40001)

	p := db.GetOrCreateParticipantFromSDESChunk(origin, cnameChunk(0x45, "peer@host"))

	assert.Same(t, peer, p)
	assert.Equal(t, origin, p.LastControlOrigin())
	assert.Nil(t, p.LastDataOrigin())
	assert.Equal(t, "peer@host", p.CNAME())
	assert.True(t, p.ReceivedSDES())
}

func TestSinglePeerSSRCMismatchIsAttributed(t *testing.T) {
	peer := NewReceiverWithInfo(NewInfo(0x45, ""), "127.0.0.1", 5000, 5001)
	db := NewSinglePeerDatabase(peer, DefaultDatabaseConfig("db"))

	p := db.GetOrCreateParticipantFromDataPacket(udpAddr(1), packet.NewDataPacket(0x99, 0, 1, 0, nil))

	assert.Same(t, peer, p)
	ssrc, _ := p.SSRC()
	assert.Equal(t, uint32(0x45), ssrc)
	assert.Equal(t, 1, db.ParticipantCount())
}

func TestMultiPeerAddRemove(t *testing.T) {
	listener := &recordingListener{}
	config := DefaultDatabaseConfig("multi")
	config.Listener = listener
	db := NewMultiPeerDatabase(config)

	a := NewReceiverWithInfo(NewInfo(1, "a"), "127.0.0.1", 5000, 5001)
	b := NewReceiverWithInfo(NewInfo(2, "b"), "127.0.0.1", 5002, 5003)
	dup := NewReceiverWithInfo(NewInfo(1, "dup"), "127.0.0.1", 5004, 5005)

	assert.True(t, db.AddReceiver(a))
	assert.True(t, db.AddReceiver(b))
	assert.False(t, db.AddReceiver(a))
	assert.False(t, db.AddReceiver(dup))
	assert.Equal(t, 2, db.ReceiverCount())
	assert.Equal(t, []*Participant{a, b}, db.Receivers())

	assert.True(t, db.RemoveReceiver(dup)) // удаление по SSRC
	assert.False(t, db.RemoveReceiverBySSRC(1))
	assert.Equal(t, []*Participant{b}, db.Receivers())
	assert.Equal(t, []*Participant{a}, listener.deleted)

	pending := NewReceiver("127.0.0.1", 7000, 7001)
	assert.True(t, db.AddReceiver(pending))
	assert.True(t, db.RemoveReceiver(pending))
	assert.False(t, db.RemoveReceiver(pending))
	assert.Equal(t, 1, db.ParticipantCount())
}

func TestMultiPeerCreatesFromTraffic(t *testing.T) {
	listener := &recordingListener{}
	config := DefaultDatabaseConfig("multi")
	config.Listener = listener
	db := NewMultiPeerDatabase(config)

	dataOrigin := udpAddr(40000)
	p := db.GetOrCreateParticipantFromDataPacket(dataOrigin, packet.NewDataPacket(0x45, 0, 1, 0, []byte{1}))
	assert.Equal(t, dataOrigin, p.LastDataOrigin())
	assert.Nil(t, p.LastControlOrigin())

	// Тот же SSRC по управляющему каналу дает того же участника
	controlOrigin := udpAddr(40001)
	same := db.GetOrCreateParticipantFromSDESChunk(controlOrigin, cnameChunk(0x45, "x"))
	assert.Same(t, p, same)
	assert.Equal(t, controlOrigin, p.LastControlOrigin())
	assert.Equal(t, dataOrigin, p.LastDataOrigin())

	q := db.GetOrCreateParticipantFromSDESChunk(controlOrigin, cnameChunk(0x46, "y"))
	assert.Nil(t, q.LastDataOrigin())
	assert.Equal(t, controlOrigin, q.LastControlOrigin())

	assert.Equal(t, 2, db.ParticipantCount())
	assert.Equal(t, 0, db.ReceiverCount())
	assert.Equal(t, []*Participant{p}, listener.fromData)
	assert.Equal(t, []*Participant{q}, listener.fromControl)
}

func TestMultiPeerAutoAddReceivers(t *testing.T) {
	config := DefaultDatabaseConfig("multi")
	config.AutoAddReceivers = true
	db := NewMultiPeerDatabase(config)

	p := db.GetOrCreateParticipantFromDataPacket(udpAddr(1), packet.NewDataPacket(7, 0, 0, 0, nil))
	assert.Equal(t, []*Participant{p}, db.Receivers())

	// Узнанного из трафика участника можно сделать явным получателем
	assert.True(t, db.AddReceiver(p))
	assert.False(t, db.AddReceiver(p))
	assert.Equal(t, 1, db.ReceiverCount())

	// Явный получатель не удаляется по неактивности
	assert.Empty(t, db.Cleanup(time.Now().Add(time.Hour)))
	assert.Equal(t, []*Participant{p}, db.Receivers())
}

func TestMultiPeerCleanupPrunesAutoAddedReceivers(t *testing.T) {
	config := DefaultDatabaseConfig("multi")
	config.AutoAddReceivers = true
	config.InactivityTimeout = time.Second
	db := NewMultiPeerDatabase(config)

	kept := db.GetOrCreateParticipantFromDataPacket(udpAddr(1), packet.NewDataPacket(7, 0, 0, 0, nil))
	pruned := db.GetOrCreateParticipantFromDataPacket(udpAddr(2), packet.NewDataPacket(8, 0, 0, 0, nil))
	require.True(t, db.AddReceiver(kept))

	removed := db.Cleanup(time.Now().Add(time.Minute))
	assert.Equal(t, []*Participant{pruned}, removed)
	assert.Equal(t, []*Participant{kept}, db.Receivers())
}

func TestMultiPeerBindsPendingReceiverByAddress(t *testing.T) {
	db := NewMultiPeerDatabase(DefaultDatabaseConfig("multi"))
	r := NewReceiver("127.0.0.1", 5000, 5001)
	require.True(t, db.AddReceiver(r))

	p := db.GetOrCreateParticipantFromDataPacket(udpAddr(5000), packet.NewDataPacket(0x77, 0, 0, 0, nil))
	assert.Same(t, r, p)
	ssrc, ok := r.SSRC()
	assert.True(t, ok)
	assert.Equal(t, uint32(0x77), ssrc)

	found, ok := db.GetParticipant(0x77)
	assert.True(t, ok)
	assert.Same(t, r, found)
	assert.Equal(t, 1, db.ParticipantCount())

	// Адрес управляющего канала привязывает другого получателя
	r2 := NewReceiver("127.0.0.1", 6000, 6001)
	require.True(t, db.AddReceiver(r2))
	p2 := db.GetOrCreateParticipantFromSDESChunk(udpAddr(6001), cnameChunk(0x78, "r2"))
	assert.Same(t, r2, p2)
	assert.Equal(t, "r2", r2.CNAME())
}

func TestDoWithReceiversFanOut(t *testing.T) {
	db := NewMultiPeerDatabase(DefaultDatabaseConfig("multi"))
	const n = 10
	for i := 0; i < n; i++ {
		require.True(t, db.AddReceiver(NewReceiverWithInfo(NewInfo(uint32(i+1), ""), "127.0.0.1", 5000+2*i, 5001+2*i)))
	}

	calls := make(map[uint32]int)
	errFail := errors.New("операция не удалась")
	errs := db.DoWithReceivers(func(p *Participant) error {
		ssrc, _ := p.SSRC()
		calls[ssrc]++
		if ssrc == 4 {
			return errFail
		}
		if ssrc == 7 {
			panic("сбой")
		}
		return nil
	})

	assert.Len(t, calls, n)
	for ssrc, count := range calls {
		assert.Equal(t, 1, count, "ssrc %d", ssrc)
	}
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], errFail)
	assert.Contains(t, errs[1].Error(), "сбой")
}

func TestDoWithReceiversOrderAndReentry(t *testing.T) {
	db := NewMultiPeerDatabase(DefaultDatabaseConfig("multi"))
	for i := uint32(1); i <= 3; i++ {
		require.True(t, db.AddReceiver(NewFromInfo(NewInfo(i, ""))))
	}

	var order []uint32
	errs := db.DoWithReceivers(func(p *Participant) error {
		ssrc, _ := p.SSRC()
		order = append(order, ssrc)
		// Операция может менять базу: обход идет по снимку
		db.RemoveReceiver(p)
		return nil
	})

	assert.Empty(t, errs)
	assert.Equal(t, []uint32{1, 2, 3}, order)
	assert.Equal(t, 0, db.ReceiverCount())
}

func TestSinglePeerDoWithReceivers(t *testing.T) {
	peer := NewReceiverWithInfo(NewInfo(0x45, ""), "127.0.0.1", 5000, 5001)
	db := NewSinglePeerDatabase(peer, DefaultDatabaseConfig("db"))

	count := 0
	errs := db.DoWithParticipants(func(p *Participant) error {
		count++
		return errors.New("x")
	})
	assert.Equal(t, 1, count)
	assert.Len(t, errs, 1)
}

func TestMultiPeerConcurrentGetOrCreate(t *testing.T) {
	listener := &recordingListener{}
	config := DefaultDatabaseConfig("multi")
	config.Listener = listener
	db := NewMultiPeerDatabase(config)

	const workers = 16
	const sources = 8
	var wg sync.WaitGroup
	var total atomic.Int64

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ssrc := uint32(i % sources)
				if w%2 == 0 {
					db.GetOrCreateParticipantFromDataPacket(udpAddr(10000+w), packet.NewDataPacket(ssrc, 0, uint16(i), 0, nil))
				} else {
					db.GetOrCreateParticipantFromSDESChunk(udpAddr(20000+w), cnameChunk(ssrc, "c"))
				}
				db.DoWithParticipants(func(*Participant) error { return nil })
				total.Add(1)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int64(workers*100), total.Load())
	assert.Equal(t, sources, db.ParticipantCount())
	listener.mu.Lock()
	assert.Equal(t, sources, len(listener.fromData)+len(listener.fromControl))
	listener.mu.Unlock()
}

func TestMultiPeerCleanup(t *testing.T) {
	listener := &recordingListener{}
	config := DefaultDatabaseConfig("multi")
	config.Listener = listener
	config.InactivityTimeout = time.Minute
	config.ByeTimeout = time.Second
	db := NewMultiPeerDatabase(config)

	explicit := NewFromInfo(NewInfo(1, ""))
	require.True(t, db.AddReceiver(explicit))
	silent := db.GetOrCreateParticipantFromDataPacket(udpAddr(1), packet.NewDataPacket(2, 0, 0, 0, nil))
	leaving := db.GetOrCreateParticipantFromDataPacket(udpAddr(2), packet.NewDataPacket(3, 0, 0, 0, nil))
	active := db.GetOrCreateParticipantFromDataPacket(udpAddr(3), packet.NewDataPacket(4, 0, 0, 0, nil))

	now := time.Now()
	leaving.MarkBye(udpAddr(2), now)
	active.UpdateFromControlPacket(udpAddr(3), now.Add(90*time.Second))

	removed := db.Cleanup(now.Add(2 * time.Minute))
	assert.ElementsMatch(t, []*Participant{silent, leaving}, removed)
	assert.ElementsMatch(t, []*Participant{silent, leaving}, listener.deleted)
	assert.Equal(t, []*Participant{explicit, active}, db.Participants())

	db.Clear()
	assert.Equal(t, 0, db.ParticipantCount())
	assert.Equal(t, 0, db.ReceiverCount())
	_, ok := db.GetParticipant(4)
	assert.False(t, ok)
}

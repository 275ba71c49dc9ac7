package participant

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtp_stack/pkg/packet"
)

func TestNewReceiverUnsetSSRC(t *testing.T) {
	p := NewReceiver("127.0.0.1", 5000, 5001)

	_, ok := p.SSRC()
	assert.False(t, ok)
	assert.Equal(t, "127.0.0.1:5000", p.DataDestination().String())
	assert.Equal(t, "127.0.0.1:5001", p.ControlDestination().String())
	assert.Nil(t, p.LastDataOrigin())
	assert.Nil(t, p.LastControlOrigin())
	assert.Equal(t, int32(-1), p.Stats().LastSequenceNumber)
}

func TestReceiverResolvesSSRCFromFirstPacket(t *testing.T) {
	p := NewReceiver("127.0.0.1", 5000, 5001)
	origin := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}

	p.UpdateFromDataPacket(origin, packet.NewDataPacket(0x99, 0, 10, 0, []byte{1, 2}), time.Now())

	ssrc, ok := p.SSRC()
	require.True(t, ok)
	assert.Equal(t, uint32(0x99), ssrc)

	// Второй пакет с другим SSRC не перезаписывает идентичность
	p.UpdateFromDataPacket(origin, packet.NewDataPacket(0x100, 0, 11, 0, nil), time.Now())
	ssrc, _ = p.SSRC()
	assert.Equal(t, uint32(0x99), ssrc)

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.DataPackets)
	assert.Equal(t, uint64(2), stats.DataOctets)
	assert.Equal(t, int32(11), stats.LastSequenceNumber)
	assert.True(t, p.IsSender())
}

func TestConfiguredSSRCIsNeverOverwritten(t *testing.T) {
	p := NewReceiverWithInfo(NewInfo(0x45, "peer@host"), "10.0.0.1", 4000, 4001)
	chunk := packet.SDESChunk{SSRC: 0x46, Items: []packet.SDESItem{{Type: packet.SDESCNAME, Text: "other"}}}

	p.UpdateFromSDESChunk(nil, chunk, time.Now())

	ssrc, _ := p.SSRC()
	assert.Equal(t, uint32(0x45), ssrc)
	assert.Equal(t, "other", p.CNAME())
	assert.True(t, p.ReceivedSDES())
}

func TestOriginsAreTrackedSeparately(t *testing.T) {
	dataOrigin := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 6000}
	controlOrigin := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 6001}

	p := NewFromInfo(NewInfo(0x45, ""))
	p.UpdateFromDataPacket(dataOrigin, packet.NewDataPacket(0x45, 0, 1, 0, nil), time.Now())
	assert.Equal(t, dataOrigin, p.LastDataOrigin())
	assert.Nil(t, p.LastControlOrigin())

	p.UpdateFromControlPacket(controlOrigin, time.Now())
	assert.Equal(t, dataOrigin, p.LastDataOrigin())
	assert.Equal(t, controlOrigin, p.LastControlOrigin())

	// Без сконфигурированных адресов отправляем на наблюдаемые
	assert.Equal(t, dataOrigin, p.DataDestination())
	assert.Equal(t, controlOrigin, p.ControlDestination())
}

func TestMarkByeAndExpiry(t *testing.T) {
	now := time.Now()
	p := NewFromInfo(NewInfo(1, ""))
	p.UpdateFromControlPacket(nil, now)

	assert.False(t, p.expired(now.Add(time.Second), time.Minute, 5*time.Second))
	assert.True(t, p.expired(now.Add(2*time.Minute), time.Minute, 5*time.Second))

	p.MarkBye(nil, now)
	assert.True(t, p.ReceivedBye())
	assert.False(t, p.expired(now.Add(time.Second), time.Minute, 5*time.Second))
	assert.True(t, p.expired(now.Add(6*time.Second), time.Minute, 5*time.Second))

	// Нулевые таймауты отключают очистку
	assert.False(t, p.expired(now.Add(time.Hour), 0, 0))
}

func TestInfoSDESChunk(t *testing.T) {
	info := NewInfo(0x10, "alice@example.com")
	info.Tool = "rtp_peer"

	chunk := info.SDESChunk()
	assert.Equal(t, uint32(0x10), chunk.SSRC)
	require.Len(t, chunk.Items, 2)
	assert.Equal(t, packet.SDESCNAME, chunk.Items[0].Type)
	tool, ok := chunk.Item(packet.SDESTool)
	assert.True(t, ok)
	assert.Equal(t, "rtp_peer", tool)
}

func TestNewAddress(t *testing.T) {
	assert.Nil(t, NewAddress("", 5000))
	assert.Nil(t, NewAddress("127.0.0.1", 0))

	addr := NewAddress("127.0.0.1", 5000)
	_, isUDP := addr.(*net.UDPAddr)
	assert.True(t, isUDP)

	addr = NewAddress("media.example.com", 5000)
	assert.Equal(t, UnresolvedAddr{Host: "media.example.com", Port: 5000}, addr)
	assert.Equal(t, "media.example.com:5000", addr.String())

	resolved, err := Resolve(NewAddress("127.0.0.1", 7000))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", resolved.String())

	assert.True(t, SameAddr(nil, nil))
	assert.False(t, SameAddr(addr, nil))
	assert.True(t, SameAddr(&net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 5}, UnresolvedAddr{Host: "1.2.3.4", Port: 5}))
}

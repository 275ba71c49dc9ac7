package session

import (
	"math"
	"sync"
	"time"

	"github.com/pion/randutil"

	"github.com/arzzra/rtp_stack/pkg/packet"
	"github.com/arzzra/rtp_stack/pkg/participant"
)

const (
	maxReportsPerPacket = 31
	minRTCPInterval     = 5 * time.Second
	defaultRTCPSize     = 200 // типичный размер составного RTCP пакета
)

// senderStats статистика отправителя для полей Sender Report
type senderStats struct {
	mu sync.Mutex

	packets         uint32
	octets          uint32
	lastTimestamp   uint32
	lastSendTime    time.Time
	sentSinceReport bool

	avgRTCPSize float64
}

func (st *senderStats) recordData(pkt *packet.DataPacket, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.packets++
	st.octets += uint32(len(pkt.Payload))
	st.lastTimestamp = pkt.Timestamp
	st.lastSendTime = now
	st.sentSinceReport = true
}

// recordControl обновляет средний размер RTCP (RFC 3550 Section 6.3.3)
func (st *senderStats) recordControl(size int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.avgRTCPSize == 0 {
		st.avgRTCPSize = float64(size)
		return
	}
	st.avgRTCPSize = st.avgRTCPSize + (float64(size)-st.avgRTCPSize)/16
}

func (st *senderStats) weSent() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sentSinceReport
}

func (st *senderStats) averageRTCPSize() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return int(st.avgRTCPSize)
}

// BuildReport собирает составной RTCP пакет: SR, если с прошлого отчета
// отправлялись данные, иначе RR; блоки приема по всем участникам, от которых
// приходил RTP; SDES с описанием локального участника.
// Блоки сверх 31 уходят в дополнительные RR.
func (s *Session) BuildReport() (*packet.CompoundControlPacket, error) {
	now := time.Now()
	local := s.local.Info()

	var reports []packet.ReceptionReport
	s.database.DoWithParticipants(func(p *participant.Participant) error {
		if report, ok := p.ReceptionReport(now); ok {
			reports = append(reports, report)
		}
		return nil
	})

	first := reports
	if len(first) > maxReportsPerPacket {
		first = first[:maxReportsPerPacket]
	}

	var head packet.ControlPacket
	if sr := s.senderReport(local.SSRC, now); sr != nil {
		sr.Reports = first
		head = sr
	} else {
		rr := packet.NewReceiverReport(local.SSRC)
		rr.Reports = first
		head = rr
	}

	packets := []packet.ControlPacket{head}
	for rest := reports[len(first):]; len(rest) > 0; {
		n := min(len(rest), maxReportsPerPacket)
		rr := packet.NewReceiverReport(local.SSRC)
		rr.Reports = rest[:n]
		packets = append(packets, rr)
		rest = rest[n:]
	}

	packets = append(packets, &packet.SourceDescription{
		Chunks: []packet.SDESChunk{local.SDESChunk()},
	})
	return packet.NewCompoundControlPacket(packets...)
}

// senderReport возвращает SR, если с прошлого отчета были отправлены данные
func (s *Session) senderReport(ssrc uint32, now time.Time) *packet.SenderReport {
	st := &s.sender
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.sentSinceReport {
		return nil
	}
	st.sentSinceReport = false

	// RTP время сдвигается на прошедшее с последней отправки время
	elapsed := now.Sub(st.lastSendTime).Seconds()
	rtpTime := st.lastTimestamp + uint32(elapsed*float64(s.clockRate()))

	return packet.NewSenderReport(ssrc, packet.NTPTimestamp(now), rtpTime, st.packets, st.octets)
}

func (s *Session) clockRate() uint32 {
	if s.config.ClockRate == 0 {
		return participant.DefaultClockRate
	}
	return s.config.ClockRate
}

// rtcpIntervalCalculation интервал отправки RTCP согласно RFC 3550 Appendix A.7.
// rtcpBW в байтах в секунду.
func rtcpIntervalCalculation(members, senders int, rtcpBW float64, weSent bool, avgRTCPSize int, initial bool, rng randutil.MathRandomGenerator) time.Duration {
	const compensation = math.E - 1.5

	if rtcpBW <= 0 {
		rtcpBW = 160
	}
	if avgRTCPSize <= 0 {
		avgRTCPSize = defaultRTCPSize
	}
	if members < 1 {
		members = 1
	}

	minTime := minRTCPInterval.Seconds()
	if initial {
		minTime /= 2
	}

	n := float64(members)
	if senders > 0 && float64(senders) <= float64(members)*0.25 {
		if weSent {
			rtcpBW *= 0.25
			n = float64(senders)
		} else {
			rtcpBW *= 0.75
			n = float64(members - senders)
		}
	}

	t := float64(avgRTCPSize) * n / rtcpBW
	if t < minTime {
		t = minTime
	}

	// Случайный множитель [0.5, 1.5] и компенсация по A.7
	t *= 0.5 + float64(rng.Uint32())/float64(math.MaxUint32)
	t /= compensation

	return time.Duration(t * float64(time.Second))
}

// nextRTCPInterval интервал до следующего автоматического отчета
func (s *Session) nextRTCPInterval(initial bool) time.Duration {
	if s.config.RTCPInterval > 0 {
		return s.config.RTCPInterval
	}

	members := s.database.ParticipantCount() + 1
	senders := 0
	s.database.DoWithParticipants(func(p *participant.Participant) error {
		if p.IsSender() {
			senders++
		}
		return nil
	})
	weSent := s.sender.weSent()
	if weSent {
		senders++
	}

	return rtcpIntervalCalculation(members, senders, s.config.RTCPBandwidth, weSent,
		s.sender.averageRTCPSize(), initial, s.rng)
}

package participant

import (
	"time"

	"github.com/arzzra/rtp_stack/pkg/packet"
)

// DefaultClockRate частота RTP timestamp, если она не задана (G.711)
const DefaultClockRate = 8000

const (
	maxCumulativeLost = 0x7FFFFF
	minCumulativeLost = -0x800000
)

// receptionState статистика приема RTP от одного источника (RFC 3550 Appendix A.1, A.3, A.8)
type receptionState struct {
	started  bool
	baseSeq  uint32
	maxSeq   uint16
	cycles   uint32
	received uint32

	expectedPrior uint32
	receivedPrior uint32

	firstArrival time.Time
	lastTransit  int32
	hasTransit   bool
	jitter       float64

	lastSR     uint32 // средние 32 бита NTP последнего SR
	lastSRTime time.Time
}

func (r *receptionState) update(seq uint16, timestamp uint32, arrival time.Time, clockRate uint32) {
	if !r.started {
		r.started = true
		r.baseSeq = uint32(seq)
		r.maxSeq = seq
		r.firstArrival = arrival
	} else if delta := seq - r.maxSeq; delta < 0x8000 {
		// Пакет по порядку или с пропуском; переход через 0 увеличивает цикл
		if seq < r.maxSeq {
			r.cycles += 1 << 16
		}
		r.maxSeq = seq
	}
	r.received++

	if clockRate == 0 {
		clockRate = DefaultClockRate
	}
	// Время прихода в единицах RTP timestamp; transit по модулю 2^32
	arrivalUnits := int64(arrival.Sub(r.firstArrival)/time.Microsecond) * int64(clockRate) / 1e6
	transit := int32(uint32(arrivalUnits) - timestamp)
	if r.hasTransit {
		r.jitter = packet.CalculateJitter(transit, r.lastTransit, r.jitter)
	}
	r.lastTransit = transit
	r.hasTransit = true
}

func (r *receptionState) extendedMax() uint32 {
	return r.cycles + uint32(r.maxSeq)
}

// report формирует блок приема и сдвигает интервал для fraction lost
func (r *receptionState) report(ssrc uint32, now time.Time) packet.ReceptionReport {
	expected := r.extendedMax() - r.baseSeq + 1
	lost := int64(expected) - int64(r.received)
	if lost > maxCumulativeLost {
		lost = maxCumulativeLost
	} else if lost < minCumulativeLost {
		lost = minCumulativeLost
	}

	expectedInterval := expected - r.expectedPrior
	receivedInterval := r.received - r.receivedPrior
	r.expectedPrior = expected
	r.receivedPrior = r.received

	var dlsr uint32
	if !r.lastSRTime.IsZero() {
		dlsr = uint32(now.Sub(r.lastSRTime).Seconds() * 65536)
	}

	return packet.ReceptionReport{
		SSRC:             ssrc,
		FractionLost:     packet.CalculateFractionLost(expectedInterval, receivedInterval),
		CumulativeLost:   int32(lost),
		HighestSeqNum:    r.extendedMax(),
		Jitter:           uint32(r.jitter),
		LastSR:           r.lastSR,
		DelaySinceLastSR: dlsr,
	}
}

package packet

import (
	"time"
)

// ntpEpochOffset секунды между эпохой NTP (1900) и Unix (1970)
const ntpEpochOffset = 2208988800

// NTPTimestamp конвертирует время в 64-битный NTP timestamp согласно RFC 3550 Section 4
func NTPTimestamp(t time.Time) uint64 {
	seconds := uint64(t.Unix()) + ntpEpochOffset
	fraction := (uint64(t.Nanosecond()) << 32) / 1e9
	return seconds<<32 | fraction
}

// NTPTimestampToTime конвертирует NTP timestamp в time.Time
func NTPTimestampToTime(ntp uint64) time.Time {
	seconds := int64(ntp>>32) - ntpEpochOffset
	nanos := int64(((ntp & 0xFFFFFFFF) * 1e9) >> 32)
	return time.Unix(seconds, nanos)
}

// MiddleNTP возвращает средние 32 бита NTP timestamp (поле LSR в блоке приема)
func MiddleNTP(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

// CalculateJitter вычисляет jitter согласно RFC 3550 Appendix A.8.
// Разность transit берется по модулю 2^32, как и сами RTP timestamp.
func CalculateJitter(transit, lastTransit int32, jitter float64) float64 {
	d := float64(transit - lastTransit)
	if d < 0 {
		d = -d
	}
	return jitter + (d-jitter)/16.0
}

// CalculateFractionLost вычисляет fraction lost согласно RFC 3550 Appendix A.3
func CalculateFractionLost(expected, received uint32) uint8 {
	if expected == 0 || received >= expected {
		return 0
	}
	lost := uint64(expected - received)
	fraction := (lost << 8) / uint64(expected)
	if fraction > 255 {
		return 255
	}
	return uint8(fraction)
}

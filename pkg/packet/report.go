package packet

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	senderInfoSize      = 24 // SSRC + NTP + RTP ts + packets + octets
	receptionReportSize = 24
	maxCumulativeLost   = 1<<23 - 1
	minCumulativeLost   = -(1 << 23)
)

// ReceptionReport блок отчета о приеме согласно RFC 3550 Section 6.4.1
type ReceptionReport struct {
	SSRC             uint32 // SSRC источника, о котором отчет
	FractionLost     uint8  // Доля потерь с прошлого отчета (fixed point /256)
	CumulativeLost   int32  // Суммарные потери, знаковое 24-битное
	HighestSeqNum    uint32 // Расширенный максимальный полученный sequence number
	Jitter           uint32 // Interarrival jitter
	LastSR           uint32 // Средние 32 бита NTP последнего SR
	DelaySinceLastSR uint32 // Задержка с последнего SR в 1/65536 с
}

// SenderReport согласно RFC 3550 Section 6.4.1
type SenderReport struct {
	SSRC             uint32 // SSRC отправителя
	NTPTimestamp     uint64
	RTPTimestamp     uint32
	PacketCount      uint32
	OctetCount       uint32
	Reports          []ReceptionReport
	ProfileExtension []byte // Profile-specific extension, кратно 4 байтам
}

// ReceiverReport согласно RFC 3550 Section 6.4.2.
// Как и в SenderReport, пустые Reports и ProfileExtension декодируются как nil.
type ReceiverReport struct {
	SSRC             uint32 // SSRC отправителя отчета
	Reports          []ReceptionReport
	ProfileExtension []byte
}

// NewSenderReport создает новый Sender Report без блоков приема
func NewSenderReport(ssrc uint32, ntpTime uint64, rtpTime uint32, packets, octets uint32) *SenderReport {
	return &SenderReport{
		SSRC:         ssrc,
		NTPTimestamp: ntpTime,
		RTPTimestamp: rtpTime,
		PacketCount:  packets,
		OctetCount:   octets,
	}
}

// AddReceptionReport добавляет блок приема к Sender Report
func (sr *SenderReport) AddReceptionReport(rr ReceptionReport) {
	sr.Reports = append(sr.Reports, rr)
}

func (sr *SenderReport) Type() ControlPacketType { return TypeSenderReport }
func (sr *SenderReport) controlPacket()          {}

// Marshal кодирует Sender Report в байты
func (sr *SenderReport) Marshal() ([]byte, error) {
	if err := checkReports(sr.Reports, sr.ProfileExtension); err != nil {
		return nil, err
	}

	size := controlHeaderSize + senderInfoSize + len(sr.Reports)*receptionReportSize + len(sr.ProfileExtension)
	data := make([]byte, size)
	writeControlHeader(data, uint8(len(sr.Reports)), TypeSenderReport, size)

	binary.BigEndian.PutUint32(data[4:8], sr.SSRC)
	binary.BigEndian.PutUint64(data[8:16], sr.NTPTimestamp)
	binary.BigEndian.PutUint32(data[16:20], sr.RTPTimestamp)
	binary.BigEndian.PutUint32(data[20:24], sr.PacketCount)
	binary.BigEndian.PutUint32(data[24:28], sr.OctetCount)

	offset := writeReports(data, 28, sr.Reports)
	copy(data[offset:], sr.ProfileExtension)
	return data, nil
}

func decodeSenderReport(h controlHeader, body []byte) (*SenderReport, error) {
	need := senderInfoSize + int(h.Count)*receptionReportSize
	if len(body) < need {
		return nil, errors.Wrapf(ErrTooShort, "SR с %d блоками: нужно %d байт, есть %d", h.Count, need, len(body))
	}

	sr := &SenderReport{
		SSRC:         binary.BigEndian.Uint32(body[0:4]),
		NTPTimestamp: binary.BigEndian.Uint64(body[4:12]),
		RTPTimestamp: binary.BigEndian.Uint32(body[12:16]),
		PacketCount:  binary.BigEndian.Uint32(body[16:20]),
		OctetCount:   binary.BigEndian.Uint32(body[20:24]),
	}
	sr.Reports = readReports(body[senderInfoSize:], int(h.Count))
	if rest := body[need:]; len(rest) > 0 {
		sr.ProfileExtension = append([]byte(nil), rest...)
	}
	return sr, nil
}

// NewReceiverReport создает новый Receiver Report
func NewReceiverReport(ssrc uint32) *ReceiverReport {
	return &ReceiverReport{SSRC: ssrc}
}

// AddReceptionReport добавляет блок приема к Receiver Report
func (rr *ReceiverReport) AddReceptionReport(report ReceptionReport) {
	rr.Reports = append(rr.Reports, report)
}

func (rr *ReceiverReport) Type() ControlPacketType { return TypeReceiverReport }
func (rr *ReceiverReport) controlPacket()          {}

// Marshal кодирует Receiver Report в байты
func (rr *ReceiverReport) Marshal() ([]byte, error) {
	if err := checkReports(rr.Reports, rr.ProfileExtension); err != nil {
		return nil, err
	}

	size := controlHeaderSize + 4 + len(rr.Reports)*receptionReportSize + len(rr.ProfileExtension)
	data := make([]byte, size)
	writeControlHeader(data, uint8(len(rr.Reports)), TypeReceiverReport, size)

	binary.BigEndian.PutUint32(data[4:8], rr.SSRC)
	offset := writeReports(data, 8, rr.Reports)
	copy(data[offset:], rr.ProfileExtension)
	return data, nil
}

func decodeReceiverReport(h controlHeader, body []byte) (*ReceiverReport, error) {
	need := 4 + int(h.Count)*receptionReportSize
	if len(body) < need {
		return nil, errors.Wrapf(ErrTooShort, "RR с %d блоками: нужно %d байт, есть %d", h.Count, need, len(body))
	}

	rr := &ReceiverReport{
		SSRC:    binary.BigEndian.Uint32(body[0:4]),
		Reports: readReports(body[4:], int(h.Count)),
	}
	if rest := body[need:]; len(rest) > 0 {
		rr.ProfileExtension = append([]byte(nil), rest...)
	}
	return rr, nil
}

func checkReports(reports []ReceptionReport, ext []byte) error {
	if len(reports) > maxCount {
		return errors.Wrapf(ErrFieldOverflow, "%d блоков приема, максимум %d", len(reports), maxCount)
	}
	if len(ext)%4 != 0 {
		return errors.Wrapf(ErrFieldOverflow, "profile extension %d байт не кратно 4", len(ext))
	}
	for _, r := range reports {
		if r.CumulativeLost > maxCumulativeLost || r.CumulativeLost < minCumulativeLost {
			return errors.Wrapf(ErrFieldOverflow, "cumulative lost %d вне 24 бит", r.CumulativeLost)
		}
	}
	return nil
}

func writeReports(data []byte, offset int, reports []ReceptionReport) int {
	for _, r := range reports {
		binary.BigEndian.PutUint32(data[offset:offset+4], r.SSRC)
		// fraction lost (8 бит) и cumulative lost (24 бита) в одном слове
		lost := uint32(r.CumulativeLost) & 0x00FFFFFF
		binary.BigEndian.PutUint32(data[offset+4:offset+8], uint32(r.FractionLost)<<24|lost)
		binary.BigEndian.PutUint32(data[offset+8:offset+12], r.HighestSeqNum)
		binary.BigEndian.PutUint32(data[offset+12:offset+16], r.Jitter)
		binary.BigEndian.PutUint32(data[offset+16:offset+20], r.LastSR)
		binary.BigEndian.PutUint32(data[offset+20:offset+24], r.DelaySinceLastSR)
		offset += receptionReportSize
	}
	return offset
}

func readReports(data []byte, count int) []ReceptionReport {
	if count == 0 {
		return nil
	}

	reports := make([]ReceptionReport, count)
	offset := 0
	for i := range reports {
		word := binary.BigEndian.Uint32(data[offset+4 : offset+8])
		lost := int32(word<<8) >> 8 // расширение знака 24-битного значения

		reports[i] = ReceptionReport{
			SSRC:             binary.BigEndian.Uint32(data[offset : offset+4]),
			FractionLost:     uint8(word >> 24),
			CumulativeLost:   lost,
			HighestSeqNum:    binary.BigEndian.Uint32(data[offset+8 : offset+12]),
			Jitter:           binary.BigEndian.Uint32(data[offset+12 : offset+16]),
			LastSR:           binary.BigEndian.Uint32(data[offset+16 : offset+20]),
			DelaySinceLastSR: binary.BigEndian.Uint32(data[offset+20 : offset+24]),
		}
		offset += receptionReportSize
	}
	return reports
}

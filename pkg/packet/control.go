package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// ControlPacketType тип RTCP пакета согласно RFC 3550 Section 6.1
type ControlPacketType uint8

const (
	TypeSenderReport      ControlPacketType = 200 // SR
	TypeReceiverReport    ControlPacketType = 201 // RR
	TypeSourceDescription ControlPacketType = 202 // SDES
	TypeBye               ControlPacketType = 203 // BYE
	TypeAppData           ControlPacketType = 204 // APP
)

func (t ControlPacketType) String() string {
	switch t {
	case TypeSenderReport:
		return "SR"
	case TypeReceiverReport:
		return "RR"
	case TypeSourceDescription:
		return "SDES"
	case TypeBye:
		return "BYE"
	case TypeAppData:
		return "APP"
	default:
		return fmt.Sprintf("RTCP(%d)", uint8(t))
	}
}

// Known сообщает, описан ли тип в RFC 3550
func (t ControlPacketType) Known() bool {
	return t >= TypeSenderReport && t <= TypeAppData
}

const (
	controlHeaderSize = 4
	maxCount          = 31 // RC/SC занимает 5 бит
)

// controlHeader общий заголовок RTCP пакета
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|V=2|P|  count  |  packet type  |             length            |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type controlHeader struct {
	Padding    bool
	Count      uint8
	PacketType ControlPacketType
	Length     uint16 // в 32-битных словах минус один
}

func (h controlHeader) size() int {
	return (int(h.Length) + 1) * 4
}

// writeControlHeader пишет заголовок для пакета общей длины size байт
func writeControlHeader(buf []byte, count uint8, packetType ControlPacketType, size int) {
	buf[0] = V2.Byte() | (count & 0x1F)
	buf[1] = uint8(packetType)
	binary.BigEndian.PutUint16(buf[2:4], uint16(size/4-1))
}

// readControlHeader разбирает общий заголовок и проверяет длину
func readControlHeader(data []byte) (controlHeader, error) {
	var h controlHeader
	if len(data) < controlHeaderSize {
		return h, errors.Wrapf(ErrTooShort, "RTCP заголовок %d байт", len(data))
	}

	version, err := VersionFromByte(data[0])
	if err != nil {
		return h, err
	}
	if version != V2 {
		return h, errors.Wrapf(ErrUnsupportedVersion, "RTCP версии %s", version)
	}

	h.Padding = data[0]&0x20 != 0
	h.Count = data[0] & 0x1F
	h.PacketType = ControlPacketType(data[1])
	h.Length = binary.BigEndian.Uint16(data[2:4])

	if h.size() > len(data) {
		return h, errors.Wrapf(ErrTooShort, "RTCP %s объявляет %d байт, есть %d", h.PacketType, h.size(), len(data))
	}
	return h, nil
}

// ControlPacket RTCP пакет одного из типов: *SenderReport, *ReceiverReport,
// *SourceDescription, *Bye, *AppData или *UnknownControlPacket.
// Набор вариантов закрыт, новые типы разбираются в UnknownControlPacket.
type ControlPacket interface {
	// Type возвращает тип пакета из заголовка
	Type() ControlPacketType
	// Marshal кодирует пакет вместе с заголовком
	Marshal() ([]byte, error)

	controlPacket()
}

// EncodeControlPacket кодирует RTCP пакет любого варианта
func EncodeControlPacket(p ControlPacket) ([]byte, error) {
	switch pkt := p.(type) {
	case *SenderReport:
		return pkt.Marshal()
	case *ReceiverReport:
		return pkt.Marshal()
	case *SourceDescription:
		return pkt.Marshal()
	case *Bye:
		return pkt.Marshal()
	case *AppData:
		return pkt.Marshal()
	case *UnknownControlPacket:
		return pkt.Marshal()
	case nil:
		return nil, ErrNilControlPacket
	default:
		return nil, errors.Errorf("неизвестный вариант RTCP пакета %T", p)
	}
}

// DecodeControlPacket разбирает первый RTCP пакет из буфера.
// Возвращает пакет и количество прочитанных байт (по полю length).
func DecodeControlPacket(data []byte) (ControlPacket, int, error) {
	h, err := readControlHeader(data)
	if err != nil {
		return nil, 0, err
	}

	size := h.size()
	body := data[controlHeaderSize:size]

	if h.Padding {
		body, err = stripPadding(body)
		if err != nil {
			return nil, 0, err
		}
	}

	var p ControlPacket
	switch h.PacketType {
	case TypeSenderReport:
		p, err = decodeSenderReport(h, body)
	case TypeReceiverReport:
		p, err = decodeReceiverReport(h, body)
	case TypeSourceDescription:
		p, err = decodeSourceDescription(h, body)
	case TypeBye:
		p, err = decodeBye(h, body)
	case TypeAppData:
		p, err = decodeAppData(h, body)
	default:
		p = &UnknownControlPacket{
			Count:      h.Count,
			PacketType: h.PacketType,
			Body:       append([]byte(nil), body...),
		}
	}
	if err != nil {
		return nil, 0, errors.Wrapf(err, "RTCP %s", h.PacketType)
	}
	return p, size, nil
}

// stripPadding убирает padding, длина которого записана в последнем байте
func stripPadding(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, errors.Wrap(ErrInvalidPadding, "пустое тело с флагом P")
	}
	pad := int(body[len(body)-1])
	if pad == 0 || pad > len(body) {
		return nil, errors.Wrapf(ErrInvalidPadding, "padding %d при теле %d байт", pad, len(body))
	}
	return body[:len(body)-pad], nil
}

// IsControlPacket определяет RTCP пакет при мультиплексировании RTP/RTCP
// на одном порту (RFC 5761 Section 4): второй байт в диапазоне 192-223.
func IsControlPacket(data []byte) bool {
	if len(data) < controlHeaderSize {
		return false
	}
	if Version(data[0]&versionMask) != V2 {
		return false
	}
	return data[1] >= 192 && data[1] <= 223
}

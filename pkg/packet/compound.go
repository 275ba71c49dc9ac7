package packet

import (
	"strings"

	"github.com/pkg/errors"
)

// CompoundControlPacket составной RTCP пакет: непустая упорядоченная
// последовательность RTCP пакетов, отправляемая одной датаграммой.
//
// По RFC 3550 Section 6.1 первым должен идти SR или RR. Конструктор это
// не проверяет, чтобы можно было разбирать чужие пакеты; см. IsRFCCompliant.
type CompoundControlPacket struct {
	packets []ControlPacket
}

// NewCompoundControlPacket создает составной пакет.
// Пустой список или nil элемент - ошибка конструирования.
func NewCompoundControlPacket(packets ...ControlPacket) (*CompoundControlPacket, error) {
	if len(packets) == 0 {
		return nil, ErrEmptyCompound
	}
	for i, p := range packets {
		if p == nil {
			return nil, errors.Wrapf(ErrNilControlPacket, "позиция %d", i)
		}
	}

	return &CompoundControlPacket{
		packets: append([]ControlPacket(nil), packets...),
	}, nil
}

// Packets возвращает копию списка пакетов
func (c *CompoundControlPacket) Packets() []ControlPacket {
	return append([]ControlPacket(nil), c.packets...)
}

// PacketCount возвращает количество пакетов
func (c *CompoundControlPacket) PacketCount() int {
	return len(c.packets)
}

// IsRFCCompliant проверяет, что первый пакет - отчет (SR или RR)
func (c *CompoundControlPacket) IsRFCCompliant() bool {
	switch c.packets[0].(type) {
	case *SenderReport, *ReceiverReport:
		return true
	default:
		return false
	}
}

// Encode кодирует пакеты подряд без разделителей
func (c *CompoundControlPacket) Encode() ([]byte, error) {
	var out []byte
	for i, p := range c.packets {
		data, err := EncodeControlPacket(p)
		if err != nil {
			return nil, errors.Wrapf(err, "пакет %d (%s)", i, p.Type())
		}
		out = append(out, data...)
	}
	return out, nil
}

// DecodeCompound разбирает пакеты пока не кончится буфер.
// Нераспознанные типы сохраняются как UnknownControlPacket.
func DecodeCompound(data []byte) (*CompoundControlPacket, error) {
	return decodeCompound(data, false)
}

// DecodeCompoundStrict как DecodeCompound, но отвергает нераспознанные типы
// с ErrUnknownPacketType.
func DecodeCompoundStrict(data []byte) (*CompoundControlPacket, error) {
	return decodeCompound(data, true)
}

func decodeCompound(data []byte, strict bool) (*CompoundControlPacket, error) {
	var packets []ControlPacket
	offset := 0

	for offset < len(data) {
		p, n, err := DecodeControlPacket(data[offset:])
		if err != nil {
			return nil, errors.Wrapf(err, "пакет %d по смещению %d", len(packets), offset)
		}
		if strict {
			if u, ok := p.(*UnknownControlPacket); ok {
				return nil, errors.Wrapf(ErrUnknownPacketType, "тип %d по смещению %d", uint8(u.PacketType), offset)
			}
		}
		packets = append(packets, p)
		offset += n
	}

	if len(packets) == 0 {
		return nil, errors.Wrap(ErrTooShort, "составной RTCP пакет без пакетов")
	}
	return &CompoundControlPacket{packets: packets}, nil
}

func (c *CompoundControlPacket) String() string {
	names := make([]string, 0, len(c.packets))
	for _, p := range c.packets {
		names = append(names, p.Type().String())
	}
	return "Compound[" + strings.Join(names, ",") + "]"
}

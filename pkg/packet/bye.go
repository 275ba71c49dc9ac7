package packet

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Bye пакет BYE согласно RFC 3550 Section 6.6
type Bye struct {
	Sources []uint32 // SSRC/CSRC покидающих сессию источников; nil если их нет
	Reason  string   // Необязательная причина
}

// NewBye создает BYE для заданных источников. Пустой список хранится как nil.
func NewBye(reason string, sources ...uint32) *Bye {
	if len(sources) == 0 {
		sources = nil
	}
	return &Bye{Sources: sources, Reason: reason}
}

func (b *Bye) Type() ControlPacketType { return TypeBye }
func (b *Bye) controlPacket()          {}

// Marshal кодирует BYE пакет в байты
func (b *Bye) Marshal() ([]byte, error) {
	if len(b.Sources) > maxCount {
		return nil, errors.Wrapf(ErrFieldOverflow, "%d источников в BYE, максимум %d", len(b.Sources), maxCount)
	}
	if len(b.Reason) > 255 {
		return nil, errors.Wrapf(ErrFieldOverflow, "причина BYE %d байт", len(b.Reason))
	}

	size := controlHeaderSize + 4*len(b.Sources)
	if b.Reason != "" {
		size += (1 + len(b.Reason) + 3) &^ 3
	}

	data := make([]byte, size)
	writeControlHeader(data, uint8(len(b.Sources)), TypeBye, size)

	offset := controlHeaderSize
	for _, ssrc := range b.Sources {
		binary.BigEndian.PutUint32(data[offset:offset+4], ssrc)
		offset += 4
	}
	if b.Reason != "" {
		data[offset] = uint8(len(b.Reason))
		copy(data[offset+1:], b.Reason)
	}
	return data, nil
}

func decodeBye(h controlHeader, body []byte) (*Bye, error) {
	need := 4 * int(h.Count)
	if len(body) < need {
		return nil, errors.Wrapf(ErrTooShort, "BYE с %d источниками: нужно %d байт, есть %d", h.Count, need, len(body))
	}

	b := &Bye{}
	for i := 0; i < int(h.Count); i++ {
		b.Sources = append(b.Sources, binary.BigEndian.Uint32(body[i*4:i*4+4]))
	}

	rest := body[need:]
	if len(rest) > 0 {
		length := int(rest[0])
		if 1+length > len(rest) {
			return nil, errors.Wrapf(ErrTooShort, "причина BYE %d байт, есть %d", length, len(rest)-1)
		}
		b.Reason = string(rest[1 : 1+length])
	}
	return b, nil
}

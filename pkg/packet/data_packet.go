package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

// Размеры и ограничения RTP заголовка согласно RFC 3550 Section 5.1
const (
	FixedHeaderSize = 12 // Фиксированная часть заголовка
	MaxCSRCCount    = 15 // CC занимает 4 бита

	extensionHeaderSize = 4 // profile + length
)

// Профили расширений заголовка RFC 8285
const (
	ExtensionProfileOneByte uint16 = 0xBEDE
	ExtensionProfileTwoByte uint16 = 0x1000
)

// DataPacket представляет RTP пакет с данными согласно RFC 3550 Section 5.1
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|V=2|P|X|  CC   |M|     PT      |       sequence number         |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                           timestamp                           |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|           synchronization source (SSRC) identifier            |
//	+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+
//	|            contributing source (CSRC) identifiers             |
//	|                             ....                              |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// Сериализация заголовка выполняется через pion/rtp, padding обрабатывается
// здесь, чтобы значение PaddingSize переживало цикл encode/decode.
// Пустые CSRC и Payload всегда представлены как nil: так их возвращает
// декодер и так их нормализует NewDataPacket.
type DataPacket struct {
	Version        Version
	Marker         bool
	PayloadType    uint8 // 7 бит
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32
	Extension      *HeaderExtension // nil если X=0
	Payload        []byte
	PaddingSize    uint8 // 0 если P=0, иначе количество байт padding включая последний
}

// HeaderExtension расширение заголовка RTP.
// Для профилей RFC 8285 элементы идут в порядке на проводе,
// для остальных профилей это один элемент с ID 0 и сырыми данными (кратно 4 байтам).
type HeaderExtension struct {
	Profile  uint16
	Elements []ExtensionElement
}

// ExtensionElement один элемент расширения заголовка
type ExtensionElement struct {
	ID      uint8
	Payload []byte
}

// NewDataPacket создает RTP V2 пакет с заданными основными полями
func NewDataPacket(ssrc uint32, payloadType uint8, seq uint16, timestamp uint32, payload []byte) *DataPacket {
	return &DataPacket{
		Version:        V2,
		PayloadType:    payloadType,
		SequenceNumber: seq,
		Timestamp:      timestamp,
		SSRC:           ssrc,
		Payload:        nilIfEmpty(payload),
	}
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// HeaderSize возвращает размер заголовка с CSRC и расширением.
// Размер расширения считается по сериализованному виду pion/rtp.
func (p *DataPacket) HeaderSize() int {
	h, err := p.pionHeader()
	if err != nil {
		return FixedHeaderSize + 4*len(p.CSRC)
	}
	return h.MarshalSize()
}

// Encode сериализует пакет в байты
func (p *DataPacket) Encode() ([]byte, error) {
	if p.PayloadType > 0x7F {
		return nil, errors.Wrapf(ErrFieldOverflow, "payload type %d", p.PayloadType)
	}
	if len(p.CSRC) > MaxCSRCCount {
		return nil, errors.Wrapf(ErrFieldOverflow, "CSRC count %d", len(p.CSRC))
	}

	header, err := p.pionHeader()
	if err != nil {
		return nil, err
	}

	pkt := &rtp.Packet{
		Header:  header,
		Payload: p.Payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "ошибка сериализации RTP пакета")
	}

	if p.PaddingSize == 0 {
		return data, nil
	}

	// Padding: нули и в последнем байте его длина (RFC 3550 Section 5.1)
	padded := make([]byte, len(data)+int(p.PaddingSize))
	copy(padded, data)
	padded[0] |= 0x20
	padded[len(padded)-1] = p.PaddingSize
	return padded, nil
}

// pionHeader переносит поля пакета в заголовок pion/rtp
func (p *DataPacket) pionHeader() (rtp.Header, error) {
	header := rtp.Header{
		Version:        p.Version.Number(),
		Marker:         p.Marker,
		PayloadType:    p.PayloadType,
		SequenceNumber: p.SequenceNumber,
		Timestamp:      p.Timestamp,
		SSRC:           p.SSRC,
		CSRC:           p.CSRC,
	}

	if p.Extension == nil {
		return header, nil
	}

	header.Extension = true
	header.ExtensionProfile = p.Extension.Profile
	if isRawExtensionProfile(p.Extension.Profile) {
		if len(p.Extension.Elements) > 1 {
			return header, errors.Wrapf(ErrFieldOverflow, "RFC 3550 расширение содержит %d элементов", len(p.Extension.Elements))
		}
		if len(p.Extension.Elements) == 0 {
			_ = header.SetExtension(0, nil)
			return header, nil
		}
	}
	for _, el := range p.Extension.Elements {
		if err := validateExtensionElement(p.Extension.Profile, el); err != nil {
			return header, err
		}
		if err := header.SetExtension(el.ID, el.Payload); err != nil {
			return header, errors.Wrapf(ErrFieldOverflow, "элемент расширения %d: %v", el.ID, err)
		}
	}
	return header, nil
}

// isRawExtensionProfile сообщает, что профиль не разбирается на элементы RFC 8285
func isRawExtensionProfile(profile uint16) bool {
	return profile != ExtensionProfileOneByte && profile != ExtensionProfileTwoByte
}

func validateExtensionElement(profile uint16, el ExtensionElement) error {
	switch {
	case profile == ExtensionProfileOneByte:
		if el.ID < 1 || el.ID > 14 || len(el.Payload) < 1 || len(el.Payload) > 16 {
			return errors.Wrapf(ErrFieldOverflow, "one-byte элемент id=%d len=%d", el.ID, len(el.Payload))
		}
	case profile == ExtensionProfileTwoByte:
		if el.ID < 1 || len(el.Payload) > 255 {
			return errors.Wrapf(ErrFieldOverflow, "two-byte элемент id=%d len=%d", el.ID, len(el.Payload))
		}
	default:
		if el.ID != 0 || len(el.Payload)%4 != 0 {
			return errors.Wrapf(ErrFieldOverflow, "RFC 3550 расширение должно быть кратно 4 байтам")
		}
	}
	return nil
}

// DecodeDataPacket разбирает RTP пакет.
// Данные копируются, буфер вызывающего можно переиспользовать.
func DecodeDataPacket(data []byte) (*DataPacket, error) {
	if len(data) < FixedHeaderSize {
		return nil, errors.Wrapf(ErrTooShort, "RTP пакет %d байт, минимум %d", len(data), FixedHeaderSize)
	}

	version, err := VersionFromByte(data[0])
	if err != nil {
		return nil, err
	}

	headerSize, err := dataHeaderSize(data)
	if err != nil {
		return nil, err
	}

	var paddingSize uint8
	buf := data
	if data[0]&0x20 != 0 {
		paddingSize = data[len(data)-1]
		if paddingSize == 0 || int(paddingSize) > len(data)-headerSize {
			return nil, errors.Wrapf(ErrInvalidPadding, "padding %d при размере %d", paddingSize, len(data))
		}
		// pion/rtp получает пакет без padding
		buf = make([]byte, len(data)-int(paddingSize))
		copy(buf, data)
		buf[0] &^= 0x20
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf); err != nil {
		return nil, errors.Wrapf(ErrInvalidLength, "ошибка разбора RTP заголовка: %v", err)
	}

	result := &DataPacket{
		Version:        version,
		Marker:         pkt.Marker,
		PayloadType:    pkt.PayloadType,
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
		SSRC:           pkt.SSRC,
		PaddingSize:    paddingSize,
	}

	if len(pkt.CSRC) > 0 {
		result.CSRC = append([]uint32(nil), pkt.CSRC...)
	}

	if pkt.Extension {
		ext := &HeaderExtension{Profile: pkt.ExtensionProfile}
		for _, id := range pkt.GetExtensionIDs() {
			if isRawExtensionProfile(ext.Profile) && len(pkt.GetExtension(id)) == 0 {
				continue
			}
			ext.Elements = append(ext.Elements, ExtensionElement{
				ID:      id,
				Payload: append([]byte(nil), pkt.GetExtension(id)...),
			})
		}
		result.Extension = ext
	}

	if len(pkt.Payload) > 0 {
		result.Payload = append([]byte(nil), pkt.Payload...)
	}

	return result, nil
}

// dataHeaderSize проверяет, что буфер вмещает CSRC список и расширение
func dataHeaderSize(data []byte) (int, error) {
	cc := int(data[0] & 0x0F)
	size := FixedHeaderSize + 4*cc
	if len(data) < size {
		return 0, errors.Wrapf(ErrTooShort, "CSRC список: нужно %d байт, есть %d", size, len(data))
	}

	if data[0]&0x10 == 0 {
		return size, nil
	}

	if len(data) < size+extensionHeaderSize {
		return 0, errors.Wrapf(ErrTooShort, "заголовок расширения: нужно %d байт, есть %d", size+extensionHeaderSize, len(data))
	}
	words := int(binary.BigEndian.Uint16(data[size+2 : size+4]))
	size += extensionHeaderSize + 4*words
	if len(data) < size {
		return 0, errors.Wrapf(ErrTooShort, "расширение: нужно %d байт, есть %d", size, len(data))
	}
	return size, nil
}

func (p *DataPacket) String() string {
	return fmt.Sprintf("DataPacket{V=%s M=%t PT=%d seq=%d ts=%d ssrc=0x%08x csrc=%d payload=%d pad=%d}",
		p.Version, p.Marker, p.PayloadType, p.SequenceNumber, p.Timestamp, p.SSRC,
		len(p.CSRC), len(p.Payload), p.PaddingSize)
}

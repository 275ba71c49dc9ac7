package packet

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// SDESItemType тип элемента SDES согласно RFC 3550 Section 6.5
type SDESItemType uint8

const (
	SDESEnd   SDESItemType = 0 // Конец списка элементов chunk
	SDESCNAME SDESItemType = 1 // Canonical name
	SDESName  SDESItemType = 2 // User name
	SDESEmail SDESItemType = 3 // Email address
	SDESPhone SDESItemType = 4 // Phone number
	SDESLoc   SDESItemType = 5 // Geographic location
	SDESTool  SDESItemType = 6 // Application/tool name
	SDESNote  SDESItemType = 7 // Notice/status
	SDESPriv  SDESItemType = 8 // Private extensions
)

func (t SDESItemType) String() string {
	switch t {
	case SDESEnd:
		return "END"
	case SDESCNAME:
		return "CNAME"
	case SDESName:
		return "NAME"
	case SDESEmail:
		return "EMAIL"
	case SDESPhone:
		return "PHONE"
	case SDESLoc:
		return "LOC"
	case SDESTool:
		return "TOOL"
	case SDESNote:
		return "NOTE"
	case SDESPriv:
		return "PRIV"
	default:
		return "unknown"
	}
}

// SDESItem элемент описания источника.
// Для PRIV текст включает prefix length и prefix как есть.
type SDESItem struct {
	Type SDESItemType
	Text string
}

// SDESChunk описание одного источника
type SDESChunk struct {
	SSRC  uint32
	Items []SDESItem
}

// Item возвращает текст первого элемента заданного типа
func (c SDESChunk) Item(t SDESItemType) (string, bool) {
	for _, item := range c.Items {
		if item.Type == t {
			return item.Text, true
		}
	}
	return "", false
}

// CNAME возвращает canonical name из chunk
func (c SDESChunk) CNAME() string {
	cname, _ := c.Item(SDESCNAME)
	return cname
}

// size возвращает размер chunk на проводе с терминатором и выравниванием
func (c SDESChunk) size() int {
	n := 4
	for _, item := range c.Items {
		n += 2 + len(item.Text)
	}
	n++ // END
	return (n + 3) &^ 3
}

// SourceDescription SDES пакет согласно RFC 3550 Section 6.5
type SourceDescription struct {
	Chunks []SDESChunk
}

// NewSourceDescription создает SDES пакет с одним chunk, содержащим CNAME
func NewSourceDescription(ssrc uint32, cname string) *SourceDescription {
	return &SourceDescription{
		Chunks: []SDESChunk{{
			SSRC:  ssrc,
			Items: []SDESItem{{Type: SDESCNAME, Text: cname}},
		}},
	}
}

// AddChunk добавляет новый chunk к SDES пакету
func (sdes *SourceDescription) AddChunk(ssrc uint32, items ...SDESItem) {
	sdes.Chunks = append(sdes.Chunks, SDESChunk{SSRC: ssrc, Items: items})
}

func (sdes *SourceDescription) Type() ControlPacketType { return TypeSourceDescription }
func (sdes *SourceDescription) controlPacket()          {}

// Marshal кодирует SDES пакет в байты
func (sdes *SourceDescription) Marshal() ([]byte, error) {
	if len(sdes.Chunks) > maxCount {
		return nil, errors.Wrapf(ErrFieldOverflow, "%d SDES chunks, максимум %d", len(sdes.Chunks), maxCount)
	}

	size := controlHeaderSize
	for _, chunk := range sdes.Chunks {
		for _, item := range chunk.Items {
			if item.Type == SDESEnd {
				return nil, errors.Wrap(ErrFieldOverflow, "SDES элемент типа END")
			}
			if len(item.Text) > 255 {
				return nil, errors.Wrapf(ErrFieldOverflow, "SDES %s длиной %d байт", item.Type, len(item.Text))
			}
		}
		size += chunk.size()
	}

	data := make([]byte, size)
	writeControlHeader(data, uint8(len(sdes.Chunks)), TypeSourceDescription, size)

	offset := controlHeaderSize
	for _, chunk := range sdes.Chunks {
		start := offset
		binary.BigEndian.PutUint32(data[offset:offset+4], chunk.SSRC)
		offset += 4

		for _, item := range chunk.Items {
			data[offset] = uint8(item.Type)
			data[offset+1] = uint8(len(item.Text))
			copy(data[offset+2:], item.Text)
			offset += 2 + len(item.Text)
		}

		// END и выравнивание до 32 бит уже нули
		offset = start + chunk.size()
	}

	return data, nil
}

func decodeSourceDescription(h controlHeader, body []byte) (*SourceDescription, error) {
	sdes := &SourceDescription{}
	offset := 0

	for i := 0; i < int(h.Count); i++ {
		if offset+4 > len(body) {
			return nil, errors.Wrapf(ErrTooShort, "SDES chunk %d", i)
		}

		chunk := SDESChunk{SSRC: binary.BigEndian.Uint32(body[offset : offset+4])}
		offset += 4

		terminated := false
		for offset < len(body) {
			itemType := SDESItemType(body[offset])
			if itemType == SDESEnd {
				offset++
				terminated = true
				break
			}

			if offset+2 > len(body) {
				return nil, errors.Wrapf(ErrTooShort, "SDES элемент в chunk %d", i)
			}
			length := int(body[offset+1])
			offset += 2
			if offset+length > len(body) {
				return nil, errors.Wrapf(ErrTooShort, "SDES %s: %d байт текста", itemType, length)
			}

			chunk.Items = append(chunk.Items, SDESItem{
				Type: itemType,
				Text: string(body[offset : offset+length]),
			})
			offset += length
		}
		if !terminated {
			return nil, errors.Wrapf(ErrInvalidLength, "SDES chunk %d без завершающего нуля", i)
		}

		// Пропускаем выравнивание
		offset = (offset + 3) &^ 3
		sdes.Chunks = append(sdes.Chunks, chunk)
	}

	return sdes, nil
}

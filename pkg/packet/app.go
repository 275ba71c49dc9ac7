package packet

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// AppData пакет APP согласно RFC 3550 Section 6.7
type AppData struct {
	Subtype uint8   // 5 бит
	SSRC    uint32  // SSRC/CSRC отправителя
	Name    [4]byte // ASCII имя приложения
	Data    []byte  // Данные приложения, кратно 4 байтам; nil если их нет
}

// NewAppData создает APP пакет. Имя должно быть ровно 4 ASCII символа.
func NewAppData(subtype uint8, ssrc uint32, name string, data []byte) (*AppData, error) {
	if len(name) != 4 {
		return nil, errors.Wrapf(ErrFieldOverflow, "имя APP %q должно быть 4 байта", name)
	}
	app := &AppData{Subtype: subtype, SSRC: ssrc, Data: nilIfEmpty(data)}
	copy(app.Name[:], name)
	return app, nil
}

func (a *AppData) Type() ControlPacketType { return TypeAppData }
func (a *AppData) controlPacket()          {}

// Marshal кодирует APP пакет в байты
func (a *AppData) Marshal() ([]byte, error) {
	if a.Subtype > maxCount {
		return nil, errors.Wrapf(ErrFieldOverflow, "subtype APP %d", a.Subtype)
	}
	if len(a.Data)%4 != 0 {
		return nil, errors.Wrapf(ErrFieldOverflow, "данные APP %d байт не кратно 4", len(a.Data))
	}

	size := controlHeaderSize + 8 + len(a.Data)
	data := make([]byte, size)
	writeControlHeader(data, a.Subtype, TypeAppData, size)
	binary.BigEndian.PutUint32(data[4:8], a.SSRC)
	copy(data[8:12], a.Name[:])
	copy(data[12:], a.Data)
	return data, nil
}

func decodeAppData(h controlHeader, body []byte) (*AppData, error) {
	if len(body) < 8 {
		return nil, errors.Wrapf(ErrTooShort, "APP тело %d байт", len(body))
	}

	a := &AppData{
		Subtype: h.Count,
		SSRC:    binary.BigEndian.Uint32(body[0:4]),
	}
	copy(a.Name[:], body[4:8])
	if len(body) > 8 {
		a.Data = append([]byte(nil), body[8:]...)
	}
	return a, nil
}

// UnknownControlPacket RTCP пакет нераспознанного типа (например, RTPFB/PSFB/XR).
// Сохраняется как есть, чтобы составной пакет кодировался обратно без потерь.
type UnknownControlPacket struct {
	Count      uint8 // Поле count/subtype из заголовка
	PacketType ControlPacketType
	Body       []byte // Тело после заголовка, кратно 4 байтам
}

func (u *UnknownControlPacket) Type() ControlPacketType { return u.PacketType }
func (u *UnknownControlPacket) controlPacket()          {}

// Marshal кодирует пакет обратно с исходным типом
func (u *UnknownControlPacket) Marshal() ([]byte, error) {
	if u.Count > maxCount {
		return nil, errors.Wrapf(ErrFieldOverflow, "count %d", u.Count)
	}
	if len(u.Body)%4 != 0 {
		return nil, errors.Wrapf(ErrFieldOverflow, "тело %d байт не кратно 4", len(u.Body))
	}

	size := controlHeaderSize + len(u.Body)
	data := make([]byte, size)
	writeControlHeader(data, u.Count, u.PacketType, size)
	copy(data[controlHeaderSize:], u.Body)
	return data, nil
}

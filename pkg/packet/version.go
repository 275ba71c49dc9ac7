package packet

import (
	"github.com/pkg/errors"
)

// Version версия протокола RTP, закодированная в старших 2 битах первого байта
type Version uint8

const (
	V0 Version = 0x00
	V1 Version = 0x40
	V2 Version = 0x80
)

// versionMask выделяет поле версии из первого байта
const versionMask = 0xC0

// VersionFromByte возвращает версию по первому байту пакета.
// Младшие 6 бит игнорируются: VersionFromByte(0xBF) == V2.
func VersionFromByte(b byte) (Version, error) {
	switch Version(b & versionMask) {
	case V2:
		return V2, nil
	case V1:
		return V1, nil
	case V0:
		return V0, nil
	default:
		return 0, errors.Wrapf(ErrUnknownVersion, "байт 0x%02x", b)
	}
}

// Byte возвращает значение версии в позиции старших бит
func (v Version) Byte() byte {
	return byte(v)
}

// Number возвращает номер версии (0, 1 или 2)
func (v Version) Number() uint8 {
	return uint8(v) >> 6
}

func (v Version) String() string {
	switch v {
	case V0:
		return "V0"
	case V1:
		return "V1"
	case V2:
		return "V2"
	default:
		return "unknown"
	}
}

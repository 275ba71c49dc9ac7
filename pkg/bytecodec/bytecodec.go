// Package bytecodec содержит низкоуровневые утилиты для работы с байтами:
// hex представление, битовые строки и хеширование для диагностики пакетов.
package bytecodec

import (
	"encoding/hex"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// ErrInvalidHex возвращается при разборе некорректной hex строки
var ErrInvalidHex = errors.New("некорректная hex строка")

// ToHex возвращает hex представление байт в нижнем регистре
func ToHex(data []byte) string {
	return hex.EncodeToString(data)
}

// FromHex разбирает hex строку в байты.
// Пробелы между байтами допускаются (формат дампов Wireshark).
func FromHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, " ", "")
	if len(s)%2 != 0 {
		return nil, errors.Wrapf(ErrInvalidHex, "нечетная длина %d", len(s))
	}

	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidHex, err.Error())
	}
	return data, nil
}

// ToBinaryString возвращает 8-символьное битовое представление байта (старший бит первым)
func ToBinaryString(b byte) string {
	return BitsOf(uint32(b), 8)
}

// BitsOf возвращает младшие width бит значения в виде строки из '0' и '1'
func BitsOf(value uint32, width int) string {
	if width <= 0 {
		return ""
	}
	if width > 32 {
		width = 32
	}

	var sb strings.Builder
	sb.Grow(width)
	for i := width - 1; i >= 0; i-- {
		if value&(1<<uint(i)) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// WriteBits записывает младшие width бит value в target начиная с бита offset
// (offset 0 - старший бит). Используется для сборки полей заголовков в тестах
// и диагностике, где нужно выставить поле произвольной ширины.
func WriteBits(target uint32, value uint32, offset, width int) (uint32, error) {
	if width <= 0 || offset < 0 || offset+width > 32 {
		return target, errors.Errorf("недопустимое битовое поле: offset=%d width=%d", offset, width)
	}

	shift := uint(32 - offset - width)
	mask := uint32((uint64(1)<<uint(width))-1) << shift
	return (target &^ mask) | ((value << shift) & mask), nil
}

// Hash64 возвращает xxhash64 от данных. Используется как короткий отпечаток
// пакета в логах, не для безопасности.
func Hash64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// HashHex возвращает xxhash64 в виде 16 hex символов
func HashHex(data []byte) string {
	h := Hash64(data)
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(h)
		h >>= 8
	}
	return ToHex(buf)
}

// Dump возвращает многострочный hex дамп в формате hexdump -C
func Dump(data []byte) string {
	return hex.Dump(data)
}

package packet

import (
	"github.com/pkg/errors"
)

// Ошибки декодирования. Всегда восстановимы: вызывающий отбрасывает пакет.
var (
	ErrTooShort           = errors.New("пакет слишком короткий")
	ErrUnknownVersion     = errors.New("неизвестная версия RTP")
	ErrUnsupportedVersion = errors.New("неподдерживаемая версия RTP")
	ErrUnknownPacketType  = errors.New("неизвестный тип RTCP пакета")
	ErrInvalidLength      = errors.New("некорректная длина пакета")
	ErrInvalidPadding     = errors.New("некорректный padding")
)

// Ошибки конструирования значений пакетов
var (
	ErrEmptyCompound    = errors.New("составной RTCP пакет не может быть пустым")
	ErrNilControlPacket = errors.New("nil RTCP пакет в составном пакете")
	ErrFieldOverflow    = errors.New("значение поля не помещается в формат")
)

// IsDecodeError проверяет, относится ли ошибка к разбору входящих данных
func IsDecodeError(err error) bool {
	for _, target := range []error{
		ErrTooShort,
		ErrUnknownVersion,
		ErrUnsupportedVersion,
		ErrUnknownPacketType,
		ErrInvalidLength,
		ErrInvalidPadding,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

package session

import (
	"sync"

	"github.com/pion/randutil"
	"github.com/pkg/errors"
)

// DefaultIDLength длина ID сессии
const DefaultIDLength = 16

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// IDGenerator генерирует ID сессий и SSRC из криптографически стойкого источника.
// Безопасен для конкурентного использования.
type IDGenerator struct {
	mu     sync.Mutex
	length int
}

var (
	defaultGenerator     *IDGenerator
	defaultGeneratorOnce sync.Once
)

// DefaultIDGenerator возвращает общий генератор процесса, создаваемый при первом вызове
func DefaultIDGenerator() *IDGenerator {
	defaultGeneratorOnce.Do(func() {
		defaultGenerator = NewIDGenerator(DefaultIDLength)
	})
	return defaultGenerator
}

// NewIDGenerator создает генератор ID заданной длины
func NewIDGenerator(length int) *IDGenerator {
	if length <= 0 {
		length = DefaultIDLength
	}
	return &IDGenerator{length: length}
}

// NewID возвращает буквенно-цифровой ID
func (g *IDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := randutil.GenerateCryptoRandomString(g.length, idAlphabet)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate session id")
	}
	return id, nil
}

// NewSSRC возвращает случайный SSRC
func (g *IDGenerator) NewSSRC() (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, err := randutil.CryptoUint64()
	if err != nil {
		return 0, errors.Wrap(err, "failed to generate SSRC")
	}
	return uint32(v), nil
}

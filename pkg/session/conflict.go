package session

import (
	"net"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// conflictTable помнит адреса, с которых приходили пакеты с нашим SSRC
// (RFC 3550 Section 8.2). Повторный конфликт с того же адреса означает
// петлю или третью сторону, и SSRC второй раз не меняется.
type conflictTable struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newConflictTable(size int) *conflictTable {
	if size <= 0 {
		size = 64
	}
	return &conflictTable{cache: lru.New(size)}
}

// seen сообщает, был ли конфликт с addr, и запоминает его
func (t *conflictTable) seen(addr net.Addr, now time.Time) bool {
	if addr == nil {
		return false
	}
	key := addr.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.cache.Get(key)
	t.cache.Add(key, now)
	return ok
}

func (t *conflictTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}

func (t *conflictTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Clear()
}

// Package lock предоставляет неблокирующие блокировки по ключу для сериализации
// изменений одной кассовой смены.
package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrEmptyKey возвращается при пустом ключе блокировки.
	ErrEmptyKey = errors.New("lock key cannot be empty")
	// ErrNotHeld возвращается при снятии блокировки, которая уже не удерживается.
	ErrNotHeld = errors.New("lock was not held or already expired")
)

// Handle представляет захваченную блокировку.
type Handle interface {
	Unlock(ctx context.Context) error
}

// Locker захватывает блокировку без ожидания: занятый ключ сразу возвращает acquired=false.
type Locker interface {
	TryLock(ctx context.Context, key string) (Handle, bool, error)
}

// LocalLocker реализует Locker в памяти процесса.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLocalLocker создаёт блокировщик в памяти процесса.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localEntry)}
}

// TryLock пытается захватить блокировку по ключу.
func (l *LocalLocker) TryLock(_ context.Context, key string) (Handle, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, ErrEmptyKey
	}

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &localEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	if !e.mu.TryLock() {
		l.release(key, e)
		return nil, false, nil
	}

	return &localHandle{locker: l, key: key, entry: e}, true, nil
}

func (l *LocalLocker) release(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

type localHandle struct {
	once   sync.Once
	locker *LocalLocker
	key    string
	entry  *localEntry
}

func (h *localHandle) Unlock(_ context.Context) error {
	released := false
	h.once.Do(func() {
		h.entry.mu.Unlock()
		h.locker.release(h.key, h.entry)
		released = true
	})
	if !released {
		return ErrNotHeld
	}
	return nil
}

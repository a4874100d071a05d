package engine

import (
	"sync"

	"github.com/iudanet/learnsync/internal/models"
)

// entityLocks выдает эксклюзивную блокировку на ключ сущности.
// Записи в map удаляются, когда блокировку больше никто не ждет.
type entityLocks struct {
	locks map[models.EntityKey]*entityLock
	mu    sync.Mutex
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[models.EntityKey]*entityLock)}
}

// Lock захватывает блокировку key и возвращает функцию освобождения
func (l *entityLocks) Lock(key models.EntityKey) func() {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &entityLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// size возвращает число ключей с активными блокировками
func (l *entityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

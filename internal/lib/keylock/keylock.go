// Package keylock взаимное исключение по строковому ключу.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locks набор мьютексов по ключу. Запись создается при первом обращении и удаляется,
// когда ключ освобождает последний владелец или ожидающий.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Locks {
	return &Locks{entries: make(map[string]*entry)}
}

// Lock ждет освобождения ключа и возвращает функцию, которая его отпускает.
// Повторный вызов этой функции ничего не делает.
func (l *Locks) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, key)
			}
			l.mu.Unlock()
		})
	}
}

// held число ключей, которые сейчас заняты или ожидаются.
func (l *Locks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

package logic

import (
	"sync"

	"go.uber.org/zap"
)

type readyListener struct {
	id int
	fn func()
}

type changeListener struct {
	id int
	fn func(Change)
}

// listeners holds the ready and change subscribers of a Detector.
type listeners struct {
	mu     sync.Mutex
	nextID int
	ready  []readyListener
	change []changeListener
	logger *zap.Logger
}

func (l *listeners) addReady(fn func()) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.ready = append(l.ready, readyListener{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, r := range l.ready {
				if r.id == id {
					l.ready = append(l.ready[:i:i], l.ready[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners) addChange(fn func(Change)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.change = append(l.change, changeListener{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, c := range l.change {
				if c.id == id {
					l.change = append(l.change[:i:i], l.change[i+1:]...)
					return
				}
			}
		})
	}
}

// dispatch calls every listener for e in registration order. The listener
// slices are copied first so listeners may subscribe or unsubscribe.
func (l *listeners) dispatch(e event) {
	l.mu.Lock()
	ready := l.ready
	change := l.change
	l.mu.Unlock()

	if e.ready {
		for _, r := range ready {
			l.call(func() { r.fn() })
		}
		return
	}
	for _, c := range change {
		l.call(func() { c.fn(e.change) })
	}
}

// call runs fn and logs a panic instead of propagating it.
func (l *listeners) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("listener panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

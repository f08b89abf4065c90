// Package ratelimit — счётчик исходящих auth-запросов к Telegram с фиксированным окном.
// Это сознательное приближение скользящего окна: счётчик обнуляется, когда с начала
// окна прошло больше windowSize, а не по мере «выпадания» отдельных запросов.
// Лимитер создаётся один раз на процесс и передаётся по ссылке; глобального
// состояния нет, поэтому тесты могут собирать независимые экземпляры с
// детерминированными часами.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited возвращается из Check, когда лимит окна исчерпан.
// Вызывающий сам решает, что делать с отказом; лимитер не спит и не ретраит.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter ограничивает число вызовов в пределах окна. Потокобезопасен:
// весь доступ к счётчику сериализуется мьютексом.
type Limiter struct {
	mu          sync.Mutex
	max         int
	window      time.Duration
	windowStart time.Time
	count       int
	now         func() time.Time // источник времени; подменяется в тестах
}

// Option задаёт дополнительные параметры лимитера при создании.
type Option func(*Limiter)

// WithClock подменяет источник времени. Используется в тестах.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New создаёт лимитер: не более max вызовов на окно window.
// Неположительные значения приводятся к минимально осмысленным.
func New(max int, window time.Duration, opts ...Option) *Limiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.windowStart = l.now()
	return l
}

// Check учитывает один вызов. Возвращает ErrRateLimited, если в текущем окне
// уже выполнено max вызовов. Побочных эффектов, кроме мутации счётчика, нет.
func (l *Limiter) Check() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.windowStart) > l.window {
		l.count = 0
		l.windowStart = now
	}

	if l.count >= l.max {
		return ErrRateLimited
	}

	l.count++
	return nil
}

// Reset обнуляет окно. Нужен тестам и административному сбросу.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count = 0
	l.windowStart = l.now()
}

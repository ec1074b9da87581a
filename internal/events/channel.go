// Package events реализует синхронный внутрипроцессный канал событий
// с подписчиками по типу события.
//
// Доставка синхронная: Publish возвращается после вызова всех подписчиков.
// Подписчики вызываются в порядке подписки. Ошибка или паника одного
// подписчика не мешает доставке остальным.
package events

import (
	"fmt"
	"sync"

	"github.com/HypocriteSnow/UandUTDD/internal/logging"
)

// Kind - тип события
type Kind string

// Event - событие канала
type Event interface {
	Kind() Kind
}

// Handler обрабатывает событие. Возвращённая ошибка учитывается
// и логируется, но не прерывает рассылку.
type Handler func(ev Event) error

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// FailureHandler получает ошибки подписчиков (включая восстановленные паники)
type FailureHandler func(kind Kind, err error)

// DefaultMaxDepth - предельная глубина вложенных Publish
const DefaultMaxDepth = 8

// Stats агрегированные счётчики канала.
type Stats struct {
	Published   uint64 // Принятые к рассылке события
	Delivered   uint64 // Успешные вызовы подписчиков
	Failed      uint64 // Вызовы, вернувшие ошибку или упавшие
	Dropped     uint64 // События, отброшенные защитой от рекурсии
	Subscribers int    // Активные подписчики
}

type entry struct {
	handler Handler
	active  bool
}

type subscriberList struct {
	entries []*entry
	dead    int
}

// Channel - синхронный канал событий. Подписка и отписка безопасны
// из любых горутин; Publish ожидается из одной горутины-владельца мира.
type Channel struct {
	mu        sync.Mutex
	subs      map[Kind]*subscriberList
	depth     int
	maxDepth  int
	stats     Stats
	onFailure FailureHandler
}

// Option настраивает Channel
type Option func(*Channel)

// WithMaxDepth задаёт предельную глубину вложенных публикаций
func WithMaxDepth(depth int) Option {
	return func(c *Channel) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithFailureHandler задаёт обработчик ошибок подписчиков
func WithFailureHandler(fn FailureHandler) Option {
	return func(c *Channel) { c.onFailure = fn }
}

// NewChannel создаёт пустой канал
func NewChannel(opts ...Option) *Channel {
	c := &Channel{
		subs:     make(map[Kind]*subscriberList),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe добавляет подписчика на события типа kind. Амортизированно O(1).
func (c *Channel) Subscribe(kind Kind, h Handler) Subscription {
	if h == nil {
		return noopSub{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	list, ok := c.subs[kind]
	if !ok {
		list = &subscriberList{}
		c.subs[kind] = list
	}
	e := &entry{handler: h, active: true}
	list.entries = append(list.entries, e)
	c.stats.Subscribers++

	return &sub{ch: c, kind: kind, e: e}
}

// On подписывает типизированный обработчик. События другого типа
// с тем же Kind игнорируются.
func On[T Event](c *Channel, kind Kind, fn func(T)) Subscription {
	return c.Subscribe(kind, func(ev Event) error {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
		return nil
	})
}

// Publish синхронно рассылает событие текущим подписчикам его типа.
// Подписчики, добавленные во время рассылки, получат только следующие события.
func (c *Channel) Publish(ev Event) {
	if ev == nil {
		return
	}
	kind := ev.Kind()

	c.mu.Lock()
	if c.depth >= c.maxDepth {
		c.stats.Dropped++
		c.mu.Unlock()
		logging.Error("[Events] %s отброшено: превышена глубина вложенных публикаций (%d)", kind, c.maxDepth)
		return
	}
	c.depth++
	c.stats.Published++

	var snapshot []*entry
	if list, ok := c.subs[kind]; ok {
		snapshot = make([]*entry, len(list.entries))
		copy(snapshot, list.entries)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.depth--
		c.mu.Unlock()
	}()

	for _, e := range snapshot {
		c.mu.Lock()
		active := e.active
		c.mu.Unlock()
		if !active {
			continue
		}

		err := c.invoke(e.handler, ev)

		c.mu.Lock()
		if err != nil {
			c.stats.Failed++
		} else {
			c.stats.Delivered++
		}
		onFailure := c.onFailure
		c.mu.Unlock()

		if err != nil {
			logging.Error("[Events] подписчик %s завершился ошибкой: %v", kind, err)
			if onFailure != nil {
				onFailure(kind, err)
			}
		}
	}
}

// invoke вызывает обработчик, превращая панику в ошибку
func (c *Channel) invoke(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ev)
}

// Stats возвращает копию счётчиков
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// SubscriberCount возвращает число активных подписчиков типа kind
func (c *Channel) SubscriberCount(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	list, ok := c.subs[kind]
	if !ok {
		return 0
	}
	return len(list.entries) - list.dead
}

// unsubscribe помечает запись неактивной; список уплотняется, когда
// мёртвых записей становится больше половины.
func (c *Channel) unsubscribe(kind Kind, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !e.active {
		return
	}
	e.active = false
	c.stats.Subscribers--

	list := c.subs[kind]
	list.dead++
	if list.dead*2 <= len(list.entries) {
		return
	}

	live := list.entries[:0]
	for _, it := range list.entries {
		if it.active {
			live = append(live, it)
		}
	}
	for i := len(live); i < len(list.entries); i++ {
		list.entries[i] = nil
	}
	list.entries = live
	list.dead = 0
	if len(live) == 0 {
		delete(c.subs, kind)
	}
}

type sub struct {
	ch   *Channel
	kind Kind
	e    *entry
}

func (s *sub) Unsubscribe() {
	s.ch.unsubscribe(s.kind, s.e)
}

type noopSub struct{}

func (noopSub) Unsubscribe() {}

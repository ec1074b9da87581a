package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/events"
	"github.com/HypocriteSnow/UandUTDD/internal/logging"
)

// RelayOptions настраивает Relay
type RelayOptions struct {
	Source         string              // Имя источника в Envelope
	QueueSize      int                 // Размер очереди между каналом и шиной
	PublishTimeout time.Duration       // Таймаут одной публикации во внешнюю шину
	Priorities     map[events.Kind]int // Приоритет по типу события; по умолчанию 3
}

// RelayStats - счётчики Relay
type RelayStats struct {
	Forwarded uint64 // Успешно переданные во внешнюю шину
	Failed    uint64 // Ошибки сериализации или публикации
	Dropped   uint64 // Отброшенные из-за переполнения очереди
}

// Relay пересылает события синхронного канала во внешнюю шину.
// Обработчик канала только ставит событие в очередь, поэтому медленная
// шина не задерживает тик; при переполнении событие отбрасывается.
type Relay struct {
	bus   EventBus
	opts  RelayOptions
	queue chan events.Event
	subs  []events.Subscription

	forwarded uint64
	failed    uint64
	dropped   uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewRelay подписывается на события kinds в ch и запускает отправку в bus
func NewRelay(ch *events.Channel, bus EventBus, opts RelayOptions, kinds ...events.Kind) *Relay {
	if opts.Source == "" {
		opts.Source = "battlefield"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}

	r := &Relay{
		bus:   bus,
		opts:  opts,
		queue: make(chan events.Event, opts.QueueSize),
		done:  make(chan struct{}),
	}

	for _, kind := range kinds {
		r.subs = append(r.subs, ch.Subscribe(kind, r.enqueue))
	}

	go r.loop()
	logging.Info("[Relay] пересылка %d типов событий во внешнюю шину", len(kinds))
	return r
}

func (r *Relay) enqueue(ev events.Event) error {
	select {
	case r.queue <- ev:
	default:
		atomic.AddUint64(&r.dropped, 1)
		logging.Warn("[Relay] очередь переполнена, событие %s отброшено", ev.Kind())
	}
	return nil
}

func (r *Relay) loop() {
	defer close(r.done)

	for ev := range r.queue {
		r.forward(ev)
	}
}

func (r *Relay) forward(ev events.Event) {
	kind := ev.Kind()
	prio, ok := r.opts.Priorities[kind]
	if !ok {
		prio = 3
	}

	env, err := NewEnvelope(r.opts.Source, string(kind), prio, ev)
	if err != nil {
		atomic.AddUint64(&r.failed, 1)
		logging.Error("[Relay] %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.PublishTimeout)
	defer cancel()

	if err := r.bus.Publish(ctx, env); err != nil {
		atomic.AddUint64(&r.failed, 1)
		logging.Error("[Relay] публикация %s не удалась: %v", kind, err)
		return
	}
	atomic.AddUint64(&r.forwarded, 1)
}

// Stats возвращает счётчики
func (r *Relay) Stats() RelayStats {
	return RelayStats{
		Forwarded: atomic.LoadUint64(&r.forwarded),
		Failed:    atomic.LoadUint64(&r.failed),
		Dropped:   atomic.LoadUint64(&r.dropped),
	}
}

// Close отписывается от канала и дожидается отправки очереди.
// Вызывать из горутины, которая публикует в канал, либо после её остановки.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		for _, s := range r.subs {
			s.Unsubscribe()
		}
		close(r.queue)
		<-r.done
	})
}

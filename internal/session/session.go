// Package session владеет экземпляром grid.World и является его
// единственным писателем. Горутина Run выполняет тики и очередь команд;
// остальные горутины обращаются к миру только через Do.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/events"
	"github.com/HypocriteSnow/UandUTDD/internal/grid"
	"github.com/HypocriteSnow/UandUTDD/internal/level"
	"github.com/HypocriteSnow/UandUTDD/internal/logging"
)

// DefaultTickInterval - период тика по умолчанию (~30 тиков в секунду)
const DefaultTickInterval = 33 * time.Millisecond

var (
	// ErrStopped - сессия не запущена или уже остановлена
	ErrStopped = errors.New("session: stopped")
	// ErrRunning - повторный запуск Run или Step во время работы
	ErrRunning = errors.New("session: already running")
)

// Tickable получает тики сессии. Реализации должны быть сравнимыми
// (обычно указатели), чтобы их можно было снять с регистрации.
type Tickable interface {
	OnTick(tick uint64)
}

// Options настраивает сессию
type Options struct {
	TickInterval time.Duration
	QueueSize    int             // Ёмкость очереди команд
	Channel      *events.Channel // nil - создаётся новый канал
	Metrics      *Metrics
	GridMetrics  *grid.Metrics
}

type command struct {
	ctx   context.Context
	fn    func(w *grid.World) error
	reply chan error
}

// Session - тиковый цикл вокруг одного мира
type Session struct {
	world    *grid.World
	channel  *events.Channel
	interval time.Duration
	commands chan command
	metrics  *Metrics

	mu            sync.Mutex
	tickables     []Tickable
	pendingAdd    []Tickable
	pendingRemove []Tickable

	paused  atomic.Bool
	tick    atomic.Uint64
	running atomic.Bool
	stopped chan struct{}
	stopMu  sync.Mutex
}

// New создаёт сессию с неинициализированным миром. Сам мир
// регистрируется как участник тиков.
func New(opts Options) *Session {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Channel == nil {
		opts.Channel = events.NewChannel()
	}

	w := grid.NewWorld(opts.Channel)
	if opts.GridMetrics != nil {
		w.SetMetrics(opts.GridMetrics)
	}

	s := &Session{
		world:    w,
		channel:  opts.Channel,
		interval: opts.TickInterval,
		commands: make(chan command, opts.QueueSize),
		metrics:  opts.Metrics,
		stopped:  make(chan struct{}),
	}
	s.tickables = append(s.tickables, w)
	return s
}

// Channel возвращает канал событий мира. Подписка безопасна из любой горутины;
// обработчики вызываются в горутине сессии.
func (s *Session) Channel() *events.Channel {
	return s.channel
}

// TickInterval возвращает период тика
func (s *Session) TickInterval() time.Duration {
	return s.interval
}

// Run выполняет тики и команды до отмены ctx. Блокирующий.
// Остановленную сессию повторно запустить нельзя.
func (s *Session) Run(ctx context.Context) error {
	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer func() {
		s.stop()
		s.running.Store(false)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info("[Session] запущена, тик %v", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.drain()
			logging.Info("[Session] остановлена на тике %d", s.tick.Load())
			return nil
		case cmd := <-s.commands:
			s.execute(cmd)
		case <-ticker.C:
			s.processTick()
		}
	}
}

// stop помечает сессию остановленной; ожидающие Do получают ErrStopped
func (s *Session) stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	select {
	case <-s.stopped:
	default:
		close(s.stopped)
	}
}

// drain отвечает ErrStopped на команды, оставшиеся в очереди
func (s *Session) drain() {
	for {
		select {
		case cmd := <-s.commands:
			cmd.reply <- ErrStopped
		default:
			return
		}
	}
}

// Do выполняет fn в горутине сессии и возвращает её результат.
// До запуска Run команда ждёт в очереди. Команды выполняются и во время паузы.
// Если ctx истёк раньше, чем очередь дошла до команды, fn не вызывается.
func (s *Session) Do(ctx context.Context, fn func(w *grid.World) error) error {
	cmd := command{ctx: ctx, fn: fn, reply: make(chan error, 1)}

	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}

	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
	if s.metrics != nil {
		s.metrics.queue.Set(float64(len(s.commands)))
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		// Команда могла успеть выполниться до остановки
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrStopped
		}
	}
}

func (s *Session) execute(cmd command) {
	if err := cmd.ctx.Err(); err != nil {
		cmd.reply <- err
		if s.metrics != nil {
			s.metrics.commands.WithLabelValues("expired").Inc()
			s.metrics.queue.Set(float64(len(s.commands)))
		}
		return
	}

	start := time.Now()
	err := s.safeCall(cmd.fn)
	cmd.reply <- err

	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.metrics.commands.WithLabelValues(result).Inc()
		s.metrics.commandDuration.Observe(time.Since(start).Seconds())
		s.metrics.queue.Set(float64(len(s.commands)))
	}
}

func (s *Session) safeCall(fn func(w *grid.World) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session: command panic: %v", r)
			logging.Error("[Session] %v", err)
		}
	}()
	return fn(s.world)
}

// Step выполняет один тик синхронно. Только для остановленной сессии
// (тесты, пошаговая отладка).
func (s *Session) Step() error {
	if s.running.Load() {
		return ErrRunning
	}
	s.processTick()
	return nil
}

// processTick применяет отложенные регистрации и вызывает участников
func (s *Session) processTick() {
	s.applyPending()

	if s.paused.Load() {
		return
	}

	start := time.Now()
	tick := s.tick.Add(1)

	s.mu.Lock()
	tickables := append([]Tickable(nil), s.tickables...)
	s.mu.Unlock()

	for _, t := range tickables {
		s.safeTick(t, tick)
	}

	if s.metrics != nil {
		s.metrics.ticks.Inc()
		s.metrics.tickDuration.Observe(time.Since(start).Seconds())
		s.metrics.tickables.Set(float64(len(tickables)))
	}
}

func (s *Session) safeTick(t Tickable, tick uint64) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("[Session] участник %T упал на тике %d: %v", t, tick, r)
			if s.metrics != nil {
				s.metrics.tickPanics.Inc()
			}
		}
	}()
	t.OnTick(tick)
}

func (s *Session) applyPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.pendingRemove {
		for i, it := range s.tickables {
			if it == t {
				s.tickables = append(s.tickables[:i], s.tickables[i+1:]...)
				break
			}
		}
	}
	for _, t := range s.pendingAdd {
		if !containsTickable(s.tickables, t) {
			s.tickables = append(s.tickables, t)
		}
	}
	s.pendingAdd = s.pendingAdd[:0]
	s.pendingRemove = s.pendingRemove[:0]
}

func containsTickable(list []Tickable, t Tickable) bool {
	for _, it := range list {
		if it == t {
			return true
		}
	}
	return false
}

// Register добавляет участника тиков начиная со следующего тика
func (s *Session) Register(t Tickable) {
	if t == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingAdd = append(s.pendingAdd, t)
}

// Unregister снимает участника начиная со следующего тика
func (s *Session) Unregister(t Tickable) {
	if t == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.pendingAdd {
		if it == t {
			s.pendingAdd = append(s.pendingAdd[:i], s.pendingAdd[i+1:]...)
			return
		}
	}
	s.pendingRemove = append(s.pendingRemove, t)
}

// Pause приостанавливает тики; команды продолжают выполняться
func (s *Session) Pause() {
	if !s.paused.Swap(true) {
		logging.Info("[Session] пауза на тике %d", s.tick.Load())
	}
}

// Resume возобновляет тики
func (s *Session) Resume() {
	if s.paused.Swap(false) {
		logging.Info("[Session] возобновлена")
	}
}

// Paused сообщает, стоит ли сессия на паузе
func (s *Session) Paused() bool { return s.paused.Load() }

// Tick возвращает номер последнего выполненного тика
func (s *Session) Tick() uint64 { return s.tick.Load() }

// Reload проверяет конфигурацию и заменяет ею сетку. При ошибке
// прежняя сетка сохраняется.
func (s *Session) Reload(ctx context.Context, cfg *level.Config) error {
	err := s.Do(ctx, func(w *grid.World) error {
		return w.LoadFromConfig(cfg)
	})
	if err != nil {
		logging.Warn("[Session] перезагрузка уровня отклонена: %v", err)
		return err
	}
	logging.Info("[Session] уровень перезагружен")
	return nil
}

// LoadLevel получает конфигурацию по ключу из src и загружает её
func (s *Session) LoadLevel(ctx context.Context, src level.Source, key string) error {
	cfg, err := src.LoadLevel(key)
	if err != nil {
		return fmt.Errorf("session: load level %q: %w", key, err)
	}
	return s.Reload(ctx, cfg)
}

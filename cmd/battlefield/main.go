package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/api"
	"github.com/HypocriteSnow/UandUTDD/internal/cache"
	"github.com/HypocriteSnow/UandUTDD/internal/config"
	"github.com/HypocriteSnow/UandUTDD/internal/eventbus"
	"github.com/HypocriteSnow/UandUTDD/internal/events"
	"github.com/HypocriteSnow/UandUTDD/internal/grid"
	"github.com/HypocriteSnow/UandUTDD/internal/level"
	"github.com/HypocriteSnow/UandUTDD/internal/logging"
	"github.com/HypocriteSnow/UandUTDD/internal/observability"
	"github.com/HypocriteSnow/UandUTDD/internal/session"
	"github.com/HypocriteSnow/UandUTDD/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Сетка по умолчанию, если стартовый уровень не задан
const (
	defaultWidth    = 10
	defaultDepth    = 10
	defaultCellSize = 1.0
)

// gridKinds - события сетки, уходящие во внешнюю шину и в лог
var gridKinds = []events.Kind{
	grid.KindGridChanged,
	grid.KindTileDeployableChanged,
	grid.KindTileTypeChanged,
	grid.KindLoaded,
	grid.KindCleared,
}

func main() {
	configPath := flag.String("config", "", "Путь к YAML конфигурации (по умолчанию BATTLEFIELD_CONFIG)")
	levelFile := flag.String("level", "", "YAML уровня; перекрывает level.file из конфигурации")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	if *levelFile != "" {
		cfg.Level.File = *levelFile
		cfg.Level.Stored = ""
	}

	// Инициализируем систему логирования
	loggers, err := initLogging(cfg.Logging)
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}

	err = run(cfg, loggers)
	if err != nil {
		logging.Error("❌ %v", err)
	}
	loggers.CloseAll()
	if err != nil {
		os.Exit(1)
	}
}

// initLogging накладывает настройки из файла конфигурации поверх окружения.
// Основной логгер становится глобальным; HTTP пишет в отдельный файл.
func initLogging(lc config.LoggingConfig) (*logging.LoggerManager, error) {
	opts := logging.OptionsFromEnv()
	if lc.Level != "" {
		opts.ConsoleLevel = logging.ParseLevel(lc.Level)
	}
	if lc.Format != "" {
		opts.JSON = strings.EqualFold(lc.Format, "json")
	}
	if lc.Dir != "" {
		opts.Dir = lc.Dir
	}

	loggers := logging.NewLoggerManager(opts)
	lg, err := loggers.GetLogger("battlefield")
	if err != nil {
		return nil, err
	}
	logging.SetDefaultLogger(lg)
	return loggers, nil
}

func run(cfg *config.Config, loggers *logging.LoggerManager) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("🎮 Запуск battlefield...")

	// === ТРАССИРОВКА ===
	shutdownTracing, err := observability.InitTelemetry(ctx, "battlefield")
	if err != nil {
		return fmt.Errorf("инициализация трассировки: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logging.Warn("Ошибка остановки трассировки: %v", err)
		}
	}()

	// === МЕТРИКИ ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// === СЕССИЯ ===
	sess := session.New(session.Options{
		TickInterval: cfg.Session.TickInterval(),
		QueueSize:    cfg.Session.GetQueueSize(),
		Metrics:      session.NewMetrics(reg),
		GridMetrics:  grid.NewMetrics(reg),
	})

	channelMetrics := events.NewMetricsExporter(sess.Channel(), reg)
	channelMetrics.Start(5 * time.Second)
	defer channelMetrics.Stop()

	for _, sub := range events.StartLoggingListener(sess.Channel(), gridKinds...) {
		defer sub.Unsubscribe()
	}

	// === ХРАНИЛИЩЕ УРОВНЕЙ ===
	store, err := storage.NewLevelStore(cfg.Storage.GetDataPath(), storage.Options{})
	if err != nil {
		return fmt.Errorf("хранилище уровней: %w", err)
	}
	defer store.Close()

	// Общий кеш уровней (несколько экземпляров)
	var source level.Source = store
	var shared *cache.LevelCache
	var invalidator *cache.NATSInvalidator
	if cc := cfg.Cache; cc.RedisAddr != "" {
		if cc.NATSURL != "" {
			invalidator, err = cache.NewNATSInvalidator(&cache.InvalidatorConfig{NATSURL: cc.NATSURL}, cc.NodeID)
			if err != nil {
				return fmt.Errorf("инвалидация кеша: %w", err)
			}
			defer invalidator.Close()
		}

		var inv cache.Invalidator
		if invalidator != nil {
			inv = invalidator
		}
		shared, err = cache.NewLevelCache(ctx, cache.Config{
			RedisAddr:     cc.RedisAddr,
			RedisPassword: cc.Password,
			RedisDB:       cc.DB,
			TTL:           cc.GetTTL(),
		}, store, inv)
		if err != nil {
			return fmt.Errorf("общий кеш уровней: %w", err)
		}
		defer shared.Close()
		source = shared
	}

	levels, err := level.NewRegistry(source, cfg.Level.GetCacheSize())
	if err != nil {
		return fmt.Errorf("кеш уровней: %w", err)
	}
	defer levels.Close()

	if invalidator != nil {
		err = invalidator.SubscribeInvalidations(ctx, func(key string) error {
			levels.Invalidate(key)
			return nil
		})
		if err != nil {
			return fmt.Errorf("инвалидация кеша: %w", err)
		}
	}

	// === ВНЕШНЯЯ ШИНА СОБЫТИЙ ===
	bus, err := openBus(ctx, cfg.EventBus)
	if err != nil {
		return fmt.Errorf("шина событий: %w", err)
	}
	if bus != nil {
		defer bus.Close()

		relay := eventbus.NewRelay(sess.Channel(), bus, eventbus.RelayOptions{
			QueueSize: cfg.EventBus.QueueSize,
			Priorities: map[events.Kind]int{
				grid.KindLoaded:  7,
				grid.KindCleared: 7,
			},
		}, gridKinds...)
		defer relay.Close()

		busMetrics := eventbus.NewMetricsExporter(bus, relay, reg)
		busMetrics.Start(5 * time.Second)
		defer busMetrics.Stop()
	}

	// === ЦИКЛ СЕССИИ ===
	sessCtx, cancelSess := context.WithCancel(context.Background())
	sessDone := make(chan error, 1)
	go func() { sessDone <- sess.Run(sessCtx) }()
	defer func() {
		cancelSess()
		<-sessDone
	}()

	if err := loadStartLevel(ctx, sess, levels, cfg.Level); err != nil {
		return err
	}

	// === HTTP ===
	restAddr := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	apiConfig := api.Config{
		Addr:       restAddr,
		Session:    sess,
		Levels:     levels,
		Store:      store,
		Registerer: reg,
		Gatherer:   reg,
		AccessLog:  loggers.MustGetLogger("http"),
	}
	if shared != nil {
		apiConfig.Shared = shared
	}
	server := api.NewServer(apiConfig)

	errCh := make(chan error, 2)
	go func() { errCh <- server.Start() }()

	var metricsSrv *http.Server
	if port := cfg.Server.GetMetricsPort(); port != cfg.Server.GetRESTPort() {
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("сервер метрик: %w", err)
			}
		}()
		logging.Info("   📊 Метрики: http://localhost:%d/metrics", port)
	}

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 Debug API: http://localhost%s/api/grid", restAddr)
	logging.Info("   🔌 Поток занятости: ws://localhost%s/ws/occupancy", restAddr)
	logging.Info("   ⏱  Тик: %s", sess.TickInterval())

	// Ждем сигнала для завершения
	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал, завершение работы...")
	case err := <-errCh:
		if err != nil {
			logging.Error("❌ Ошибка HTTP сервера: %v", err)
		}
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки Debug API: %v", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logging.Error("❌ Ошибка остановки сервера метрик: %v", err)
		}
	}

	logging.Info("👋 battlefield остановлен (тик %d)", sess.Tick())
	return nil
}

// openBus подключает внешнюю шину событий. Для "none" возвращает nil.
func openBus(ctx context.Context, bc config.EventBusConfig) (eventbus.EventBus, error) {
	switch bc.GetBackend() {
	case "memory":
		bus := eventbus.NewMemoryBus(bc.QueueSize)
		if _, err := eventbus.StartLoggingListener(bus); err != nil {
			bus.Close()
			return nil, err
		}
		logging.Info("📨 Шина событий: in-memory")
		return bus, nil

	case "nats":
		bus, err := eventbus.NewJetStreamBus(bc.GetURL(), bc.Stream, bc.GetRetention())
		if err != nil {
			return nil, err
		}
		logging.Info("📨 Шина событий: NATS JetStream %s", bc.GetURL())
		return bus, nil

	case "redis":
		rc := eventbus.DefaultRedisConfig()
		rc.Addr = bc.GetURL()
		rc.Password = bc.Password
		rc.DB = bc.DB
		bus, err := eventbus.NewRedisBus(ctx, rc)
		if err != nil {
			return nil, err
		}
		logging.Info("📨 Шина событий: Redis %s", rc.Addr)
		return bus, nil
	}

	logging.Debug("Внешняя шина событий отключена")
	return nil, nil
}

// loadStartLevel загружает стартовый уровень: из файла, из хранилища
// или пустую сетку по умолчанию
func loadStartLevel(ctx context.Context, sess *session.Session, src level.Source, lc config.LevelConfig) error {
	switch {
	case lc.File != "":
		cfg, err := level.LoadFile(lc.File)
		if err != nil {
			return err
		}
		if err := sess.Reload(ctx, cfg); err != nil {
			return fmt.Errorf("уровень %s: %w", lc.File, err)
		}
		logging.Info("🗺  Уровень загружен из %s", lc.File)

	case lc.Stored != "":
		if err := sess.LoadLevel(ctx, src, lc.Stored); err != nil {
			return err
		}
		logging.Info("🗺  Уровень %q загружен из хранилища", lc.Stored)

	default:
		err := sess.Do(ctx, func(w *grid.World) error {
			return w.Init(defaultWidth, defaultDepth, defaultCellSize)
		})
		if err != nil {
			return err
		}
		logging.Info("🗺  Уровень не задан, создана сетка %dx%d", defaultWidth, defaultDepth)
	}
	return nil
}

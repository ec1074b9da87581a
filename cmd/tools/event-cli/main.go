package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/eventbus"
	"github.com/HypocriteSnow/UandUTDD/internal/grid"
)

const timeFormat = "15:04:05.000"

func main() {
	var (
		backend    = flag.String("bus", "nats", "Bus backend: nats, redis")
		url        = flag.String("url", "", "Bus address (default nats://127.0.0.1:4222 or localhost:6379)")
		stream     = flag.String("stream", eventbus.DefaultStream, "JetStream stream name")
		command    = flag.String("cmd", "tail", "Command: tail, stats, types")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		sources    = flag.String("sources", "", "Event sources filter (comma-separated)")
		window     = flag.Duration("window", 30*time.Second, "Collection window for stats")
		limit      = flag.Int("limit", 100, "Maximum number of events")
		follow     = flag.Bool("follow", false, "Follow new events (like tail -f)")
	)
	flag.Parse()

	if *command == "types" {
		showTypes()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := connect(ctx, *backend, *url, *stream)
	if err != nil {
		log.Fatalf("❌ Failed to connect to bus: %v", err)
	}
	defer bus.Close()

	filter := eventbus.Filter{
		Types:   parseStringList(*eventTypes),
		Sources: parseStringList(*sources),
	}

	// Выполняем команду
	switch *command {
	case "tail":
		if err := tailEvents(ctx, bus, filter, *limit, *follow); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}

	case "stats":
		if err := showStats(ctx, bus, filter, *window); err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats, types")
		os.Exit(1)
	}
}

func connect(ctx context.Context, backend, url, stream string) (eventbus.EventBus, error) {
	switch backend {
	case "nats":
		if url == "" {
			url = "nats://127.0.0.1:4222"
		}
		return eventbus.NewJetStreamBus(url, stream, 24*time.Hour)
	case "redis":
		cfg := eventbus.DefaultRedisConfig()
		if url != "" {
			cfg.Addr = url
		}
		return eventbus.NewRedisBus(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown bus backend %q", backend)
}

// tailEvents выводит события в реальном времени
func tailEvents(ctx context.Context, bus eventbus.EventBus, filter eventbus.Filter, limit int, follow bool) error {
	fmt.Printf("🎬 Tailing events (limit: %d, follow: %v)\n", limit, follow)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		count int
	)
	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		if !follow && count >= limit {
			return
		}
		printEvent(ev)
		count++
		if !follow && count >= limit {
			cancel()
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()

	mu.Lock()
	fmt.Printf("\n📊 Total events: %d\n", count)
	mu.Unlock()
	return nil
}

// showStats считает события по типам за окно наблюдения
func showStats(ctx context.Context, bus eventbus.EventBus, filter eventbus.Filter, window time.Duration) error {
	fmt.Printf("📊 Collecting event statistics for %s\n", window)

	var (
		mu     sync.Mutex
		total  int
		byType = make(map[string]int)
	)
	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		total++
		byType[ev.EventType]++
		mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(window):
	}
	sub.Unsubscribe()

	mu.Lock()
	defer mu.Unlock()

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	fmt.Printf("Total events: %d\n", total)
	fmt.Println("\nBy event type:")
	for _, t := range types {
		fmt.Printf("  %s: %d events\n", t, byType[t])
	}
	return nil
}

// showTypes выводит типы событий сетки
func showTypes() {
	fmt.Println("📋 Grid event types")
	fmt.Printf("  %-22s cell occupant set or cleared\n", grid.KindGridChanged)
	fmt.Printf("  %-22s cell deployability flipped\n", grid.KindTileDeployableChanged)
	fmt.Printf("  %-22s cell terrain edited\n", grid.KindTileTypeChanged)
	fmt.Printf("  %-22s level loaded into the grid\n", grid.KindLoaded)
	fmt.Printf("  %-22s grid cleared\n", grid.KindCleared)
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n",
		ev.Timestamp.Local().Format(timeFormat),
		ev.Source,
		ev.EventType,
		ev.ID)

	// Добавляем детали в зависимости от типа события
	switch ev.EventType {
	case string(grid.KindGridChanged):
		var e grid.GridChanged
		if ev.Decode(&e) == nil {
			fmt.Printf("  Cell: (%d,%d) Occupier: %q\n", e.X, e.Z, e.Occupier)
		}
	case string(grid.KindTileDeployableChanged):
		var e grid.TileDeployableChanged
		if ev.Decode(&e) == nil {
			fmt.Printf("  Cell: (%d,%d) Deployable: %v\n", e.X, e.Z, e.IsDeployable)
		}
	case string(grid.KindTileTypeChanged):
		var e grid.TileTypeChanged
		if ev.Decode(&e) == nil {
			fmt.Printf("  Cell: (%d,%d) %s -> %s\n", e.X, e.Z, e.From, e.To)
		}
	case string(grid.KindLoaded):
		var e grid.Loaded
		if ev.Decode(&e) == nil {
			fmt.Printf("  Level: %q %dx%d cell %.2f gen %d\n", e.Name, e.Width, e.Depth, e.CellSize, e.Generation)
		}
	default:
		fmt.Printf("  Payload: %s\n", strings.TrimSpace(string(ev.Payload)))
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

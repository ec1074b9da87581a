package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/config"
	"github.com/HypocriteSnow/UandUTDD/internal/level"
	"github.com/HypocriteSnow/UandUTDD/internal/storage"
)

func main() {
	var (
		seed     = flag.Int64("seed", time.Now().UnixNano(), "Perlin noise seed")
		width    = flag.Int("width", 20, "Map width in cells")
		depth    = flag.Int("depth", 12, "Map depth in cells")
		cellSize = flag.Float64("cell", 1.0, "Cell size in world units")
		name     = flag.String("name", "", "Level name (default generated-<seed>)")
		out      = flag.String("out", "", "Write YAML to this file (default stdout)")
		store    = flag.Bool("store", false, "Save into the level store instead of a file")
		dataPath = flag.String("data", "", "Level store data path (default BATTLEFIELD_DATA or ./data)")
	)
	flag.Parse()

	cfg, err := level.NewGenerator(*seed).Generate(*width, *depth, *cellSize)
	if err != nil {
		log.Fatalf("❌ Generate failed: %v", err)
	}
	if *name != "" {
		cfg.Name = *name
	}

	report := level.Validate(cfg)
	for _, d := range report.Diagnostics() {
		fmt.Fprintf(os.Stderr, "⚠️  %s\n", d)
	}
	if !report.OK() {
		log.Fatalf("❌ Generated level is invalid: %s", report)
	}

	switch {
	case *store:
		sc := config.StorageConfig{DataPath: *dataPath}
		ls, err := storage.NewLevelStore(sc.GetDataPath(), storage.Options{})
		if err != nil {
			log.Fatalf("❌ Open level store: %v", err)
		}
		defer ls.Close()
		if err := ls.SaveLevel(cfg.Name, cfg); err != nil {
			log.Fatalf("❌ Save level: %v", err)
		}
		fmt.Fprintf(os.Stderr, "✅ Level %q (%dx%d, seed %d) saved to %s\n", cfg.Name, cfg.MapWidth, cfg.MapDepth, *seed, sc.GetDataPath())

	case *out != "":
		if err := level.SaveFile(*out, cfg); err != nil {
			log.Fatalf("❌ Write level: %v", err)
		}
		fmt.Fprintf(os.Stderr, "✅ Level %q (%dx%d, seed %d) written to %s\n", cfg.Name, cfg.MapWidth, cfg.MapDepth, *seed, *out)

	default:
		data, err := level.Marshal(cfg)
		if err != nil {
			log.Fatalf("❌ Encode level: %v", err)
		}
		os.Stdout.Write(data)
	}
}

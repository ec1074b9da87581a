package level

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/HypocriteSnow/UandUTDD/internal/grid/terrain"
	"github.com/HypocriteSnow/UandUTDD/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: bridge
map_width: 6
map_depth: 4
cell_size: 1.5
default_tile_type: Forbidden
goal_point: {x: 5, z: 2}
spawn_points:
  - {x: 0, z: 1}
  - {x: 0, z: 2}
special_tiles:
  - {x: 2, z: 1, tile_type: HighGround, height_level: 1}
  - {x: 3, z: 1, tile_type: Hole, walkable: false, deploy_tag: None}
`

func TestParse_AppliesTileDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "bridge", cfg.Name)
	assert.Equal(t, 6, cfg.MapWidth)
	assert.Equal(t, 1.5, cfg.CellSize)
	assert.Equal(t, terrain.Forbidden, cfg.DefaultTileType)
	assert.Equal(t, vec.Cell{X: 5, Z: 2}, cfg.GoalPoint)
	require.Len(t, cfg.SpawnPoints, 2)
	require.Len(t, cfg.SpecialTiles, 2)

	high := cfg.SpecialTiles[0]
	assert.Equal(t, terrain.HighGround, high.TileType)
	assert.True(t, high.Walkable, "walkable по умолчанию true")
	assert.Equal(t, "All", high.DeployTag, "deploy_tag по умолчанию All")

	hole := cfg.SpecialTiles[1]
	assert.False(t, hole.Walkable)
	assert.Equal(t, "None", hole.DeployTag)
}

func TestParse_UnknownTileType(t *testing.T) {
	_, err := Parse([]byte("default_tile_type: Lava\n"))
	assert.Error(t, err)
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "levels", "arena.yaml")
	cfg := Default()
	cfg.SpecialTiles = []TileData{{X: 1, Z: 1, TileType: terrain.Ground, Walkable: true, DeployTag: "Melee"}}

	require.NoError(t, SaveFile(path, cfg))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "arena", loaded.Name, "имя берётся из файла")
	loaded.Name = ""
	assert.Equal(t, cfg, loaded)
}

func diagnosticCodes(ds []Diagnostic) []string {
	var out []string
	for _, d := range ds {
		out = append(out, d.Code)
	}
	return out
}

func TestValidate(t *testing.T) {
	forbidden := func(x, z int) TileData {
		td := NewTileData(x, z)
		td.TileType = terrain.Forbidden
		td.Walkable = false
		return td
	}

	tests := []struct {
		name     string
		mutate   func(cfg *Config)
		errs     []string
		warnings []string
	}{
		{
			name:   "default level",
			mutate: func(cfg *Config) {},
		},
		{
			name:   "zero width",
			mutate: func(cfg *Config) { cfg.MapWidth = 0 },
			errs:   []string{CodeInvalidSize, CodeGoalOutOfBounds, CodeSpawnOutOfBounds},
		},
		{
			name:   "negative depth",
			mutate: func(cfg *Config) { cfg.MapDepth = -3 },
			errs:   []string{CodeInvalidSize, CodeGoalOutOfBounds, CodeSpawnOutOfBounds},
		},
		{
			name:   "more tiles than allowed",
			mutate: func(cfg *Config) { cfg.MapWidth = MaxTiles/10 + 1 },
			errs:   []string{CodeInvalidSize},
		},
		{
			name:   "tile count overflows int",
			mutate: func(cfg *Config) { cfg.MapWidth = 1 << 32; cfg.MapDepth = 1 << 32 },
			errs:   []string{CodeInvalidSize},
		},
		{
			name:   "zero cell size",
			mutate: func(cfg *Config) { cfg.CellSize = 0 },
			errs:   []string{CodeInvalidCellSize},
		},
		{
			name:   "NaN cell size",
			mutate: func(cfg *Config) { cfg.CellSize = math.NaN() },
			errs:   []string{CodeInvalidCellSize},
		},
		{
			name:   "goal out of bounds",
			mutate: func(cfg *Config) { cfg.GoalPoint = vec.Cell{X: 10, Z: 0} },
			errs:   []string{CodeGoalOutOfBounds},
		},
		{
			name:   "no spawn points",
			mutate: func(cfg *Config) { cfg.SpawnPoints = nil },
			errs:   []string{CodeNoSpawn},
		},
		{
			name:   "spawn out of bounds",
			mutate: func(cfg *Config) { cfg.SpawnPoints = append(cfg.SpawnPoints, vec.Cell{X: -1, Z: 0}) },
			errs:   []string{CodeSpawnOutOfBounds},
		},
		{
			name:   "special tile out of bounds",
			mutate: func(cfg *Config) { cfg.SpecialTiles = []TileData{NewTileData(3, 10)} },
			errs:   []string{CodeTileOutOfBounds},
		},
		{
			name:   "unknown default tile type",
			mutate: func(cfg *Config) { cfg.DefaultTileType = terrain.Type(99) },
			errs:   []string{CodeInvalidTile},
		},
		{
			name: "unknown special tile type",
			mutate: func(cfg *Config) {
				td := NewTileData(2, 2)
				td.TileType = terrain.Type(99)
				cfg.SpecialTiles = []TileData{td}
			},
			errs: []string{CodeInvalidTile},
		},
		{
			name: "negative height",
			mutate: func(cfg *Config) {
				td := NewTileData(2, 2)
				td.HeightLevel = -1
				cfg.SpecialTiles = []TileData{td}
			},
			errs: []string{CodeInvalidTile},
		},
		{
			name: "every check runs",
			mutate: func(cfg *Config) {
				cfg.MapWidth = 0
				cfg.CellSize = -1
				cfg.SpawnPoints = nil
			},
			errs: []string{CodeInvalidSize, CodeInvalidCellSize, CodeGoalOutOfBounds, CodeNoSpawn},
		},
		{
			name: "forbidden spawn and goal only warn",
			mutate: func(cfg *Config) {
				cfg.SpecialTiles = []TileData{forbidden(0, 0), forbidden(9, 9)}
			},
			warnings: []string{CodeSpawnForbidden, CodeGoalForbidden},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			r := Validate(cfg)
			assert.ElementsMatch(t, tt.errs, diagnosticCodes(r.Errors))
			assert.ElementsMatch(t, tt.warnings, diagnosticCodes(r.Warnings))
			assert.Equal(t, len(tt.errs) == 0, r.OK())
		})
	}
}

func TestValidate_NilConfig(t *testing.T) {
	r := Validate(nil)
	assert.False(t, r.OK())
	assert.Equal(t, []string{CodeInvalidSize}, diagnosticCodes(r.Errors))
}

func TestSizeOK(t *testing.T) {
	assert.True(t, SizeOK(1, 1))
	assert.True(t, SizeOK(MaxTiles, 1))
	assert.True(t, SizeOK(1024, MaxTiles/1024))
	assert.False(t, SizeOK(MaxTiles+1, 1))
	assert.False(t, SizeOK(1024, MaxTiles/1024+1))
	assert.False(t, SizeOK(1<<32, 1<<32))
	assert.False(t, SizeOK(0, 5))
	assert.False(t, SizeOK(5, -1))
}

func TestConfig_TileDataAt(t *testing.T) {
	cfg := Default()
	cfg.SpecialTiles = []TileData{{X: 4, Z: 4, TileType: terrain.HighGround, HeightLevel: 1, Walkable: true, DeployTag: "Ranged"}}

	spawn := cfg.TileDataAt(0, 0)
	assert.Equal(t, terrain.Ground, spawn.TileType)
	assert.True(t, spawn.Walkable)

	goal := cfg.TileDataAt(9, 9)
	assert.Equal(t, terrain.Ground, goal.TileType)

	plain := cfg.TileDataAt(5, 5)
	assert.Equal(t, terrain.Forbidden, plain.TileType)
	assert.False(t, plain.Walkable)

	special := cfg.TileDataAt(4, 4)
	assert.Equal(t, "Ranged", special.DeployTag)
	assert.Equal(t, 1, special.HeightLevel)
}

func TestConfig_SetTileData(t *testing.T) {
	cfg := Default()

	td := NewTileData(0, 0)
	td.TileType = terrain.HighGround
	td.HeightLevel = 1
	cfg.SetTileData(3, 2, &td)
	require.Len(t, cfg.SpecialTiles, 1)
	assert.Equal(t, 3, cfg.SpecialTiles[0].X, "координаты берутся из аргументов")
	assert.Equal(t, 2, cfg.SpecialTiles[0].Z)

	td.DeployTag = "Ranged"
	cfg.SetTileData(3, 2, &td)
	require.Len(t, cfg.SpecialTiles, 1, "повторная запись обновляет запись")
	assert.Equal(t, "Ranged", cfg.SpecialTiles[0].DeployTag)

	// Тип по умолчанию с нулевой высотой не хранится
	def := NewTileData(3, 2)
	def.TileType = terrain.Forbidden
	cfg.SetTileData(3, 2, &def)
	assert.Empty(t, cfg.SpecialTiles)

	cfg.SetTileData(1, 1, &td)
	cfg.SetTileData(1, 1, nil)
	assert.Empty(t, cfg.SpecialTiles)
}

func TestConfig_CloneIsDeep(t *testing.T) {
	cfg := Default()
	cfg.SpecialTiles = []TileData{NewTileData(1, 1)}

	cp := cfg.Clone()
	cp.SpawnPoints[0].X = 7
	cp.SpecialTiles[0].DeployTag = "changed"

	assert.Equal(t, 0, cfg.SpawnPoints[0].X)
	assert.Equal(t, "All", cfg.SpecialTiles[0].DeployTag)
}

func TestRegistry_CachesAndCopies(t *testing.T) {
	loads := 0
	src := SourceFunc(func(key string) (*Config, error) {
		loads++
		if key == "missing" {
			return nil, errors.New("not found")
		}
		cfg := Default()
		cfg.Name = key
		return cfg, nil
	})

	reg, err := NewRegistry(src, 8)
	require.NoError(t, err)
	defer reg.Close()

	first, err := reg.Get("alpha")
	require.NoError(t, err)
	first.MapWidth = 99

	second, err := reg.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, 10, second.MapWidth, "кеш не должен видеть изменения вызывающего")
	assert.Equal(t, 1, loads)

	_, err = reg.Get("missing")
	assert.Error(t, err)

	reg.Invalidate("alpha")
	_, err = reg.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, 3, loads)

	assert.Error(t, reg.Preload([]string{"beta", "missing"}))
}

func TestGenerator_Deterministic(t *testing.T) {
	a, err := NewGenerator(42).Generate(12, 8, 1.0)
	require.NoError(t, err)
	b, err := NewGenerator(42).Generate(12, 8, 1.0)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.True(t, Validate(a).OK(), Validate(a).String())
	assert.Equal(t, vec.Cell{X: 11, Z: 4}, a.GoalPoint)

	_, isSpecial := a.SpecialTile(a.GoalPoint.X, a.GoalPoint.Z)
	assert.False(t, isSpecial, "цель генерируется проходимой")

	for _, td := range a.SpecialTiles {
		assert.NotEqual(t, terrain.Ground, td.TileType, "Ground - тип по умолчанию, не хранится")
	}

	_, err = NewGenerator(1).Generate(0, 5, 1.0)
	assert.Error(t, err)
}

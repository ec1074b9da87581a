package storage

import (
	"testing"

	"github.com/HypocriteSnow/UandUTDD/internal/grid/terrain"
	"github.com/HypocriteSnow/UandUTDD/internal/level"
	"github.com/HypocriteSnow/UandUTDD/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *LevelStore {
	t.Helper()
	store, err := NewLevelStore(t.TempDir(), Options{})
	require.NoError(t, err, "не удалось создать хранилище")
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleLevel() *level.Config {
	cfg := level.Default()
	cfg.MapWidth = 12
	cfg.GoalPoint = vec.Cell{X: 11, Z: 5}
	cfg.SpawnPoints = []vec.Cell{{X: 0, Z: 4}, {X: 0, Z: 5}}
	cfg.SpecialTiles = []level.TileData{
		{X: 3, Z: 3, TileType: terrain.HighGround, HeightLevel: 1, Walkable: true, DeployTag: "Ranged"},
		{X: 6, Z: 5, TileType: terrain.Ground, Walkable: true, DeployTag: "Melee"},
	}
	return cfg
}

func TestLevelStore_SaveAndLoad(t *testing.T) {
	store := setupTestStore(t)

	cfg := sampleLevel()
	require.NoError(t, store.SaveLevel("bridge", cfg))

	loaded, err := store.LoadLevel("bridge")
	require.NoError(t, err)
	assert.Equal(t, "bridge", loaded.Name)

	cfg.Name = "bridge"
	assert.Equal(t, cfg, loaded)
}

func TestLevelStore_Overwrite(t *testing.T) {
	store := setupTestStore(t)

	cfg := sampleLevel()
	require.NoError(t, store.SaveLevel("arena", cfg))
	cfg.CellSize = 2.5
	require.NoError(t, store.SaveLevel("arena", cfg))

	loaded, err := store.LoadLevel("arena")
	require.NoError(t, err)
	assert.Equal(t, 2.5, loaded.CellSize)
}

func TestLevelStore_NotFoundAndInvalid(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.LoadLevel("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.LoadLevel("")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.ErrorIs(t, store.SaveLevel("a:b", sampleLevel()), ErrInvalidName)

	bad := sampleLevel()
	bad.SpawnPoints = nil
	assert.Error(t, store.SaveLevel("bad", bad), "невалидный уровень не сохраняется")
	_, err = store.LoadLevel("bad")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLevelStore_ListAndDelete(t *testing.T) {
	store := setupTestStore(t)

	for _, name := range []string{"gamma", "alpha", "beta"} {
		require.NoError(t, store.SaveLevel(name, sampleLevel()))
	}

	list, err := store.ListLevels()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "gamma", list[2].Name)
	assert.Positive(t, list[0].Size)

	require.NoError(t, store.DeleteLevel("beta"))
	require.NoError(t, store.DeleteLevel("beta"))

	list, err = store.ListLevels()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestLevelStore_Persists(t *testing.T) {
	dir := t.TempDir()

	store, err := NewLevelStore(dir, Options{})
	require.NoError(t, err)
	require.NoError(t, store.SaveLevel("keep", sampleLevel()))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "повторное закрытие безопасно")

	_, err = store.LoadLevel("keep")
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := NewLevelStore(dir, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	cfg, err := reopened.LoadLevel("keep")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MapWidth)
}

func TestLevelStore_AsRegistrySource(t *testing.T) {
	store, err := NewLevelStore("", Options{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveLevel("cached", sampleLevel()))

	reg, err := level.NewRegistry(store, 4)
	require.NoError(t, err)
	defer reg.Close()

	cfg, err := reg.Get("cached")
	require.NoError(t, err)
	assert.Equal(t, "cached", cfg.Name)
	assert.True(t, level.Validate(cfg).OK())
}

func TestCodec_RoundTrip(t *testing.T) {
	var c codec
	defer c.close()

	data := []byte("map_width: 10\nmap_depth: 10\n")
	packed, err := c.compress(data)
	require.NoError(t, err)

	out, err := c.decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	_, err = c.decompress([]byte("not zstd"))
	assert.Error(t, err)
}

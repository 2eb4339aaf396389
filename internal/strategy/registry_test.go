package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlevault/internal/market"
)

const profileYAML = `
profiles:
  btc-grid:
    description: conservative grid
    kind: level_grid
    params:
      max_levels: 4
      profit_target_percent: 0.85
    schema:
      type: object
      properties:
        max_levels:
          type: number
          minimum: 1
        profit_target_percent:
          type: number
  steady-dca:
    kind: dca
    params:
      interval_candles: 30
`

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryLoadsAndBuilds(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, profileYAML))
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Len(t, snap.Profiles, 2)

	eng, err := r.Build("btc-grid")
	require.NoError(t, err)
	assert.Equal(t, KindLevelGrid, eng.Kind())

	g, ok := eng.(*LevelGrid)
	require.True(t, ok)
	assert.Equal(t, 4, g.cfg.MaxLevels)

	eng, err = r.Build("steady-dca")
	require.NoError(t, err)
	assert.Equal(t, KindDCA, eng.Kind())
}

func TestRegistryUnknownProfile(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, profileYAML))
	require.NoError(t, err)

	_, err = r.Build("nope")
	assert.ErrorIs(t, err, market.ErrUnknownStrategyType)
}

func TestRegistryDropsUnknownKind(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, `
profiles:
  bad:
    kind: momentum
  good:
    kind: dca
`))
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Len(t, snap.Profiles, 1)
	_, ok := r.Profile("good")
	assert.True(t, ok)
}

func TestRegistrySchemaRejectsBadParams(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, `
profiles:
  strict:
    kind: level_grid
    params:
      max_levels: 0
    schema:
      type: object
      properties:
        max_levels:
          type: number
          minimum: 1
`))
	require.NoError(t, err)

	_, err = r.Build("strict")
	assert.Error(t, err)
}

package performance

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfileTypes(t *testing.T) {
	got, err := ParseProfileTypes([]string{"CPU", " memory", "cpu"})
	require.NoError(t, err)
	assert.Equal(t, []ProfileType{CPUProfile, MemoryProfile}, got)

	all, err := ParseProfileTypes([]string{"all"})
	require.NoError(t, err)
	assert.Len(t, all, 6)

	_, err = ParseProfileTypes([]string{"flame"})
	assert.Error(t, err)
}

func TestProfilerWritesRequestedProfiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")
	p := NewProfiler(ProfileConfig{
		Types:     []ProfileType{CPUProfile, MemoryProfile, GoroutineProfile},
		OutputDir: dir,
	}, nil)
	require.NoError(t, p.Start())

	sink := 0
	for i := 0; i < 1e5; i++ {
		sink += i % 7
	}
	_ = sink

	files, err := p.Stop()
	require.NoError(t, err)
	require.Len(t, files, 3)
	for _, f := range files {
		assert.FileExists(t, f)
		assert.Equal(t, dir, filepath.Dir(f))
	}
	assert.Contains(t, filepath.Base(files[0]), "cpu_")
}

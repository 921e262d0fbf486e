package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 100, cfg.MaxTransformIterations)
	assert.Equal(t, 1000, cfg.PendingHighWater)
	assert.Equal(t, 500, cfg.PendingLowWater)
	assert.Equal(t, 10, cfg.MaxBranchDepth)
	assert.False(t, cfg.BestEffortLengthMerge)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("COLLAB_LOCK_TIMEOUT", "250ms")
	t.Setenv("COLLAB_BEST_EFFORT_LENGTH_MERGE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.True(t, cfg.BestEffortLengthMerge)
}

func TestLoadRejectsInvertedWaterMarks(t *testing.T) {
	t.Setenv("COLLAB_PENDING_HIGH_WATER", "10")
	t.Setenv("COLLAB_PENDING_LOW_WATER", "20")

	_, err := Load()
	assert.Error(t, err)
}

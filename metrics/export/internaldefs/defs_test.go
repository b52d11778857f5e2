package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/stretchr/testify/assert"
)

func TestCounterDefsCoverEveryCounter(t *testing.T) {
	snapshot := authcore.NewMetrics(authcore.MetricsConfig{Enabled: true}).Snapshot()

	seen := map[authcore.MetricID]bool{}
	names := map[string]bool{}
	for _, def := range CounterDefs {
		assert.False(t, seen[def.ID], "duplicate id %d", def.ID)
		assert.False(t, names[def.Name], "duplicate name %s", def.Name)
		assert.True(t, strings.HasPrefix(def.Name, "authcore_"))
		assert.True(t, strings.HasSuffix(def.Name, "_total"))
		seen[def.ID] = true
		names[def.Name] = true
	}
	for id := range snapshot.Counters {
		if id == authcore.MetricValidateLatency {
			continue
		}
		assert.True(t, seen[id], "metric %d has no exported name", id)
	}
}

func TestBuckets(t *testing.T) {
	assert.Len(t, HistogramBoundSuffix, len(HistogramBounds))

	n := NormalizeBuckets([]uint64{1, 2, 3})
	assert.Equal(t, [8]uint64{1, 2, 3}, n)
	assert.Equal(t, [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}, CumulativeBuckets(n))

	long := NormalizeBuckets([]uint64{1, 1, 1, 1, 1, 1, 1, 1, 9})
	assert.Equal(t, uint64(8), CumulativeBuckets(long)[7])
}

package main

import (
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(1), percentile(samples, 0))
	assert.Equal(t, time.Duration(5), percentile(samples, 50))
	assert.Equal(t, time.Duration(10), percentile(samples, 100))
	assert.Zero(t, percentile(nil, 50))
}

func TestRunPhaseCountsEveryCall(t *testing.T) {
	var calls int64
	stats := runPhase(100, 4, func(i int, _ *rand.Rand) error {
		atomic.AddInt64(&calls, 1)
		if i%10 == 0 {
			return errors.New("boom")
		}
		return nil
	})

	assert.Equal(t, int64(100), calls)
	assert.Equal(t, 100, stats.ops)
	assert.Equal(t, int64(10), stats.failures)
	assert.LessOrEqual(t, stats.p50, stats.p99)
}

package xslru

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/slrukit/pkg/observability/xlog"
)

func TestNew_Validation(t *testing.T) {
	rec := newRecorder()
	valid := Config[string, string]{Capacity: 4, Compute: rec.compute, Dispose: rec.dispose}

	tests := []struct {
		name string
		cfg  func(Config[string, string]) Config[string, string]
		opts []Option
		want error
	}{
		{"zero capacity", func(c Config[string, string]) Config[string, string] { c.Capacity = 0; return c }, nil, ErrInvalidCapacity},
		{"negative capacity", func(c Config[string, string]) Config[string, string] { c.Capacity = -1; return c }, nil, ErrInvalidCapacity},
		{"capacity too large", func(c Config[string, string]) Config[string, string] { c.Capacity = maxCapacity + 1; return c }, nil, ErrCapacityExceedsMax},
		{"nil compute", func(c Config[string, string]) Config[string, string] { c.Compute = nil; return c }, nil, ErrNilCompute},
		{"nil dispose", func(c Config[string, string]) Config[string, string] { c.Dispose = nil; return c }, nil, ErrNilDispose},
		{"negative ratio", nil, []Option{WithProtectedRatio(-0.1)}, ErrInvalidProtectedRatio},
		{"ratio above one", nil, []Option{WithProtectedRatio(1.1)}, ErrInvalidProtectedRatio},
		{"NaN ratio", nil, []Option{WithProtectedRatio(math.NaN())}, ErrInvalidProtectedRatio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			if tt.cfg != nil {
				cfg = tt.cfg(cfg)
			}
			c, err := New(cfg, tt.opts...)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, c)
		})
	}

	t.Run("boundary ratios and nil options", func(t *testing.T) {
		for _, r := range []float64{0, 1} {
			c, err := New(valid, WithProtectedRatio(r), nil, WithName(""), WithLogger(nil), WithObserver(nil))
			require.NoError(t, err)
			assert.Equal(t, DefaultName, c.opts.name)
			assert.NotNil(t, c.opts.log())
		}
	})
}

func TestSplitCapacity(t *testing.T) {
	tests := []struct {
		capacity            int
		ratio               float64
		probation, protectd int
	}{
		{4, 0.5, 2, 2},
		{3, 0.5, 2, 1},
		{1, 0.5, 1, 0},
		{10, 0, 10, 0},
		{10, 0.2, 8, 2},
		{10, 1, 1, 9},
		{1, 1, 1, 0},
	}
	for _, tt := range tests {
		p, q := splitCapacity(tt.capacity, tt.ratio)
		assert.Equal(t, tt.probation, p, "probation(%d, %v)", tt.capacity, tt.ratio)
		assert.Equal(t, tt.protectd, q, "protected(%d, %v)", tt.capacity, tt.ratio)
		assert.Equal(t, tt.capacity, p+q)
	}
}

func TestUse_ComputesOnceAndHits(t *testing.T) {
	c, rec := newTestCache(t, 4)

	var seen []string
	for range 3 {
		err := c.Use(context.Background(), "a", func(_ context.Context, v string) error {
			seen = append(seen, v)
			return nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"v:a", "v:a", "v:a"}, seen)
	assert.Equal(t, 1, rec.computeCount("a"))
	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.Equal(t, 1, c.Len())

	st := c.Stats()
	assert.Equal(t, uint64(2), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.InDelta(t, 2.0/3.0, st.HitRatio(), 1e-9)
	assert.Zero(t, Stats{}.HitRatio())
}

func TestUse_InvalidArguments(t *testing.T) {
	c, rec := newTestCache(t, 2)

	var nilCtx context.Context
	assert.ErrorIs(t, c.Use(nilCtx, "a", func(context.Context, string) error { return nil }), ErrNilContext)
	assert.ErrorIs(t, c.Use(context.Background(), "a", nil), ErrNilFunc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Use(ctx, "a", func(context.Context, string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rec.computeCount("a"))
}

func TestUseWithResult(t *testing.T) {
	c, _ := newTestCache(t, 2)

	n, err := UseWithResult(context.Background(), c, "abc", func(_ context.Context, v string) (int, error) {
		return len(v), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = UseWithResult(context.Background(), c, "abc", func(context.Context, string) (int, error) {
		return 0, errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	_, err = UseWithResult[string, string, int](context.Background(), c, "abc", nil)
	assert.ErrorIs(t, err, ErrNilFunc)
}

// 容量 4、比例 0.5：A、B 进入试用段，A 再次访问后提升；
// 随后插入 C、D、E，B 被淘汰而 A 保留。
func TestEviction_PromotedKeySurvives(t *testing.T) {
	c, rec := newTestCache(t, 4, WithProtectedRatio(0.5))

	touch(t, c, "A", "B")
	touch(t, c, "A")
	at, ok := c.placeOf("A")
	require.True(t, ok)
	assert.Equal(t, inProtected, at)

	touch(t, c, "C", "D", "E")

	assert.True(t, c.Contains("A"))
	assert.False(t, c.Contains("B"))
	assert.LessOrEqual(t, c.Len(), 4)
	assert.Equal(t, []string{"v:B", "v:C"}, rec.disposedValues())
	assert.Equal(t, 1, rec.computeCount("A"))
}

func TestEviction_ProtectedOutlivesEqualRecency(t *testing.T) {
	// 保护段容量 2：被提升的 key 至少能挺过与保护段容量相当的新 key 插入，
	// 同等新近度但只访问一次的 key 则被挤出。
	c, _ := newTestCache(t, 4, WithProtectedRatio(0.5))

	touch(t, c, "once", "twice", "twice")
	touch(t, c, "n1", "n2", "n3", "n4")

	assert.True(t, c.Contains("twice"))
	assert.False(t, c.Contains("once"))
}

func TestEviction_DemotionGoesToProbationMRU(t *testing.T) {
	c, rec := newTestCache(t, 4, WithProtectedRatio(0.5))

	touch(t, c, "a", "a", "b", "b", "c", "c")

	at, ok := c.placeOf("a")
	require.True(t, ok)
	assert.Equal(t, inProbation, at, "protected overflow demotes its LRU entry")
	assert.Equal(t, []string{"a", "b", "c"}, c.Keys())
	assert.Empty(t, rec.disposedValues(), "demotion must not dispose")

	st := c.Stats()
	assert.Equal(t, uint64(3), st.Promotions)
	assert.Equal(t, uint64(1), st.Demotions)

	// 降级条目仍是活跃条目，之后按试用段 LRU 顺序正常淘汰。
	touch(t, c, "d")
	assert.True(t, c.Contains("a"))
	touch(t, c, "e")
	assert.False(t, c.Contains("a"))
	assert.Equal(t, []string{"v:a"}, rec.disposedValues())
}

func TestEviction_RatioZeroIsPlainLRU(t *testing.T) {
	c, rec := newTestCache(t, 3, WithProtectedRatio(0))

	touch(t, c, "a", "b", "c", "a", "d")

	assert.Equal(t, []string{"c", "a", "d"}, c.Keys())
	assert.Equal(t, []string{"v:b"}, rec.disposedValues())
	assert.Zero(t, c.Stats().Promotions)
	at, _ := c.placeOf("a")
	assert.Equal(t, inProbation, at)
}

func TestEviction_RatioOneKeepsOneProbationSlot(t *testing.T) {
	c, rec := newTestCache(t, 3, WithProtectedRatio(1))

	touch(t, c, "a", "a", "b", "b")
	touch(t, c, "c", "d", "e")

	assert.True(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("e"))
	assert.Equal(t, []string{"v:c", "v:d"}, rec.disposedValues())
	assert.Equal(t, 3, c.Len())
}

func TestCapacityInvariant(t *testing.T) {
	for _, ratio := range []float64{0, 0.2, 0.5, 0.8, 1} {
		c, rec := newTestCache(t, 5, WithProtectedRatio(ratio))
		for i := range 500 {
			key := string(rune('a' + (i*7+i/3)%13))
			touch(t, c, key)
			require.LessOrEqual(t, c.Len(), 5, "ratio %v step %d", ratio, i)
		}
		st := c.Stats()
		assert.Equal(t, st.Evictions, st.Disposals)
		assertDisposedOnce(t, rec)
	}
}

func assertDisposedOnce(t *testing.T, rec *recorder) {
	t.Helper()
	// 同一 key 可被多次计算，但每次计算的值只能销毁一次：销毁次数不超过计算次数。
	counts := make(map[string]int)
	for _, v := range rec.disposedValues() {
		counts[v]++
	}
	for v, n := range counts {
		assert.LessOrEqual(t, n, rec.computeCount(v[len("v:"):]), "value %s", v)
	}
}

// 容量 1：k1 被持有时插入 k2 淘汰 k1，销毁推迟到持有者返回。
func TestDeferredDisposal_EvictedWhilePinned(t *testing.T) {
	c, rec := newTestCache(t, 1)

	release := pin(t, c, "k1")
	touch(t, c, "k2")

	assert.False(t, c.Contains("k1"))
	assert.True(t, c.Contains("k2"))
	assert.Empty(t, rec.disposedValues(), "pinned entry must not be disposed")
	assert.Equal(t, 1, c.Stats().Pending)

	require.NoError(t, release())
	assert.Equal(t, []string{"v:k1"}, rec.disposedValues())
	assert.Zero(t, c.Stats().Pending)
}

func TestDeferredDisposal_MultipleHolders(t *testing.T) {
	c, rec := newTestCache(t, 1)

	r1 := pin(t, c, "k")
	r2 := pin(t, c, "k")
	c.Clear()

	require.NoError(t, r1())
	assert.Empty(t, rec.disposedValues())
	require.NoError(t, r2())
	assert.Equal(t, []string{"v:k"}, rec.disposedValues())
}

func TestClear_PinnedAndUnpinned(t *testing.T) {
	c, rec := newTestCache(t, 4)

	touch(t, c, "free")
	release := pin(t, c, "held")

	c.Clear()
	assert.Zero(t, c.Len())
	assert.False(t, c.Contains("free"))
	assert.False(t, c.Contains("held"))
	assert.Equal(t, []string{"v:free"}, rec.disposedValues())

	require.NoError(t, release())
	assert.Equal(t, []string{"v:free", "v:held"}, rec.disposedValues())

	// Clear 之后再访问会重新计算。
	touch(t, c, "free")
	assert.Equal(t, 2, rec.computeCount("free"))
}

func TestCleanup_LeavesPinnedInPlace(t *testing.T) {
	// 容量 6、比例 0.5 时 probation 可容纳 3 项，a、b、c 均驻留。
	c, rec := newTestCache(t, 6)

	touch(t, c, "a", "b")
	release := pin(t, c, "c")

	assert.Equal(t, 2, c.Cleanup())
	assert.Equal(t, []string{"c"}, c.Keys())
	assert.ElementsMatch(t, []string{"v:a", "v:b"}, rec.disposedValues())

	require.NoError(t, release())
	assert.True(t, c.Contains("c"), "cleanup does not evict pinned entries")
	assert.Equal(t, 1, c.Cleanup())
	assert.Zero(t, c.Cleanup())
	assert.Zero(t, c.Len())
	assertDisposedOnce(t, rec)
}

func TestCompute_ErrorNotCached(t *testing.T) {
	fail := true
	var disposed int
	c, err := New(Config[string, string]{
		Capacity: 2,
		Compute: func(_ context.Context, key string) (string, error) {
			if fail {
				return "", errBoom
			}
			return key, nil
		},
		Dispose: func(string, string) error { disposed++; return nil },
	}, WithLogger(xlog.Discard()))
	require.NoError(t, err)

	called := false
	err = c.Use(context.Background(), "k", func(context.Context, string) error { called = true; return nil })
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, called)
	assert.False(t, c.Contains("k"))
	assert.Zero(t, c.Len())
	assert.Equal(t, uint64(1), c.Stats().ComputeFailures)

	fail = false
	require.NoError(t, c.Use(context.Background(), "k", func(context.Context, string) error { return nil }))
	assert.True(t, c.Contains("k"))
	assert.Zero(t, disposed)
}

func TestCompute_PanicBecomesError(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := xlog.New().SetOutput(&buf).SetFormat("json").Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })

	c, err := New(Config[string, string]{
		Capacity: 2,
		Compute:  func(context.Context, string) (string, error) { panic("bad grammar") },
		Dispose:  func(string, string) error { return nil },
	}, WithLogger(logger), WithName("grammars"))
	require.NoError(t, err)

	err = c.Use(context.Background(), "k", func(context.Context, string) error { return nil })
	assert.ErrorIs(t, err, ErrComputePanic)
	assert.ErrorContains(t, err, "bad grammar")
	assert.False(t, c.Contains("k"))
	assert.Contains(t, buf.String(), "compute panicked")
	assert.Contains(t, buf.String(), `"component":"grammars"`)
}

func TestBlock_ErrorAndPanicReleasePin(t *testing.T) {
	c, rec := newTestCache(t, 2)

	err := c.Use(context.Background(), "a", func(context.Context, string) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, c.Contains("a"), "entry stays cached after a block failure")

	assert.PanicsWithValue(t, "block", func() {
		_ = c.Use(context.Background(), "a", func(context.Context, string) error { panic("block") })
	})

	assert.Equal(t, 1, c.Cleanup(), "pin must be released after error and panic")
	assert.Equal(t, []string{"v:a"}, rec.disposedValues())
}

func TestDispose_FaultIsolation(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := xlog.New().SetOutput(&buf).SetFormat("json").Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })

	c, rec := newTestCache(t, 8, WithLogger(logger))
	rec.failDispose["bad"] = true
	rec.panicDispose["worse"] = true

	t.Run("cleanup", func(t *testing.T) {
		touch(t, c, "bad", "worse", "good")
		assert.NotPanics(t, func() { assert.Equal(t, 3, c.Cleanup()) })
		assert.ElementsMatch(t, []string{"v:bad", "v:worse", "v:good"}, rec.disposedValues())
		assert.Zero(t, c.Len())
	})

	t.Run("clear", func(t *testing.T) {
		touch(t, c, "bad", "worse", "good")
		assert.NotPanics(t, c.Clear)
		assert.Len(t, rec.disposedValues(), 6)
	})

	t.Run("eviction does not reach the caller", func(t *testing.T) {
		small, rec := newTestCache(t, 1, WithLogger(logger))
		rec.panicDispose["x"] = true
		touch(t, small, "x")
		require.NoError(t, small.Use(context.Background(), "y", func(context.Context, string) error { return nil }))
		assert.Equal(t, []string{"v:x"}, rec.disposedValues())
	})

	st := c.Stats()
	assert.Equal(t, uint64(6), st.Disposals)
	assert.Equal(t, uint64(4), st.DisposeFailures)
	assert.Contains(t, buf.String(), "dispose failed")
	assert.Contains(t, buf.String(), ErrDisposePanic.Error())
	assert.Contains(t, buf.String(), errBoom.Error())
}

func TestResize(t *testing.T) {
	c, rec := newTestCache(t, 4, WithProtectedRatio(0.5))
	touch(t, c, "c", "c", "d", "d", "a", "b")
	require.Equal(t, []string{"a", "b", "c", "d"}, c.Keys())

	require.NoError(t, c.Resize(2))
	assert.Equal(t, 2, c.Capacity())
	assert.Equal(t, []string{"c", "d"}, c.Keys())
	assert.Equal(t, []string{"v:a", "v:b"}, rec.disposedValues())

	require.NoError(t, c.Resize(6))
	touch(t, c, "e", "f", "g")
	assert.Equal(t, []string{"e", "f", "g", "d"}, c.Keys())
	assert.Equal(t, 6, c.Stats().Capacity)

	assert.ErrorIs(t, c.Resize(0), ErrInvalidCapacity)
	assert.ErrorIs(t, c.Resize(maxCapacity+1), ErrCapacityExceedsMax)
}

func TestClose(t *testing.T) {
	c, rec := newTestCache(t, 4)
	touch(t, c, "a")
	release := pin(t, c, "b")

	require.NoError(t, c.Close())
	assert.Equal(t, []string{"v:a"}, rec.disposedValues())
	assert.Zero(t, c.Len())

	err := c.Use(context.Background(), "a", func(context.Context, string) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Close(), ErrClosed)
	assert.ErrorIs(t, c.Resize(8), ErrClosed)

	require.NoError(t, release())
	assert.Equal(t, []string{"v:a", "v:b"}, rec.disposedValues())
}

func TestPlaceString(t *testing.T) {
	assert.Equal(t, "probation", inProbation.String())
	assert.Equal(t, "protected", inProtected.String())
	assert.Equal(t, "detached", detached.String())
}

package xslru

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omeyang/slrukit/pkg/observability/xlog"
)

var errBoom = errors.New("boom")

// recorder 记录 compute 与 dispose 调用，供断言使用。
type recorder struct {
	mu       sync.Mutex
	computes map[string]int
	disposed []string
	// failDispose 中的 key 销毁时返回错误，panicDispose 中的 key 销毁时 panic。
	failDispose  map[string]bool
	panicDispose map[string]bool
}

func newRecorder() *recorder {
	return &recorder{
		computes:     make(map[string]int),
		failDispose:  make(map[string]bool),
		panicDispose: make(map[string]bool),
	}
}

func (r *recorder) compute(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	r.computes[key]++
	r.mu.Unlock()
	return "v:" + key, nil
}

func (r *recorder) dispose(key, value string) error {
	r.mu.Lock()
	r.disposed = append(r.disposed, value)
	fail, boom := r.failDispose[key], r.panicDispose[key]
	r.mu.Unlock()
	if boom {
		panic("dispose " + key)
	}
	if fail {
		return errBoom
	}
	return nil
}

func (r *recorder) computeCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.computes[key]
}

func (r *recorder) disposedValues() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.disposed...)
}

func newTestCache(t *testing.T, capacity int, opts ...Option) (*Cache[string, string], *recorder) {
	t.Helper()
	rec := newRecorder()
	opts = append([]Option{WithLogger(xlog.Discard())}, opts...)
	c, err := New(Config[string, string]{
		Capacity: capacity,
		Compute:  rec.compute,
		Dispose:  rec.dispose,
	}, opts...)
	require.NoError(t, err)
	return c, rec
}

// touch 以空回调访问 key。
func touch(t *testing.T, c *Cache[string, string], keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, c.Use(context.Background(), k, func(context.Context, string) error { return nil }))
	}
}

// pin 在后台 goroutine 中持有 key，返回释放函数；释放函数等待 Use 返回并给出其错误。
func pin(t *testing.T, c *Cache[string, string], key string) (release func() error) {
	t.Helper()
	held := make(chan struct{})
	unpin := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Use(context.Background(), key, func(context.Context, string) error {
			close(held)
			<-unpin
			return nil
		})
	}()
	select {
	case <-held:
	case err := <-done:
		t.Fatalf("pin %q: Use returned early: %v", key, err)
	}
	return func() error {
		close(unpin)
		return <-done
	}
}

func waiters(c *Cache[string, string], key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.inflight[key]; ok {
		return cl.waiters
	}
	return 0
}

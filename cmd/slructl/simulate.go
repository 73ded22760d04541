package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/cespare/xxhash/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/slrukit/pkg/cache/xslru"
	"github.com/omeyang/slrukit/pkg/observability/xlog"
	"github.com/omeyang/slrukit/pkg/observability/xmetrics"
)

// errTransient 是模拟的可重试计算失败。
var errTransient = errors.New("simulated transient compute failure")

// errInvariant 表示销毁语义校验失败。
var errInvariant = errors.New("disposal invariant violated")

// payload 是模拟负载中的缓存值，记录自身是否已被销毁。
type payload struct {
	key      uint64
	serial   uint64
	disposed atomic.Bool
}

// backend 是 simulate 使用的缓存操作集合，由 *xslru.Cache 与 *xslru.Sharded 实现。
type backend interface {
	Use(ctx context.Context, key uint64, fn func(ctx context.Context, p *payload) error) error
	Len() int
	Stats() xslru.Stats
	Close() error
}

type simulateOptions struct {
	keys         uint64
	ops          int
	workers      int
	capacity     int
	ratio        float64
	skew         float64
	shards       int
	computeDelay time.Duration
	hold         time.Duration
	failRate     float64
	retries      uint
	seed         uint64
	metrics      bool
}

func (o simulateOptions) validate() error {
	switch {
	case o.keys == 0:
		return usagef("--keys 必须大于 0")
	case o.ops <= 0:
		return usagef("--ops 必须大于 0")
	case o.workers <= 0:
		return usagef("--workers 必须大于 0")
	case o.skew <= 1:
		return usagef("--skew 必须大于 1，当前 %g", o.skew)
	case o.failRate < 0 || o.failRate >= 1:
		return usagef("--fail-rate 取值 [0, 1)，当前 %g", o.failRate)
	case o.computeDelay < 0 || o.hold < 0:
		return usagef("--compute-delay 与 --hold 不能为负")
	}
	return nil
}

// simulateReport 是 simulate 的 JSON 输出。
type simulateReport struct {
	Ops             int64            `json:"ops"`
	Failed          int64            `json:"failed"`
	Retries         int64            `json:"retries"`
	Computed        int64            `json:"computed"`
	Disposed        int64            `json:"disposed"`
	DoubleDisposals int64            `json:"double_disposals"`
	UseAfterDispose int64            `json:"use_after_dispose"`
	Elapsed         string           `json:"elapsed"`
	HitRatio        float64          `json:"hit_ratio"`
	Stats           xslru.Stats      `json:"stats"`
	Metrics         map[string]int64 `json:"metrics,omitempty"`
}

func createSimulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "对缓存施加并发负载，校验每个值至多销毁一次并输出统计（JSON）",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "keys", Usage: "key 空间大小", Value: 1000},
			&cli.IntFlag{Name: "ops", Usage: "总操作数", Value: 10000},
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "并发 worker 数", Value: 8},
			&cli.IntFlag{Name: "capacity", Usage: "缓存容量（0 使用配置文件 cache.capacity）"},
			&cli.FloatFlag{Name: "ratio", Usage: "保护段比例（负值使用配置文件 cache.protected_ratio）", Value: -1},
			&cli.FloatFlag{Name: "skew", Usage: "zipf 偏斜参数 s（> 1）", Value: 1.2},
			&cli.IntFlag{Name: "shards", Usage: "分片数（0 不分片，需为 2 的幂）"},
			&cli.DurationFlag{Name: "compute-delay", Usage: "每次计算耗时"},
			&cli.DurationFlag{Name: "hold", Usage: "每次 Use 持有值的时间"},
			&cli.FloatFlag{Name: "fail-rate", Usage: "计算失败概率 [0, 1)"},
			&cli.UintFlag{Name: "retries", Usage: "计算失败后的重试次数", Value: 3},
			&cli.Uint64Flag{Name: "seed", Usage: "随机种子（0 随机）"},
			&cli.BoolFlag{Name: "metrics", Usage: "输出 OTel 指标汇总"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			opts := simulateOptions{
				keys:         cmd.Uint64("keys"),
				ops:          int(cmd.Int("ops")),
				workers:      int(cmd.Int("workers")),
				capacity:     int(cmd.Int("capacity")),
				ratio:        cmd.Float("ratio"),
				skew:         cmd.Float("skew"),
				shards:       int(cmd.Int("shards")),
				computeDelay: cmd.Duration("compute-delay"),
				hold:         cmd.Duration("hold"),
				failRate:     cmd.Float("fail-rate"),
				retries:      uint(cmd.Uint("retries")),
				seed:         cmd.Uint64("seed"),
				metrics:      cmd.Bool("metrics"),
			}
			if opts.capacity == 0 {
				opts.capacity = e.settings.Cache.Capacity
			}
			if opts.ratio < 0 {
				opts.ratio = e.settings.Cache.ProtectedRatio
			}
			if opts.seed == 0 {
				opts.seed = rand.Uint64()
			}
			if err := opts.validate(); err != nil {
				return err
			}

			report, err := simulate(ctx, opts, e.logger)
			if report != nil {
				enc := json.NewEncoder(cmd.Root().Writer)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(report); encErr != nil {
					return errors.Join(err, encErr)
				}
			}
			return err
		},
	}
}

// simulation 保存一次模拟运行的共享计数。
type simulation struct {
	opts   simulateOptions
	report simulateReport
}

func (s *simulation) compute(ctx context.Context, key uint64) (*payload, error) {
	if s.opts.computeDelay > 0 {
		t := time.NewTimer(s.opts.computeDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.opts.failRate > 0 && rand.Float64() < s.opts.failRate {
		return nil, fmt.Errorf("key %d: %w", key, errTransient)
	}
	serial := atomic.AddInt64(&s.report.Computed, 1)
	return &payload{key: key, serial: uint64(serial)}, nil
}

func (s *simulation) dispose(_ uint64, p *payload) error {
	if !p.disposed.CompareAndSwap(false, true) {
		atomic.AddInt64(&s.report.DoubleDisposals, 1)
		return nil
	}
	atomic.AddInt64(&s.report.Disposed, 1)
	return nil
}

func (s *simulation) use(ctx context.Context, p *payload) error {
	if p.disposed.Load() {
		atomic.AddInt64(&s.report.UseAfterDispose, 1)
	}
	if s.opts.hold > 0 {
		t := time.NewTimer(s.opts.hold)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *simulation) newBackend(logger xlog.Logger, observer xmetrics.Observer) (backend, error) {
	cfg := xslru.Config[uint64, *payload]{
		Capacity: s.opts.capacity,
		Compute:  s.compute,
		Dispose:  s.dispose,
	}
	opts := []xslru.Option{
		xslru.WithProtectedRatio(s.opts.ratio),
		xslru.WithName("simulate"),
		xslru.WithLogger(logger),
		xslru.WithObserver(observer),
	}
	if s.opts.shards > 0 {
		return xslru.NewSharded(cfg, hashUint64, s.opts.shards, opts...)
	}
	return xslru.New(cfg, opts...)
}

func hashUint64(key uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], key)
	return xxhash.Sum64(b[:])
}

// simulate 运行负载并校验销毁语义：每个值至多销毁一次、销毁后不再被使用，
// 关闭缓存后所有计算出的值都已销毁。
func simulate(ctx context.Context, opts simulateOptions, logger xlog.Logger) (*simulateReport, error) {
	s := &simulation{opts: opts}

	var (
		observer  xmetrics.Observer = xmetrics.NoopObserver{}
		collector *meterCollector
	)
	if opts.metrics {
		collector = newMeterCollector()
		defer func() { _ = collector.shutdown(context.WithoutCancel(ctx)) }()
		obs, err := collector.observer()
		if err != nil {
			return nil, err
		}
		observer = obs
	}

	c, err := s.newBackend(logger, observer)
	if err != nil {
		return nil, usagef("%v", err)
	}

	logger.Info(ctx, "simulation started",
		xlog.Count(int64(opts.ops)),
		xlog.Component("simulate"))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	perWorker := opts.ops / opts.workers
	for w := range opts.workers {
		n := perWorker
		if w < opts.ops%opts.workers {
			n++
		}
		g.Go(func() error {
			return s.worker(gctx, c, uint64(w), n)
		})
	}
	runErr := g.Wait()

	s.report.Elapsed = time.Since(start).Round(time.Millisecond).String()
	s.report.Stats = c.Stats()
	s.report.HitRatio = s.report.Stats.HitRatio()
	if err := c.Close(); err != nil {
		return nil, err
	}
	if collector != nil {
		totals, err := collector.totals(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.report.Metrics = totals
	}

	r := &s.report
	logger.Info(ctx, "simulation finished",
		xlog.Count(r.Ops),
		slog.Int64("failed", r.Failed),
		slog.Int64("computed", r.Computed))

	if runErr != nil {
		return r, runErr
	}
	if r.DoubleDisposals > 0 || r.UseAfterDispose > 0 || r.Disposed != r.Computed {
		return r, fmt.Errorf("%w: computed=%d disposed=%d double=%d use_after_dispose=%d",
			errInvariant, r.Computed, r.Disposed, r.DoubleDisposals, r.UseAfterDispose)
	}
	return r, nil
}

// worker 按 zipf 分布选取 key 执行 n 次 Use；计算失败按 retry-go 策略重试。
func (s *simulation) worker(ctx context.Context, c backend, id uint64, n int) error {
	rng := rand.New(rand.NewPCG(s.opts.seed, id))
	zipf := rand.NewZipf(rng, s.opts.skew, 1, s.opts.keys-1)

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(s.opts.retries+1),
		retry.Delay(time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errTransient) }),
		retry.OnRetry(func(uint, error) { atomic.AddInt64(&s.report.Retries, 1) }),
	)

	for range n {
		key := zipf.Uint64()
		err := r.Do(func() error {
			return c.Use(ctx, key, s.use)
		})
		atomic.AddInt64(&s.report.Ops, 1)
		switch {
		case err == nil:
		case errors.Is(err, errTransient):
			atomic.AddInt64(&s.report.Failed, 1)
		default:
			return err
		}
	}
	return nil
}

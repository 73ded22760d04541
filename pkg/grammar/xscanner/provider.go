package xscanner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/omeyang/slrukit/pkg/cache/xslru"
)

// DefaultCapacity 默认缓存的扫描器数量。
const DefaultCapacity = 32

// Provider 按语言 ID 提供共享的 [Scanner]，编译结果缓存在分段 LRU 中。
// 被淘汰或清理的扫描器在最后一个使用者返回后关闭。
type Provider struct {
	mu       sync.RWMutex
	registry Registry
	cache    *xslru.Cache[string, *Scanner]
}

// NewProvider 创建 Provider。capacity <= 0 时使用 [DefaultCapacity]。
// registry 会被深拷贝并校验，任一规则无效即返回错误。
// opts 透传给底层缓存（保护段比例、日志、观测器等）。
func NewProvider(registry Registry, capacity int, opts ...xslru.Option) (*Provider, error) {
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	p := &Provider{registry: registry.Clone()}
	opts = append([]xslru.Option{xslru.WithName("xscanner")}, opts...)
	cache, err := xslru.New(xslru.Config[string, *Scanner]{
		Capacity: capacity,
		Compute:  p.compile,
		Dispose: func(_ string, s *Scanner) error {
			return s.Close()
		},
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("xscanner: create cache: %w", err)
	}
	p.cache = cache
	return p, nil
}

func (p *Provider) compile(_ context.Context, lang string) (*Scanner, error) {
	p.mu.RLock()
	rules, ok := p.registry[lang]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}
	return Compile(lang, rules)
}

// Tokenize 用 lang 对应的扫描器扫描 src。
func (p *Provider) Tokenize(ctx context.Context, lang, src string) ([]Token, error) {
	tokens, err := xslru.UseWithResult(ctx, p.cache, lang, func(_ context.Context, s *Scanner) ([]Token, error) {
		return s.Tokenize(src)
	})
	if errors.Is(err, xslru.ErrClosed) {
		return nil, ErrProviderClosed
	}
	return tokens, err
}

// Reload 校验并替换规则表，然后清空缓存。
// 正在使用的旧扫描器在其调用返回后关闭；校验失败时保留原规则表。
func (p *Provider) Reload(registry Registry) error {
	if err := registry.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.registry = registry.Clone()
	p.mu.Unlock()

	p.cache.Clear()
	return nil
}

// Languages 返回当前规则表中的语言 ID（已排序）。
func (p *Provider) Languages() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.registry.Languages()
}

// Cached 报告 lang 的扫描器当前是否在缓存中。
func (p *Provider) Cached(lang string) bool {
	return p.cache.Contains(lang)
}

// Stats 返回底层缓存的统计快照。
func (p *Provider) Stats() xslru.Stats {
	return p.cache.Stats()
}

// Close 关闭 Provider 并关闭所有缓存的扫描器。重复调用返回 [ErrProviderClosed]。
func (p *Provider) Close() error {
	if err := p.cache.Close(); err != nil {
		return ErrProviderClosed
	}
	return nil
}

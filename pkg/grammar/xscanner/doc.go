// Package xscanner 提供按语言 ID 缓存的词法扫描器。
//
// # 概述
//
// 每种语言由一组有序规则（[Rule]）描述，规则按声明顺序合并为一个 RE2 正则，
// 先声明的规则优先匹配。编译结果 [Scanner] 的构造开销远大于单次扫描，
// 因此 [Provider] 把它们放在 xslru 分段 LRU 缓存中，跨调用方共享。
//
// # 基本用法
//
//	registry := xscanner.Registry{
//	    "ini": {
//	        {Name: "comment", Pattern: `;[^\n]*`},
//	        {Name: "section", Pattern: `\[[^\]]+\]`},
//	        {Name: "key", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
//	    },
//	}
//	p, err := xscanner.NewProvider(registry, 16)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	tokens, err := p.Tokenize(ctx, "ini", src)
//
// # 热更新
//
// [Provider.Reload] 替换规则表并清空缓存。正在被使用的旧扫描器在其调用返回后关闭，
// 新调用会按新规则重新编译。
//
// # 注意事项
//
//   - 规则名在同一语言内必须唯一且非空，否则返回 [ErrInvalidRule]
//   - 匹配空串的规则不会产生 Token，无法匹配的字符被跳过
//   - [Scanner] 关闭后 Tokenize 返回 [ErrScannerClosed]
package xscanner

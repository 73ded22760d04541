package xscanner

import "errors"

var (
	// ErrInvalidRule 表示规则名为空、重复或正则无法编译。
	ErrInvalidRule = errors.New("xscanner: invalid rule")

	// ErrNoRules 表示语言没有任何规则。
	ErrNoRules = errors.New("xscanner: language has no rules")

	// ErrUnknownLanguage 表示规则表中不存在该语言。
	ErrUnknownLanguage = errors.New("xscanner: unknown language")

	// ErrScannerClosed 表示扫描器已关闭。
	ErrScannerClosed = errors.New("xscanner: scanner closed")

	// ErrProviderClosed 表示 Provider 已关闭。
	ErrProviderClosed = errors.New("xscanner: provider closed")
)

package xscanner

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

// Token 是一次规则匹配。Offset 为 Text 在源文本中的字节偏移。
type Token struct {
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	Offset int    `json:"offset"`
}

// Scanner 是一种语言编译后的扫描器，可并发使用。
type Scanner struct {
	lang   string
	re     *regexp.Regexp
	kinds  []string // 子匹配组下标 -> 规则名，非规则组为空
	rules  []anchoredRule
	closed atomic.Bool
}

// anchoredRule 是单条规则锚定在行首的编译结果，用于合并正则命中空串时的回退。
type anchoredRule struct {
	name string
	re   *regexp.Regexp
}

// Compile 将有序规则编译为扫描器。
//
// 设计决策: 每条规则包成一个普通捕获组，组下标按各规则自身的捕获组数累加得出，
// 规则名只用作 Token.Kind，因此可以是任意非空字符串，规则内也可自带捕获组。
// 另外保留每条规则各自锚定的正则：合并正则选中空串分支时，
// 按声明顺序逐条重试，取第一条非空匹配，避免可匹配空串的规则遮蔽其后的规则。
func Compile(lang string, rules []Rule) (*Scanner, error) {
	if err := validateRules(lang, rules); err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(`\A(?:`)
	groups := make(map[int]string, len(rules))
	anchored := make([]anchoredRule, 0, len(rules))
	next := 1
	for i, rule := range rules {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteByte('(')
		b.WriteString(rule.Pattern)
		b.WriteByte(')')

		groups[next] = rule.Name
		// validateRules 已保证可编译。
		next += 1 + regexp.MustCompile(rule.Pattern).NumSubexp()
		anchored = append(anchored, anchoredRule{
			name: rule.Name,
			re:   regexp.MustCompile(`\A(?:` + rule.Pattern + `)`),
		})
	}
	b.WriteByte(')')

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRule, lang, err)
	}

	kinds := make([]string, re.NumSubexp()+1)
	for g, name := range groups {
		kinds[g] = name
	}
	return &Scanner{lang: lang, re: re, kinds: kinds, rules: anchored}, nil
}

// Language 返回扫描器所属语言。
func (s *Scanner) Language() string {
	return s.lang
}

// Tokenize 从左到右扫描 src。每个位置取声明顺序中第一条非空匹配的规则；
// 没有规则产生非空匹配时跳过当前字符。
func (s *Scanner) Tokenize(src string) ([]Token, error) {
	if s.closed.Load() {
		return nil, ErrScannerClosed
	}

	var tokens []Token
	for pos := 0; pos < len(src); {
		kind, n := s.match(src[pos:])
		if n == 0 {
			_, size := utf8.DecodeRuneInString(src[pos:])
			pos += size
			continue
		}
		tokens = append(tokens, Token{
			Kind:   kind,
			Text:   src[pos : pos+n],
			Offset: pos,
		})
		pos += n
	}
	return tokens, nil
}

// match 返回 rest 开头第一条非空匹配的规则名与长度，无匹配时长度为 0。
func (s *Scanner) match(rest string) (string, int) {
	loc := s.re.FindStringSubmatchIndex(rest)
	if loc == nil {
		return "", 0
	}
	if loc[1] > 0 {
		return s.kindOf(loc), loc[1]
	}
	for _, r := range s.rules {
		if m := r.re.FindStringIndex(rest); m != nil && m[1] > 0 {
			return r.name, m[1]
		}
	}
	return "", 0
}

// kindOf 返回参与匹配的规则组名。规则内部的捕获组也会出现在 loc 中，跳过它们。
func (s *Scanner) kindOf(loc []int) string {
	for g := 1; g < len(s.kinds); g++ {
		if s.kinds[g] != "" && loc[2*g] >= 0 {
			return s.kinds[g]
		}
	}
	return ""
}

// Close 关闭扫描器。重复关闭返回 [ErrScannerClosed]。
func (s *Scanner) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrScannerClosed
	}
	return nil
}

// Closed 报告扫描器是否已关闭。
func (s *Scanner) Closed() bool {
	return s.closed.Load()
}

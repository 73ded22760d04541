package xscanner

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
)

// Rule 是一条词法规则：匹配 Pattern 的文本产生 Kind 为 Name 的 Token。
type Rule struct {
	Name    string `koanf:"name" json:"name"`
	Pattern string `koanf:"pattern" json:"pattern"`
}

// Registry 将语言 ID 映射到有序规则列表。
type Registry map[string][]Rule

// Languages 返回排序后的语言 ID。
func (r Registry) Languages() []string {
	langs := make([]string, 0, len(r))
	for lang := range r {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	return langs
}

// Validate 校验所有语言的规则，返回合并后的全部错误。
func (r Registry) Validate() error {
	var errs []error
	for _, lang := range r.Languages() {
		if err := validateRules(lang, r[lang]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clone 返回规则表的深拷贝，调用方之后的修改不会影响副本。
func (r Registry) Clone() Registry {
	out := make(Registry, len(r))
	for lang, rules := range r {
		out[lang] = slices.Clone(rules)
	}
	return out
}

func validateRules(lang string, rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("%w: %s", ErrNoRules, lang)
	}
	seen := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		if rule.Name == "" {
			return fmt.Errorf("%w: %s rule #%d has empty name", ErrInvalidRule, lang, i)
		}
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("%w: %s rule %q declared twice", ErrInvalidRule, lang, rule.Name)
		}
		seen[rule.Name] = struct{}{}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("%w: %s rule %q: %w", ErrInvalidRule, lang, rule.Name, err)
		}
	}
	return nil
}

package xscanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var iniRules = []Rule{
	{Name: "comment", Pattern: `;[^\n]*`},
	{Name: "section", Pattern: `\[([^\]]+)\]`},
	{Name: "assign", Pattern: `=`},
	{Name: "number", Pattern: `[0-9]+`},
	{Name: "ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
		want  error
	}{
		{"no rules", nil, ErrNoRules},
		{"empty name", []Rule{{Name: "", Pattern: "a"}}, ErrInvalidRule},
		{"duplicate name", []Rule{{Name: "a", Pattern: "a"}, {Name: "a", Pattern: "b"}}, ErrInvalidRule},
		{"bad pattern", []Rule{{Name: "a", Pattern: "(unclosed"}}, ErrInvalidRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Compile("x", tt.rules)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, s)
		})
	}
}

func TestTokenize(t *testing.T) {
	s, err := Compile("ini", iniRules)
	require.NoError(t, err)
	assert.Equal(t, "ini", s.Language())

	src := "[core]\nname = 42 ; note\n"
	tokens, err := s.Tokenize(src)
	require.NoError(t, err)
	assert.Equal(t, []Token{
		{Kind: "section", Text: "[core]", Offset: 0},
		{Kind: "ident", Text: "name", Offset: 7},
		{Kind: "assign", Text: "=", Offset: 12},
		{Kind: "number", Text: "42", Offset: 14},
		{Kind: "comment", Text: "; note", Offset: 17},
	}, tokens)

	for _, tok := range tokens {
		assert.Equal(t, tok.Text, src[tok.Offset:tok.Offset+len(tok.Text)])
	}
}

func TestTokenize_DeclarationOrderWins(t *testing.T) {
	s, err := Compile("kw", []Rule{
		{Name: "keyword", Pattern: `if|else`},
		{Name: "ident", Pattern: `[a-z]+`},
	})
	require.NoError(t, err)

	tokens, err := s.Tokenize("if x")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "keyword", tokens[0].Kind)
	assert.Equal(t, "ident", tokens[1].Kind)
}

func TestTokenize_SkipsUnmatchedAndEmpty(t *testing.T) {
	s, err := Compile("digits", []Rule{
		{Name: "maybe", Pattern: `x*`},
		{Name: "digit", Pattern: `[0-9]`},
	})
	require.NoError(t, err)

	tokens, err := s.Tokenize("héxx")
	require.NoError(t, err)
	assert.Equal(t, []Token{{Kind: "maybe", Text: "xx", Offset: 3}}, tokens)

	empty, err := s.Tokenize("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTokenize_EmptyMatchFallsThrough(t *testing.T) {
	s, err := Compile("words", []Rule{
		{Name: "ws", Pattern: `\s*`},
		{Name: "ident", Pattern: `\w+`},
	})
	require.NoError(t, err)

	tokens, err := s.Tokenize("abc def")
	require.NoError(t, err)
	assert.Equal(t, []Token{
		{Kind: "ident", Text: "abc", Offset: 0},
		{Kind: "ws", Text: " ", Offset: 3},
		{Kind: "ident", Text: "def", Offset: 4},
	}, tokens)
}

func TestScanner_Close(t *testing.T) {
	s, err := Compile("ini", iniRules)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.Close(), ErrScannerClosed)

	_, err = s.Tokenize("a")
	assert.ErrorIs(t, err, ErrScannerClosed)
}

func TestRegistry(t *testing.T) {
	r := Registry{"ini": iniRules, "bad": {{Name: "x", Pattern: "("}}, "empty": nil}
	assert.Equal(t, []string{"bad", "empty", "ini"}, r.Languages())

	err := r.Validate()
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.ErrorIs(t, err, ErrNoRules)

	c := r.Clone()
	c["ini"][0].Name = "changed"
	assert.Equal(t, "comment", r["ini"][0].Name)
}

func FuzzTokenize(f *testing.F) {
	f.Add("[core]\nname = 42 ; note\n")
	f.Add("")
	f.Add("\xff\xfe=")

	s, err := Compile("ini", iniRules)
	if err != nil {
		f.Fatal(err)
	}
	f.Fuzz(func(t *testing.T, src string) {
		tokens, err := s.Tokenize(src)
		if err != nil {
			t.Fatal(err)
		}
		last := -1
		for _, tok := range tokens {
			if tok.Offset <= last || tok.Text == "" || tok.Kind == "" {
				t.Fatalf("bad token %+v after offset %d", tok, last)
			}
			if src[tok.Offset:tok.Offset+len(tok.Text)] != tok.Text {
				t.Fatalf("token %+v does not match source", tok)
			}
			last = tok.Offset
		}
	})
}

package js_lexer

import (
	"testing"

	"github.com/esmerge/esmerge/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexToken(t *testing.T, contents string) T {
	t.Helper()
	log := logger.NewDeferLog()
	lexer := NewLexer(log, logger.Source{PrettyPath: "<stdin>", Contents: contents})
	return lexer.Token
}

func expectLexerError(t *testing.T, contents string, expected string) {
	t.Helper()
	t.Run(contents, func(t *testing.T) {
		log := logger.NewDeferLog()
		func() {
			defer func() {
				r := recover()
				if _, isLexerPanic := r.(LexerPanic); r != nil && !isLexerPanic {
					panic(r)
				}
			}()
			lexer := NewLexer(log, logger.Source{PrettyPath: "<stdin>", Contents: contents})
			for lexer.Token != TEndOfFile {
				lexer.Next()
			}
		}()
		msgs := log.Done()
		text := ""
		for _, msg := range msgs {
			text += msg.String(logger.OutputOptions{})
		}
		assert.Equal(t, expected, text)
	})
}

func expectNumber(t *testing.T, contents string, expected float64) {
	t.Helper()
	t.Run(contents, func(t *testing.T) {
		log := logger.NewDeferLog()
		lexer := NewLexer(log, logger.Source{PrettyPath: "<stdin>", Contents: contents})
		require.Equal(t, TNumericLiteral, lexer.Token)
		assert.Equal(t, expected, lexer.Number)
		assert.Empty(t, log.Done())
	})
}

func expectString(t *testing.T, contents string, expected string) {
	t.Helper()
	t.Run(contents, func(t *testing.T) {
		log := logger.NewDeferLog()
		lexer := NewLexer(log, logger.Source{PrettyPath: "<stdin>", Contents: contents})
		require.Equal(t, TStringLiteral, lexer.Token)
		assert.Equal(t, expected, lexer.StringLiteral)
		assert.Empty(t, log.Done())
	})
}

func TestTokens(t *testing.T) {
	expected := []struct {
		contents string
		token    T
	}{
		{"", TEndOfFile},
		{"\x00", TSyntaxError},

		{"#!/usr/bin/env node", THashbang},
		{"&&=", TAmpersandAmpersandEquals},
		{"**", TAsteriskAsterisk},
		{"...", TDotDotDot},
		{"=>", TEqualsGreaterThan},
		{"!==", TExclamationEqualsEquals},
		{">>>=", TGreaterThanGreaterThanGreaterThanEquals},
		{"?.", TQuestionDot},
		{"?.1", TQuestion},
		{"??=", TQuestionQuestionEquals},
		{"/* comment */ ;", TSemicolon},
		{"// comment\n}", TCloseBrace},

		{"foo", TIdentifier},
		{"let", TIdentifier},
		{"import", TImport},
		{"export", TExport},
		{"café", TIdentifier},
	}

	for _, it := range expected {
		contents := it.contents
		token := it.token
		t.Run(contents, func(t *testing.T) {
			assert.Equal(t, token, lexToken(t, contents))
		})
	}
}

func TestNewlineBefore(t *testing.T) {
	log := logger.NewDeferLog()
	lexer := NewLexer(log, logger.Source{Contents: "a /*\n*/ b\nc d"})
	assert.Equal(t, "a", lexer.Identifier)
	lexer.Next()
	assert.Equal(t, "b", lexer.Identifier)
	assert.True(t, lexer.HasNewlineBefore)
	lexer.Next()
	assert.True(t, lexer.HasNewlineBefore)
	lexer.Next()
	assert.Equal(t, "d", lexer.Identifier)
	assert.False(t, lexer.HasNewlineBefore)
}

func TestNumericLiteral(t *testing.T) {
	expectNumber(t, "0", 0)
	expectNumber(t, "123", 123)
	expectNumber(t, "1_000", 1000)
	expectNumber(t, "1.5", 1.5)
	expectNumber(t, ".5", 0.5)
	expectNumber(t, "1e3", 1000)
	expectNumber(t, "1E-2", 0.01)
	expectNumber(t, "0x10", 16)
	expectNumber(t, "0b101", 5)
	expectNumber(t, "0o17", 15)

	expectLexerError(t, "0123", "<stdin>:1:0: error: Legacy octal literals cannot be used in strict mode\n")
	expectLexerError(t, "1a", "<stdin>:1:1: error: Syntax error \"a\"\n")
}

func TestStringLiteral(t *testing.T) {
	expectString(t, "''", "")
	expectString(t, "'abc'", "abc")
	expectString(t, "\"a'b\"", "a'b")
	expectString(t, "'\\n\\t\\\\'", "\n\t\\")
	expectString(t, "'\\x41'", "A")
	expectString(t, "'\\u0041'", "A")
	expectString(t, "'\\u{1F600}'", "\U0001F600")
	expectString(t, "'\\uD83D\\uDE00'", "\U0001F600")
	expectString(t, "'a\\\nb'", "ab")

	expectLexerError(t, "'abc", "<stdin>:1:4: error: Unexpected end of file\n")
	expectLexerError(t, "'a\nb'", "<stdin>:1:2: error: Unterminated string literal\n")
	expectLexerError(t, "`a`", "<stdin>:1:0: error: Template literals are not supported\n")
}

package js_lexer

// The lexer converts a source file to a stream of tokens. The lexer is not
// run to completion before the parser is started. Instead, the lexer is
// called repeatedly by the parser as the parser parses the file.
//
// Strings are decoded to UTF-8. Template literals, regular expression
// literals and JSX are not part of the supported language subset and are
// reported as syntax errors.

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/logger"
)

type T uint

// If you add a new token, remember to add it to "tokenToString" too
const (
	TEndOfFile T = iota
	TSyntaxError

	// "#!/usr/bin/env node"
	THashbang

	// Literals
	TNumericLiteral // Contents are in lexer.Number (float64)
	TStringLiteral  // Contents are in lexer.StringLiteral (string)

	// Punctuation
	TAmpersand
	TAmpersandAmpersand
	TAsterisk
	TAsteriskAsterisk
	TBar
	TBarBar
	TCaret
	TCloseBrace
	TCloseBracket
	TCloseParen
	TColon
	TComma
	TDot
	TDotDotDot
	TEqualsEquals
	TEqualsEqualsEquals
	TEqualsGreaterThan
	TExclamation
	TExclamationEquals
	TExclamationEqualsEquals
	TGreaterThan
	TGreaterThanEquals
	TGreaterThanGreaterThan
	TGreaterThanGreaterThanGreaterThan
	TLessThan
	TLessThanEquals
	TLessThanLessThan
	TMinus
	TMinusMinus
	TOpenBrace
	TOpenBracket
	TOpenParen
	TPercent
	TPlus
	TPlusPlus
	TQuestion
	TQuestionDot
	TQuestionQuestion
	TSemicolon
	TSlash
	TTilde

	// Assignments
	TAmpersandAmpersandEquals
	TAmpersandEquals
	TAsteriskAsteriskEquals
	TAsteriskEquals
	TBarBarEquals
	TBarEquals
	TCaretEquals
	TEquals
	TGreaterThanGreaterThanEquals
	TGreaterThanGreaterThanGreaterThanEquals
	TLessThanLessThanEquals
	TMinusEquals
	TPercentEquals
	TPlusEquals
	TQuestionQuestionEquals
	TSlashEquals

	// Identifiers
	TIdentifier // Contents are in lexer.Identifier (string)

	// Reserved words
	TBreak
	TCase
	TCatch
	TClass
	TConst
	TContinue
	TDebugger
	TDefault
	TDelete
	TDo
	TElse
	TEnum
	TExport
	TExtends
	TFalse
	TFinally
	TFor
	TFunction
	TIf
	TImport
	TIn
	TInstanceof
	TNew
	TNull
	TReturn
	TSuper
	TSwitch
	TThis
	TThrow
	TTrue
	TTry
	TTypeof
	TVar
	TVoid
	TWhile
	TWith
)

var Keywords = map[string]T{
	// Reserved words
	"break":      TBreak,
	"case":       TCase,
	"catch":      TCatch,
	"class":      TClass,
	"const":      TConst,
	"continue":   TContinue,
	"debugger":   TDebugger,
	"default":    TDefault,
	"delete":     TDelete,
	"do":         TDo,
	"else":       TElse,
	"enum":       TEnum,
	"export":     TExport,
	"extends":    TExtends,
	"false":      TFalse,
	"finally":    TFinally,
	"for":        TFor,
	"function":   TFunction,
	"if":         TIf,
	"import":     TImport,
	"in":         TIn,
	"instanceof": TInstanceof,
	"new":        TNew,
	"null":       TNull,
	"return":     TReturn,
	"super":      TSuper,
	"switch":     TSwitch,
	"this":       TThis,
	"throw":      TThrow,
	"true":       TTrue,
	"try":        TTry,
	"typeof":     TTypeof,
	"var":        TVar,
	"void":       TVoid,
	"while":      TWhile,
	"with":       TWith,
}

// Merged modules are always strict mode code, so these can never be used as
// generated names either
var StrictModeReservedWords = map[string]bool{
	"implements": true,
	"interface":  true,
	"let":        true,
	"package":    true,
	"private":    true,
	"protected":  true,
	"public":     true,
	"static":     true,
	"yield":      true,
	"await":      true,
	"arguments":  true,
	"eval":       true,
}

var tokenToString = map[T]string{
	TEndOfFile:   "end of file",
	TSyntaxError: "syntax error",
	THashbang:    "hashbang comment",

	// Literals
	TNumericLiteral: "number",
	TStringLiteral:  "string",

	// Punctuation
	TAmpersand:                         "\"&\"",
	TAmpersandAmpersand:                "\"&&\"",
	TAsterisk:                          "\"*\"",
	TAsteriskAsterisk:                  "\"**\"",
	TBar:                               "\"|\"",
	TBarBar:                            "\"||\"",
	TCaret:                             "\"^\"",
	TCloseBrace:                        "\"}\"",
	TCloseBracket:                      "\"]\"",
	TCloseParen:                        "\")\"",
	TColon:                             "\":\"",
	TComma:                             "\",\"",
	TDot:                               "\".\"",
	TDotDotDot:                         "\"...\"",
	TEqualsEquals:                      "\"==\"",
	TEqualsEqualsEquals:                "\"===\"",
	TEqualsGreaterThan:                 "\"=>\"",
	TExclamation:                       "\"!\"",
	TExclamationEquals:                 "\"!=\"",
	TExclamationEqualsEquals:           "\"!==\"",
	TGreaterThan:                       "\">\"",
	TGreaterThanEquals:                 "\">=\"",
	TGreaterThanGreaterThan:            "\">>\"",
	TGreaterThanGreaterThanGreaterThan: "\">>>\"",
	TLessThan:                          "\"<\"",
	TLessThanEquals:                    "\"<=\"",
	TLessThanLessThan:                  "\"<<\"",
	TMinus:                             "\"-\"",
	TMinusMinus:                        "\"--\"",
	TOpenBrace:                         "\"{\"",
	TOpenBracket:                       "\"[\"",
	TOpenParen:                         "\"(\"",
	TPercent:                           "\"%\"",
	TPlus:                              "\"+\"",
	TPlusPlus:                          "\"++\"",
	TQuestion:                          "\"?\"",
	TQuestionDot:                       "\"?.\"",
	TQuestionQuestion:                  "\"??\"",
	TSemicolon:                         "\";\"",
	TSlash:                             "\"/\"",
	TTilde:                             "\"~\"",

	// Assignments
	TAmpersandAmpersandEquals:                "\"&&=\"",
	TAmpersandEquals:                         "\"&=\"",
	TAsteriskAsteriskEquals:                  "\"**=\"",
	TAsteriskEquals:                          "\"*=\"",
	TBarBarEquals:                            "\"||=\"",
	TBarEquals:                               "\"|=\"",
	TCaretEquals:                             "\"^=\"",
	TEquals:                                  "\"=\"",
	TGreaterThanGreaterThanEquals:            "\">>=\"",
	TGreaterThanGreaterThanGreaterThanEquals: "\">>>=\"",
	TLessThanLessThanEquals:                  "\"<<=\"",
	TMinusEquals:                             "\"-=\"",
	TPercentEquals:                           "\"%=\"",
	TPlusEquals:                              "\"+=\"",
	TQuestionQuestionEquals:                  "\"??=\"",
	TSlashEquals:                             "\"/=\"",

	// Identifiers
	TIdentifier: "identifier",
}

type Lexer struct {
	log              logger.Log
	source           logger.Source
	current          int
	start            int
	end              int
	Token            T
	HasNewlineBefore bool
	codePoint        rune
	StringLiteral    string
	Identifier       string
	Number           float64
}

type LexerPanic struct{}

func NewLexer(log logger.Log, source logger.Source) Lexer {
	lexer := Lexer{
		log:    log,
		source: source,
	}
	lexer.step()
	lexer.Next()
	return lexer
}

func (lexer *Lexer) Loc() logger.Loc {
	return logger.Loc{Start: int32(lexer.start)}
}

func (lexer *Lexer) Range() logger.Range {
	return logger.Range{Loc: logger.Loc{Start: int32(lexer.start)}, Len: int32(lexer.end - lexer.start)}
}

func (lexer *Lexer) Raw() string {
	return lexer.source.Contents[lexer.start:lexer.end]
}

func (lexer *Lexer) IsIdentifierOrKeyword() bool {
	return lexer.Token >= TIdentifier
}

func (lexer *Lexer) IsContextualKeyword(text string) bool {
	return lexer.Token == TIdentifier && lexer.Raw() == text
}

func (lexer *Lexer) ExpectContextualKeyword(text string) {
	if !lexer.IsContextualKeyword(text) {
		lexer.ExpectedString(fmt.Sprintf("%q", text))
	}
	lexer.Next()
}

func (lexer *Lexer) SyntaxError() {
	loc := logger.Loc{Start: int32(lexer.end)}
	message := "Unexpected end of file"
	if lexer.end < len(lexer.source.Contents) {
		c, _ := utf8.DecodeRuneInString(lexer.source.Contents[lexer.end:])
		if c < 0x20 {
			message = fmt.Sprintf("Syntax error \"\\x%02X\"", c)
		} else if c >= 0x80 {
			message = fmt.Sprintf("Syntax error \"\\u{%x}\"", c)
		} else {
			message = fmt.Sprintf("Syntax error \"%c\"", c)
		}
	}
	lexer.addError(loc, message)
	panic(LexerPanic{})
}

func (lexer *Lexer) ExpectedString(text string) {
	found := fmt.Sprintf("%q", lexer.Raw())
	if lexer.start == len(lexer.source.Contents) {
		found = "end of file"
	}
	lexer.addRangeError(lexer.Range(), fmt.Sprintf("Expected %s but found %s", text, found))
	panic(LexerPanic{})
}

func (lexer *Lexer) Expected(token T) {
	if text, ok := tokenToString[token]; ok {
		lexer.ExpectedString(text)
	} else {
		lexer.Unexpected()
	}
}

func (lexer *Lexer) Unexpected() {
	found := fmt.Sprintf("%q", lexer.Raw())
	if lexer.start == len(lexer.source.Contents) {
		found = "end of file"
	}
	lexer.addRangeError(lexer.Range(), fmt.Sprintf("Unexpected %s", found))
	panic(LexerPanic{})
}

func (lexer *Lexer) Expect(token T) {
	if lexer.Token != token {
		lexer.Expected(token)
	}
	lexer.Next()
}

func (lexer *Lexer) ExpectOrInsertSemicolon() {
	if lexer.Token == TSemicolon || (!lexer.HasNewlineBefore &&
		lexer.Token != TCloseBrace && lexer.Token != TEndOfFile) {
		lexer.Expect(TSemicolon)
	}
}

func (lexer *Lexer) Next() {
	lexer.HasNewlineBefore = lexer.end == 0

	for {
		lexer.start = lexer.end
		lexer.Token = 0

		switch lexer.codePoint {
		case -1: // This indicates the end of the file
			lexer.Token = TEndOfFile

		case '#':
			if lexer.start == 0 && strings.HasPrefix(lexer.source.Contents, "#!") {
				lexer.Token = THashbang
			hashbang:
				for {
					lexer.step()
					switch lexer.codePoint {
					case '\r', '\n', '\u2028', '\u2029':
						break hashbang

					case -1: // This indicates the end of the file
						break hashbang
					}
				}
				lexer.Identifier = lexer.Raw()
			} else {
				lexer.SyntaxError()
			}

		case '\r', '\n', '\u2028', '\u2029':
			lexer.step()
			lexer.HasNewlineBefore = true
			continue

		case '\t', '\f', '\v', ' ', '\xA0', '\uFEFF':
			lexer.step()
			continue

		case '(':
			lexer.step()
			lexer.Token = TOpenParen

		case ')':
			lexer.step()
			lexer.Token = TCloseParen

		case '[':
			lexer.step()
			lexer.Token = TOpenBracket

		case ']':
			lexer.step()
			lexer.Token = TCloseBracket

		case '{':
			lexer.step()
			lexer.Token = TOpenBrace

		case '}':
			lexer.step()
			lexer.Token = TCloseBrace

		case ',':
			lexer.step()
			lexer.Token = TComma

		case ':':
			lexer.step()
			lexer.Token = TColon

		case ';':
			lexer.step()
			lexer.Token = TSemicolon

		case '~':
			lexer.step()
			lexer.Token = TTilde

		case '?':
			// '?' or '??' or '??=' or '?.'
			lexer.step()
			switch lexer.codePoint {
			case '?':
				lexer.step()
				if lexer.codePoint == '=' {
					lexer.step()
					lexer.Token = TQuestionQuestionEquals
				} else {
					lexer.Token = TQuestionQuestion
				}
			case '.':
				lexer.Token = TQuestion
				current := lexer.current
				contents := lexer.source.Contents

				// Lookahead to disambiguate with 'a?.1:b'
				if current >= len(contents) || contents[current] < '0' || contents[current] > '9' {
					lexer.step()
					lexer.Token = TQuestionDot
				}
			default:
				lexer.Token = TQuestion
			}

		case '%':
			// '%' or '%='
			lexer.step()
			switch lexer.codePoint {
			case '=':
				lexer.step()
				lexer.Token = TPercentEquals
			default:
				lexer.Token = TPercent
			}

		case '&':
			// '&' or '&=' or '&&' or '&&='
			lexer.step()
			switch lexer.codePoint {
			case '=':
				lexer.step()
				lexer.Token = TAmpersandEquals
			case '&':
				lexer.step()
				if lexer.codePoint == '=' {
					lexer.step()
					lexer.Token = TAmpersandAmpersandEquals
				} else {
					lexer.Token = TAmpersandAmpersand
				}
			default:
				lexer.Token = TAmpersand
			}

		case '|':
			// '|' or '|=' or '||' or '||='
			lexer.step()
			switch lexer.codePoint {
			case '=':
				lexer.step()
				lexer.Token = TBarEquals
			case '|':
				lexer.step()
				if lexer.codePoint == '=' {
					lexer.step()
					lexer.Token = TBarBarEquals
				} else {
					lexer.Token = TBarBar
				}
			default:
				lexer.Token = TBar
			}

		case '^':
			// '^' or '^='
			lexer.step()
			switch lexer.codePoint {
			case '=':
				lexer.step()
				lexer.Token = TCaretEquals
			default:
				lexer.Token = TCaret
			}

		case '+':
			// '+' or '+=' or '++'
			lexer.step()
			switch lexer.codePoint {
			case '=':
				lexer.step()
				lexer.Token = TPlusEquals
			case '+':
				lexer.step()
				lexer.Token = TPlusPlus
			default:
				lexer.Token = TPlus
			}

		case '-':
			// '-' or '-=' or '--'
			lexer.step()
			switch lexer.codePoint {
			case '=':
				lexer.step()
				lexer.Token = TMinusEquals
			case '-':
				lexer.step()
				lexer.Token = TMinusMinus
			default:
				lexer.Token = TMinus
			}

		case '*':
			// '*' or '*=' or '**' or '**='
			lexer.step()
			switch lexer.codePoint {
			case '=':
				lexer.step()
				lexer.Token = TAsteriskEquals

			case '*':
				lexer.step()
				switch lexer.codePoint {
				case '=':
					lexer.step()
					lexer.Token = TAsteriskAsteriskEquals

				default:
					lexer.Token = TAsteriskAsterisk
				}

			default:
				lexer.Token = TAsterisk
			}

		case '/':
			// '/' or '/=' or '//' or '/* ... */'
			lexer.step()
			switch lexer.codePoint {
			case '=':
				lexer.step()
				lexer.Token = TSlashEquals

			case '/':
			singleLineComment:
				for {
					lexer.step()
					switch lexer.codePoint {
					case '\r', '\n', '\u2028', '\u2029':
						break singleLineComment

					case -1: // This indicates the end of the file
						break singleLineComment
					}
				}
				continue

			case '*':
				lexer.step()
			multiLineComment:
				for {
					switch lexer.codePoint {
					case '*':
						lexer.step()
						if lexer.codePoint == '/' {
							lexer.step()
							break multiLineComment
						}

					case '\r', '\n', '\u2028', '\u2029':
						lexer.step()
						lexer.HasNewlineBefore = true

					case -1: // This indicates the end of the file
						lexer.start = lexer.end
						lexer.addError(lexer.Loc(), "Expected \"*/\" to terminate multi-line comment")
						panic(LexerPanic{})

					default:
						lexer.step()
					}
				}
				continue

			default:
				lexer.Token = TSlash
			}

		case '=':
			// '=' or '=>' or '==' or '==='
			lexer.step()
			switch lexer.codePoint {
			case '>':
				lexer.step()
				lexer.Token = TEqualsGreaterThan
			case '=':
				lexer.step()
				switch lexer.codePoint {
				case '=':
					lexer.step()
					lexer.Token = TEqualsEqualsEquals
				default:
					lexer.Token = TEqualsEquals
				}
			default:
				lexer.Token = TEquals
			}

		case '<':
			// '<' or '<<' or '<=' or '<<='
			lexer.step()
			switch lexer.codePoint {
			case '=':
				lexer.step()
				lexer.Token = TLessThanEquals
			case '<':
				lexer.step()
				switch lexer.codePoint {
				case '=':
					lexer.step()
					lexer.Token = TLessThanLessThanEquals
				default:
					lexer.Token = TLessThanLessThan
				}
			default:
				lexer.Token = TLessThan
			}

		case '>':
			// '>' or '>>' or '>>>' or '>=' or '>>=' or '>>>='
			lexer.step()
			switch lexer.codePoint {
			case '=':
				lexer.step()
				lexer.Token = TGreaterThanEquals
			case '>':
				lexer.step()
				switch lexer.codePoint {
				case '=':
					lexer.step()
					lexer.Token = TGreaterThanGreaterThanEquals
				case '>':
					lexer.step()
					switch lexer.codePoint {
					case '=':
						lexer.step()
						lexer.Token = TGreaterThanGreaterThanGreaterThanEquals
					default:
						lexer.Token = TGreaterThanGreaterThanGreaterThan
					}
				default:
					lexer.Token = TGreaterThanGreaterThan
				}
			default:
				lexer.Token = TGreaterThan
			}

		case '!':
			// '!' or '!=' or '!=='
			lexer.step()
			switch lexer.codePoint {
			case '=':
				lexer.step()
				switch lexer.codePoint {
				case '=':
					lexer.step()
					lexer.Token = TExclamationEqualsEquals
				default:
					lexer.Token = TExclamationEquals
				}
			default:
				lexer.Token = TExclamation
			}

		case '\'', '"':
			lexer.parseStringLiteral()

		case '`':
			lexer.addRangeError(logger.Range{Loc: lexer.Loc(), Len: 1}, "Template literals are not supported")
			panic(LexerPanic{})

		case '.', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			lexer.parseNumericLiteralOrDot()

		default:
			if js_ast.IsIdentifierStart(lexer.codePoint) {
				lexer.step()
				for js_ast.IsIdentifierContinue(lexer.codePoint) {
					lexer.step()
				}
				if lexer.codePoint == '\\' {
					lexer.addRangeError(lexer.Range(), "Escape sequences in identifiers are not supported")
					panic(LexerPanic{})
				}
				contents := lexer.Raw()
				lexer.Identifier = contents
				lexer.Token = Keywords[contents]
				if lexer.Token == 0 {
					lexer.Token = TIdentifier
				}
				break
			}

			lexer.end = lexer.current
			lexer.Token = TSyntaxError
		}

		return
	}
}

func (lexer *Lexer) parseStringLiteral() {
	quote := lexer.codePoint
	hasEscape := false
	lexer.Token = TStringLiteral
	lexer.step()

stringLiteral:
	for {
		switch lexer.codePoint {
		case '\\':
			hasEscape = true
			lexer.step()

			// Handle Windows CRLF
			if lexer.codePoint == '\r' {
				lexer.step()
				if lexer.codePoint == '\n' {
					lexer.step()
				}
				continue
			}

		case -1: // This indicates the end of the file
			lexer.SyntaxError()

		case '\r', '\n':
			lexer.addError(logger.Loc{Start: int32(lexer.end)}, "Unterminated string literal")
			panic(LexerPanic{})

		case quote:
			lexer.step()
			break stringLiteral
		}
		lexer.step()
	}

	text := lexer.source.Contents[lexer.start+1 : lexer.end-1]
	if hasEscape {
		lexer.StringLiteral = lexer.decodeEscapeSequences(lexer.start+1, text)
	} else {
		lexer.StringLiteral = text
	}
}

func (lexer *Lexer) decodeEscapeSequences(start int, text string) string {
	sb := strings.Builder{}
	pendingHighSurrogate := rune(-1)
	i := 0

	for i < len(text) {
		c, width := utf8.DecodeRuneInString(text[i:])
		i += width

		if c != '\\' {
			if pendingHighSurrogate >= 0 {
				sb.WriteRune(utf8.RuneError)
				pendingHighSurrogate = -1
			}
			sb.WriteRune(c)
			continue
		}

		c2, width2 := utf8.DecodeRuneInString(text[i:])
		i += width2
		value := rune(-1)

		switch c2 {
		case 'b':
			value = '\b'
		case 'f':
			value = '\f'
		case 'n':
			value = '\n'
		case 'r':
			value = '\r'
		case 't':
			value = '\t'
		case 'v':
			value = '\v'

		case '0':
			if i < len(text) && text[i] >= '0' && text[i] <= '9' {
				lexer.addRangeError(logger.Range{Loc: logger.Loc{Start: int32(start + i - 2)}, Len: 2},
					"Legacy octal escape sequences cannot be used in strict mode")
				panic(LexerPanic{})
			}
			value = 0

		case 'x':
			if i+2 > len(text) {
				lexer.SyntaxError()
			}
			hex, err := strconv.ParseUint(text[i:i+2], 16, 32)
			if err != nil {
				lexer.addRangeError(logger.Range{Loc: logger.Loc{Start: int32(start + i - 2)}, Len: 4}, "Invalid escape sequence")
				panic(LexerPanic{})
			}
			value = rune(hex)
			i += 2

		case 'u':
			var digits string
			if i < len(text) && text[i] == '{' {
				end := strings.IndexByte(text[i:], '}')
				if end < 0 {
					lexer.SyntaxError()
				}
				digits = text[i+1 : i+end]
				i += end + 1
			} else {
				if i+4 > len(text) {
					lexer.SyntaxError()
				}
				digits = text[i : i+4]
				i += 4
			}
			hex, err := strconv.ParseUint(digits, 16, 32)
			if err != nil || hex > 0x10FFFF {
				lexer.addRangeError(logger.Range{Loc: logger.Loc{Start: int32(start)}, Len: int32(len(text))}, "Invalid unicode escape sequence")
				panic(LexerPanic{})
			}
			value = rune(hex)

		case '\r', '\n', '\u2028', '\u2029':
			// Line continuation
			continue

		default:
			value = c2
		}

		// Combine surrogate pairs written as two escapes
		if value >= 0xD800 && value <= 0xDBFF {
			if pendingHighSurrogate >= 0 {
				sb.WriteRune(utf8.RuneError)
			}
			pendingHighSurrogate = value
			continue
		}
		if value >= 0xDC00 && value <= 0xDFFF && pendingHighSurrogate >= 0 {
			sb.WriteRune(0x10000 + ((pendingHighSurrogate - 0xD800) << 10) + (value - 0xDC00))
			pendingHighSurrogate = -1
			continue
		}
		if pendingHighSurrogate >= 0 {
			sb.WriteRune(utf8.RuneError)
			pendingHighSurrogate = -1
		}
		sb.WriteRune(value)
	}

	if pendingHighSurrogate >= 0 {
		sb.WriteRune(utf8.RuneError)
	}
	return sb.String()
}

func (lexer *Lexer) parseNumericLiteralOrDot() {
	// Number or dot
	first := lexer.codePoint
	lexer.step()

	// Dot without a digit after it
	if first == '.' && (lexer.codePoint < '0' || lexer.codePoint > '9') {
		// "..."
		if lexer.codePoint == '.' &&
			lexer.current < len(lexer.source.Contents) &&
			lexer.source.Contents[lexer.current] == '.' {
			lexer.step()
			lexer.step()
			lexer.Token = TDotDotDot
			return
		}

		// "."
		lexer.Token = TDot
		return
	}

	lexer.Token = TNumericLiteral

	// Check for binary, octal, or hexadecimal literal
	if first == '0' {
		base := 0
		switch lexer.codePoint {
		case 'b', 'B':
			base = 2
		case 'o', 'O':
			base = 8
		case 'x', 'X':
			base = 16
		case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '_':
			lexer.addRangeError(lexer.Range(), "Legacy octal literals cannot be used in strict mode")
			panic(LexerPanic{})
		}

		if base != 0 {
			lexer.step()
			for js_ast.IsIdentifierContinue(lexer.codePoint) {
				lexer.step()
			}
			digits := strings.ReplaceAll(lexer.Raw()[2:], "_", "")
			value, err := strconv.ParseUint(digits, base, 64)
			if err != nil {
				lexer.addRangeError(lexer.Range(), fmt.Sprintf("Invalid number %q", lexer.Raw()))
				panic(LexerPanic{})
			}
			lexer.Number = float64(value)
			return
		}
	}

	// Decimal literal
	for {
		switch {
		case lexer.codePoint >= '0' && lexer.codePoint <= '9', lexer.codePoint == '_', lexer.codePoint == '.':
			lexer.step()
			continue

		case lexer.codePoint == 'e' || lexer.codePoint == 'E':
			lexer.step()
			if lexer.codePoint == '+' || lexer.codePoint == '-' {
				lexer.step()
			}
			continue
		}
		break
	}

	// Identifiers can't occur immediately after numbers
	if js_ast.IsIdentifierStart(lexer.codePoint) {
		lexer.SyntaxError()
	}

	text := strings.ReplaceAll(lexer.Raw(), "_", "")
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		lexer.addRangeError(lexer.Range(), fmt.Sprintf("Invalid number %q", lexer.Raw()))
		panic(LexerPanic{})
	}
	lexer.Number = value
}

func (lexer *Lexer) step() {
	codePoint, width := utf8.DecodeRuneInString(lexer.source.Contents[lexer.current:])

	// Use -1 to indicate the end of the file
	if width == 0 {
		codePoint = -1
	}

	lexer.codePoint = codePoint
	lexer.end = lexer.current
	lexer.current += width
}

func (lexer *Lexer) addError(loc logger.Loc, text string) {
	lexer.log.AddID(logger.MsgID_Bundler_ParseFailure, logger.Error, &lexer.source, logger.Range{Loc: loc}, text)
}

func (lexer *Lexer) addRangeError(r logger.Range, text string) {
	lexer.log.AddID(logger.MsgID_Bundler_ParseFailure, logger.Error, &lexer.source, r, text)
}

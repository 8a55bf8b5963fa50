package token

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(toks []Token) []Kind {
	ks := make([]Kind, len(toks))
	for i, t := range toks {
		ks[i] = t.Kind
	}
	return ks
}

func TestLexInstructionLine(t *testing.T) {
	toks, err := New([]byte("ADC r0, r1, #9\n")).Tokenize()
	require.NoError(t, err)

	assert.Equal(t, []Kind{
		Ident, Whitespace, Register, Punct, Whitespace, Register, Punct, Whitespace,
		Punct, IntDecimal, Newline, EOF,
	}, kinds(toks))

	assert.Equal(t, "ADC", toks[0].Lexeme)
	assert.Equal(t, "r0", toks[2].Lexeme)
	assert.Equal(t, "#", toks[8].Lexeme)
	assert.Equal(t, "9", toks[9].Lexeme)
}

func TestLexIntegerLiteralRadixes(t *testing.T) {
	toks, err := New([]byte("123 0x1F $1F 0b101 %101 0755")).Tokenize()
	require.NoError(t, err)

	var lits []Token
	for _, tok := range toks {
		if tok.Kind != Whitespace && tok.Kind != EOF {
			lits = append(lits, tok)
		}
	}

	require.Len(t, lits, 6)
	assert.Equal(t, IntDecimal, lits[0].Kind)
	assert.Equal(t, IntHex, lits[1].Kind)
	assert.Equal(t, "0x1F", lits[1].Lexeme)
	assert.Equal(t, IntHex, lits[2].Kind)
	assert.Equal(t, "$1F", lits[2].Lexeme)
	assert.Equal(t, IntBinary, lits[3].Kind)
	assert.Equal(t, "0b101", lits[3].Lexeme)
	assert.Equal(t, IntBinary, lits[4].Kind)
	assert.Equal(t, "%101", lits[4].Lexeme)
	assert.Equal(t, IntOctal, lits[5].Kind)
	assert.Equal(t, "0755", lits[5].Lexeme)
}

func TestLexDirectivesStringsAndComments(t *testing.T) {
	toks, err := New([]byte(".global main ; entry point\n.ascii \"hi\"\n")).Tokenize()
	require.NoError(t, err)

	assert.Equal(t, Directive, toks[0].Kind)
	assert.Equal(t, ".global", toks[0].Lexeme)
	assert.Equal(t, Comment, toks[4].Kind)
	assert.Equal(t, "; entry point", toks[4].Lexeme)

	var sawString bool
	for _, tok := range toks {
		if tok.Kind == StringLit {
			sawString = true
			assert.Equal(t, `"hi"`, tok.Lexeme)
		}
	}
	assert.True(t, sawString)
}

func TestLexRegisterAliases(t *testing.T) {
	toks, err := New([]byte("sp lr fp pc r15")).Tokenize()
	require.NoError(t, err)

	for _, tok := range toks {
		if tok.Kind != Whitespace && tok.Kind != EOF {
			assert.Equal(t, Register, tok.Kind, "lexeme %q", tok.Lexeme)
		}
	}
}

func TestLexInvalidCharErrorKind(t *testing.T) {
	_, err := New([]byte("r0, `")).Tokenize()
	require.Error(t, err)

	var lexErr *Error
	require.True(t, errors.As(err, &lexErr))
	assert.Equal(t, InvalidChar, lexErr.Kind)
	assert.True(t, errors.Is(err, Sentinel(InvalidChar)))
}

func TestLexUnterminatedString(t *testing.T) {
	_, err := New([]byte(`.ascii "never closed`)).Tokenize()
	require.Error(t, err)

	var lexErr *Error
	require.True(t, errors.As(err, &lexErr))
	assert.Equal(t, UnterminatedString, lexErr.Kind)
}

func TestLexPurity(t *testing.T) {
	src := []byte("LDR r0, [r1, #3]!\nSTR r0, [r1], #3\n")
	first, err := New(src).Tokenize()
	require.NoError(t, err)
	second, err := New(src).Tokenize()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

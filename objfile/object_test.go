package objfile

import (
	"errors"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, obj *Object) *Object {
	t.Helper()
	raw, err := obj.Bytes()
	require.NoError(t, err)
	got, err := Parse(raw)
	require.NoError(t, err)
	return got
}

func TestRoundTripEmptyObject(t *testing.T) {
	obj := New(FileRelocatable)
	got := roundTrip(t, obj)

	assert.Equal(t, obj.Header, got.Header)
	assert.Empty(t, got.Text)
	assert.Empty(t, got.Data)
	assert.Zero(t, got.BSSSize)
	assert.Empty(t, got.Symbols)
	assert.Empty(t, got.TextRelocs)
	assert.Empty(t, got.DataRelocs)
	assert.Empty(t, got.DebugHints)
}

func TestRoundTripPopulatedObject(t *testing.T) {
	obj := New(FileRelocatable)
	obj.Text = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	obj.Data = []byte{0xAA, 0xBB, 0xCC, 0xDD}
	obj.BSSSize = 64
	obj.Symbols = []Symbol{
		{Name: "main", Binding: BindGlobal, SectionIdx: 0, Value: 0, ScopeID: 0},
		{Name: "counter", Binding: BindLocal, SectionIdx: 1, Value: 4, ScopeID: 7},
		{Name: "printf", Binding: BindGlobal, SectionIdx: UndefinedSection, Value: 0, ScopeID: 0},
	}
	obj.TextRelocs = []Relocation{
		{Offset: 0, SymbolIdx: 2, Kind: RelocPCREL24, Addend: -4},
		{Offset: 4, SymbolIdx: 1, Kind: RelocABS32, Addend: 0},
	}
	obj.DataRelocs = []Relocation{
		{Offset: 0, SymbolIdx: 0, Kind: RelocABS16, Addend: 12},
	}
	obj.DebugHints = []DebugHint{
		{Name: "main", Start: 0, End: 8},
	}

	got := roundTrip(t, obj)

	if !assert.Equal(t, obj.Header, got.Header) ||
		!assert.Equal(t, obj.Text, got.Text) ||
		!assert.Equal(t, obj.Data, got.Data) ||
		!assert.Equal(t, obj.BSSSize, got.BSSSize) ||
		!assert.Equal(t, obj.Symbols, got.Symbols) ||
		!assert.Equal(t, obj.TextRelocs, got.TextRelocs) ||
		!assert.Equal(t, obj.DataRelocs, got.DataRelocs) ||
		!assert.Equal(t, obj.DebugHints, got.DebugHints) {
		t.Logf("want:\n%s\ngot:\n%s", spew.Sdump(obj), spew.Sdump(got))
	}
}

func TestSymbolUndefined(t *testing.T) {
	sym := Symbol{Name: "extern_fn", SectionIdx: UndefinedSection}
	assert.True(t, sym.Undefined())

	sym.SectionIdx = 0
	assert.False(t, sym.Undefined())
}

func TestParseBadMagic(t *testing.T) {
	raw := []byte{'X', 'Y', 'Z', 0, 0, 1, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}
	_, err := Parse(raw)
	require.Error(t, err)

	var objErr *Error
	require.True(t, errors.As(err, &objErr))
	assert.Equal(t, BadMagic, objErr.Kind)
	assert.True(t, errors.Is(err, Sentinel(BadMagic)))
}

func TestParseTruncatedHeader(t *testing.T) {
	raw := Magic[:]
	_, err := Parse(raw)
	require.Error(t, err)

	var objErr *Error
	require.True(t, errors.As(err, &objErr))
	assert.Equal(t, Truncated, objErr.Kind)
}

func TestParseTruncatedSectionTable(t *testing.T) {
	obj := New(FileRelocatable)
	obj.Text = []byte{0, 0, 0, 0}
	raw, err := obj.Bytes()
	require.NoError(t, err)

	_, err = Parse(raw[:headerSize+5])
	require.Error(t, err)

	var objErr *Error
	require.True(t, errors.As(err, &objErr))
	assert.Equal(t, Truncated, objErr.Kind)
}

func TestParseVersionMismatch(t *testing.T) {
	obj := New(FileRelocatable)
	raw, err := obj.Bytes()
	require.NoError(t, err)

	bad := append([]byte(nil), raw...)
	bad[5] = byte(CurrentABIVersion + 1)

	_, err = Parse(bad)
	require.Error(t, err)

	var objErr *Error
	require.True(t, errors.As(err, &objErr))
	assert.Equal(t, VersionMismatch, objErr.Kind)
}

func TestFileTypeAndSectionTypeStrings(t *testing.T) {
	assert.Equal(t, "relocatable", FileRelocatable.String())
	assert.Equal(t, "static-library", FileStaticLibrary.String())
	assert.Equal(t, "executable", FileExecutable.String())

	assert.Equal(t, ".text", SectionText.String())
	assert.Equal(t, ".debug.hints", SectionDebugHints.String())
}

package literal

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScalars(t *testing.T) {
	cases := []struct {
		src  string
		want any
	}{
		{"None", nil},
		{"True", true},
		{"False", false},
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"+3", int64(3)},
		{"-(1)", int64(-1)},
		{"-((2.5))", -2.5},
		{"(-4)", int64(-4)},
		{"1_000", int64(1000)},
		{"0x1F", int64(31)},
		{"0x_1f", int64(31)},
		{"0b_1_0", int64(2)},
		{"0o17", int64(15)},
		{"0b101", int64(5)},
		{"000", int64(0)},
		{"3.5", 3.5},
		{".5", 0.5},
		{"5.", 5.0},
		{"1e3", 1000.0},
		{"-2.5E-1", -0.25},
		{"'single'", "single"},
		{`"double"`, "double"},
		{`'it\'s'`, "it's"},
		{`"tab\there"`, "tab\there"},
		{`'\x41é\U0001F600'`, "Aé\U0001F600"},
		{`'\101'`, "A"},
		{`'\d'`, `\d`},
		{`r'\d\n'`, `\d\n`},
		{`u'unicode'`, "unicode"},
		{`b'bytes'`, "bytes"},
		{`'''multi
line'''`, "multi\nline"},
		{`'con' "cat" 'enated'`, "concatenated"},
		{"'José'", "José"},
		{"  42  # answer", int64(42)},
	}
	for _, tc := range cases {
		got, err := Parse(tc.src)
		require.NoError(t, err, tc.src)
		assert.Equal(t, tc.want, got, tc.src)
	}
}

func TestParseBigInteger(t *testing.T) {
	got, err := Parse("123456789012345678901234567890")
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	assert.Equal(t, 0, want.Cmp(got.(*big.Int)))
}

func TestParseContainers(t *testing.T) {
	got, err := Parse(`[
    {'image': 'a.jpg', 'name': 'John Loyal', 'dob': '01-01-1995'},
    {'image': 'b.jpg', 'name': None, 'age': 30,},
]`)
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[any]any{"image": "a.jpg", "name": "John Loyal", "dob": "01-01-1995"},
		map[any]any{"image": "b.jpg", "name": nil, "age": int64(30)},
	}, got)

	got, err = Parse("(1, 'two', (3,), ())")
	require.NoError(t, err)
	assert.Equal(t, Tuple{int64(1), "two", Tuple{int64(3)}, Tuple{}}, got)

	got, err = Parse("{'a': 1}, {'b': 2},")
	require.NoError(t, err)
	assert.Equal(t, Tuple{map[any]any{"a": int64(1)}, map[any]any{"b": int64(2)}}, got)

	got, err = Parse("(((1)))")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	got, err = Parse("{1, 'a', None}")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "a", nil}, got)

	got, err = Parse("{}")
	require.NoError(t, err)
	assert.Equal(t, map[any]any{}, got)

	got, err = Parse("[]")
	require.NoError(t, err)
	assert.Equal(t, []any{}, got)

	got, err = Parse("{1: [True], 2.5: {'x': -1}}")
	require.NoError(t, err)
	assert.Equal(t, map[any]any{int64(1): []any{true}, 2.5: map[any]any{"x": int64(-1)}}, got)
}

func TestParseRejectsNonLiterals(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"__import__('os').system('id')",
		"open('/etc/passwd')",
		"x",
		"1 + 2",
		"[1, 2",
		"{'a': 1",
		"{'a' 1}",
		"[1 2]",
		"1, 2 3",
		",",
		"'unterminated",
		"'line\nbreak'",
		"f'{x}'",
		"1j",
		"012",
		"1e",
		"1__0",
		"0x",
		"-'a'",
		"--1",
		"- -1",
		"+-+3",
		"-(-1)",
		"-(1,)",
		"-(1",
		"0x__1",
		"0x_",
		"{'a': 1} trailing",
		"lambda: 0",
		"[*range(3)]",
		"{'a': 1}.keys()",
		"'\\x4'",
	}
	for _, src := range inputs {
		_, err := Parse(src)
		assert.Error(t, err, "%q", src)
	}
}

func TestParseRejectsUnhashableKeys(t *testing.T) {
	_, err := Parse("{[1]: 'x'}")
	assert.True(t, errors.Is(err, ErrUnhashableKey))

	_, err = Parse("{(1, 2): 'x'}")
	assert.True(t, errors.Is(err, ErrUnhashableKey))

	_, err = Parse("{1, [2]}")
	assert.True(t, errors.Is(err, ErrUnhashableKey))
}

func TestParseLimitsNesting(t *testing.T) {
	src := ""
	for i := 0; i < maxDepth+2; i++ {
		src += "["
	}
	for i := 0; i < maxDepth+2; i++ {
		src += "]"
	}
	_, err := Parse(src)

	var syntaxErr *SyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Contains(t, syntaxErr.Msg, "nesting")
}

package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatCents(t *testing.T) {
	require.Equal(t, "123.45", FormatCents(12345))
	require.Equal(t, "0.00", FormatCents(0))
	require.Equal(t, "5.00", FormatCents(500))
	require.Equal(t, "-0.40", FormatCents(-40))
}

func TestParseAmount(t *testing.T) {
	cents, err := ParseAmount("123.45")
	require.NoError(t, err)
	require.Equal(t, int64(12345), cents)

	cents, err = ParseAmount("5")
	require.NoError(t, err)
	require.Equal(t, int64(500), cents)

	_, err = ParseAmount("1.005")
	require.Error(t, err)

	_, err = ParseAmount("abc")
	require.Error(t, err)
}

package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	require.Equal(t, Params{Page: 1, Limit: DefaultLimit}, Params{}.Normalize())
	require.Equal(t, Params{Page: 3, Limit: MaxLimit}, Params{Page: 3, Limit: 1000}.Normalize())
	require.Equal(t, Params{Page: 1, Limit: 10}, Params{Page: -4, Limit: 10}.Normalize())
}

func TestOffsetAndTotalPages(t *testing.T) {
	p := Params{Page: 3, Limit: 10}
	require.Equal(t, 20, p.Offset())
	require.Equal(t, 0, p.TotalPages(0))
	require.Equal(t, 1, p.TotalPages(10))
	require.Equal(t, 2, p.TotalPages(11))
}

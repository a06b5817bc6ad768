package providers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"sh600519", "sh600519", true},
		{"SZ000001", "sz000001", true},
		{" sh600519 ", "sh600519", true},
		{"600519", "sh600519", true},
		{"510300", "sh510300", true},
		{"900901", "sh900901", true},
		{"000001", "sz000001", true},
		{"300750", "sz300750", true},
		{"100001", "", false},
		{"60051", "", false},
		{"sh60051", "", false},
		{"bj430047", "", false},
		{"600a19", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := NormalizeSymbol(tc.in)
		require.Equalf(t, tc.ok, ok, "NormalizeSymbol(%q) ok", tc.in)
		if tc.ok {
			require.Equalf(t, tc.want, got, "NormalizeSymbol(%q)", tc.in)
		}
	}
}

func TestFromNames(t *testing.T) {
	t.Parallel()

	provs, err := FromNames([]string{"sina", "netease", "tencent"}, 0)
	require.NoError(t, err)
	require.Len(t, provs, 3)
	require.Equal(t, "sina", provs[0].Name())
	require.Equal(t, "netease", provs[1].Name())
	require.Equal(t, "tencent", provs[2].Name())

	_, err = FromNames([]string{"sina", "bloomberg"}, 0)
	require.Error(t, err)
}

package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		raw  string
		base string
		want string
	}{
		{"lowercases scheme and host", "HTTP://Example.COM/Path", "", "http://example.com/Path"},
		{"strips default http port", "http://example.com:80/a", "", "http://example.com/a"},
		{"strips default https port", "https://example.com:443/a", "", "https://example.com/a"},
		{"keeps custom port", "http://example.com:8080/a", "", "http://example.com:8080/a"},
		{"drops fragment", "http://example.com/a#top", "", "http://example.com/a"},
		{"sorts query", "http://example.com/a?b=2&a=1", "", "http://example.com/a?a=1&b=2"},
		{"adds root path", "http://example.com", "", "http://example.com/"},
		{"resolves relative", "../c?x=1#f", "http://example.com/a/b/", "http://example.com/a/c?x=1"},
		{"drops userinfo", "http://user:pw@example.com/", "", "http://example.com/"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.raw, tc.base)
			require.NoError(t, err)
			require.Equal(t, tc.want, got.String())
		})
	}
}

func TestNormalizeURLRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "ftp://example.com/file", "/relative/without/base", "http://%zz"} {
		_, err := NormalizeURL(raw, "")
		if !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("NormalizeURL(%q) error = %v, want ErrInvalidEntry", raw, err)
		}
	}
}

func TestDomainKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "shop.example.co.uk", DomainKey("Shop.Example.co.uk", false))
	require.Equal(t, "example.co.uk", DomainKey("shop.example.co.uk", true))
	require.Equal(t, "example.com", DomainKey("example.com:8080", true))
	require.Equal(t, "10.0.0.1", DomainKey("10.0.0.1", true))
}

func TestPathPattern(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/", PathPattern(""))
	require.Equal(t, "/", PathPattern("/"))
	require.Equal(t, "/products", PathPattern("/products/123"))
	require.Equal(t, "/about", PathPattern("/about"))
}

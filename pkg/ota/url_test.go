package ota

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildManifestURL(t *testing.T) {
	got := BuildManifestURL("https://deploymate.example.com", "rel_1", "token-value")
	assert.Equal(t, "https://deploymate.example.com/api/v1/releases/rel_1/manifest?token=token-value", got)

	// 尾部斜杠不会产生双斜杠
	got = BuildManifestURL("https://deploymate.example.com/", "rel_1", "token-value")
	assert.Equal(t, "https://deploymate.example.com/api/v1/releases/rel_1/manifest?token=token-value", got)
}

func TestBuildManifestURL_EncodesToken(t *testing.T) {
	token := "a+b/c=d&e f"
	got := BuildManifestURL("https://x.example.com", "rel_9", token)
	assert.Equal(t, "https://x.example.com/api/v1/releases/rel_9/manifest?token=a%2Bb%2Fc%3Dd%26e%20f", got)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, token, u.Query().Get("token"))
}

func TestBuildItmsServicesURL(t *testing.T) {
	got := BuildItmsServicesURL("https://deploymate.example.com/api/v1/releases/rel_1/manifest?token=abc")
	assert.Equal(t,
		"itms-services://?action=download-manifest&url=https%3A%2F%2Fdeploymate.example.com%2Fapi%2Fv1%2Freleases%2Frel_1%2Fmanifest%3Ftoken%3Dabc",
		got)
}

func TestItmsServicesRoundTrip(t *testing.T) {
	tokens := []string{"abc", "eyJhbGciOiJIUzI1NiJ9.e30.sig_-", "含中文 & 空格", "a%2Fb", "~*'()!"}
	for _, token := range tokens {
		manifest := BuildManifestURL("https://deploymate.example.com", "rel_1", token)
		link := BuildItmsServicesURL(manifest)

		const prefix = "itms-services://?action=download-manifest&url="
		require.True(t, strings.HasPrefix(link, prefix))
		encoded := strings.TrimPrefix(link, prefix)
		assert.NotContains(t, encoded, "&")
		assert.NotContains(t, encoded, "=")

		decoded, err := url.PathUnescape(encoded)
		require.NoError(t, err)
		assert.Equal(t, manifest, decoded, "token %q", token)
	}
}

func TestPercentEncode_MatchesEncodeURIComponent(t *testing.T) {
	cases := map[string]string{
		"":                    "",
		"AZaz09-_.!~*'()":     "AZaz09-_.!~*'()",
		" ":                   "%20",
		"+":                   "%2B",
		":/?#[]@":             "%3A%2F%3F%23%5B%5D%40",
		"$&,;=":               "%24%26%2C%3B%3D",
		"中":                   "%E4%B8%AD",
		"é":                   "%C3%A9",
		"100%":                "100%25",
		"https://a.b/c?d=e&f": "https%3A%2F%2Fa.b%2Fc%3Fd%3De%26f",
	}
	for in, want := range cases {
		assert.Equal(t, want, PercentEncode(in), "input %q", in)
	}
}

func TestBuildURLs_Deterministic(t *testing.T) {
	a := BuildItmsServicesURL(BuildManifestURL("https://h", "rel_1", "t"))
	b := BuildItmsServicesURL(BuildManifestURL("https://h", "rel_1", "t"))
	assert.Equal(t, a, b)
}

func TestResolveClientBaseURL(t *testing.T) {
	got, ok := ResolveClientBaseURL("https://browser.example.com", "https://env.example.com")
	assert.True(t, ok)
	assert.Equal(t, "https://browser.example.com", got)

	got, ok = ResolveClientBaseURL("http://localhost:3000", "https://env.example.com")
	assert.True(t, ok)
	assert.Equal(t, "https://env.example.com", got)

	got, ok = ResolveClientBaseURL("http://localhost:3000", "not-a-url")
	assert.False(t, ok)
	assert.Empty(t, got)

	_, ok = ResolveClientBaseURL("::not a url::", "%zz")
	assert.False(t, ok)

	_, ok = ResolveClientBaseURL("", "")
	assert.False(t, ok)
}

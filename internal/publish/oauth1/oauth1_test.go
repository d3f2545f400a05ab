package oauth1

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Values from the X developer documentation "Creating a signature" walkthrough.
var docCreds = Credentials{
	ConsumerKey:    "xvz1evFS4wEEPTGEFPHBog",
	ConsumerSecret: "kAcSOqF21Fu85e7zjz7ZN2U4ZRhfV3WpwPAoE3Z7kBw",
	Token:          "370773112-GmHxMAgYyLbNEtIKZeRNFsMKPR9EyMZeS9weJAEb",
	TokenSecret:    "LswwdoUaIvS8ltyTt5jkRh4J50vUPVVHtR2YPi5kE",
}

const (
	docURL       = "https://api.twitter.com/1.1/statuses/update.json?include_entities=true"
	docStatus    = "Hello Ladies + Gentlemen, a signed OAuth request!"
	docNonce     = "kYjzVBB8Y0ZFabxSWbWovY3uYSQ2pTgmZeNu2VS4cg"
	docTimestamp = 1318622958
)

func pinnedSigner(creds Credentials, nonce string, ts int64) *Signer {
	s := NewSigner(creds)
	s.Nonce = func() (string, error) { return nonce, nil }
	s.Now = func() time.Time { return time.Unix(ts, 0) }
	return s
}

func headerParams(t *testing.T, header string) map[string]string {
	t.Helper()
	require.True(t, strings.HasPrefix(header, "OAuth "), "header %q", header)
	out := map[string]string{}
	for _, part := range strings.Split(strings.TrimPrefix(header, "OAuth "), ", ") {
		k, v, ok := strings.Cut(part, "=")
		require.True(t, ok, "malformed pair %q", part)
		unq, err := url.PathUnescape(strings.Trim(v, `"`))
		require.NoError(t, err)
		out[k] = unq
	}
	return out
}

func TestEncode(t *testing.T) {
	tests := map[string]string{
		"Ladies + Gentlemen": "Ladies%20%2B%20Gentlemen",
		"An encoded string!": "An%20encoded%20string%21",
		"Dogs, Cats & Mice":  "Dogs%2C%20Cats%20%26%20Mice",
		"☃":                  "%E2%98%83",
		"safe-._~":           "safe-._~",
	}
	for in, want := range tests {
		assert.Equal(t, want, Encode(in), "Encode(%q)", in)
	}
}

func TestParameterStringSortsByKeyThenValue(t *testing.T) {
	params := url.Values{
		"b": {"2"},
		"a": {"z", "y"},
		"c": {"hello world"},
	}
	assert.Equal(t, "a=y&a=z&b=2&c=hello%20world", ParameterString(params))
}

func TestBaseStringMatchesDocumentation(t *testing.T) {
	params := url.Values{
		"status":                 {docStatus},
		"oauth_consumer_key":     {docCreds.ConsumerKey},
		"oauth_nonce":            {docNonce},
		"oauth_signature_method": {"HMAC-SHA1"},
		"oauth_timestamp":        {"1318622958"},
		"oauth_token":            {docCreds.Token},
		"oauth_version":          {"1.0"},
	}
	base, err := BaseString("post", docURL, params)
	require.NoError(t, err)

	want := "POST&https%3A%2F%2Fapi.twitter.com%2F1.1%2Fstatuses%2Fupdate.json&" +
		"include_entities%3Dtrue%26oauth_consumer_key%3Dxvz1evFS4wEEPTGEFPHBog%26" +
		"oauth_nonce%3DkYjzVBB8Y0ZFabxSWbWovY3uYSQ2pTgmZeNu2VS4cg%26" +
		"oauth_signature_method%3DHMAC-SHA1%26oauth_timestamp%3D1318622958%26" +
		"oauth_token%3D370773112-GmHxMAgYyLbNEtIKZeRNFsMKPR9EyMZeS9weJAEb%26" +
		"oauth_version%3D1.0%26" +
		"status%3DHello%2520Ladies%2520%252B%2520Gentlemen%252C%2520a%2520signed%2520OAuth%2520request%2521"
	assert.Equal(t, want, base)
}

func TestHeaderMatchesDocumentedSignature(t *testing.T) {
	s := pinnedSigner(docCreds, docNonce, docTimestamp)

	header, err := s.Header(http.MethodPost, docURL, url.Values{"status": {docStatus}})
	require.NoError(t, err)

	params := headerParams(t, header)
	assert.Equal(t, "hCtSmYh+iHYCEqBWrE7C7hYmtUk=", params["oauth_signature"])
	assert.Equal(t, docCreds.ConsumerKey, params["oauth_consumer_key"])
	assert.Equal(t, "HMAC-SHA1", params["oauth_signature_method"])
	assert.Equal(t, "1.0", params["oauth_version"])
	assert.NotContains(t, params, "status", "request parameters must not leak into the header")
}

func TestHeaderIsDeterministicOncePinned(t *testing.T) {
	first, err := pinnedSigner(docCreds, "n", 1).Header(http.MethodPost, "https://example.com/a", url.Values{"x": {"1"}})
	require.NoError(t, err)
	second, err := pinnedSigner(docCreds, "n", 1).Header(http.MethodPost, "https://example.com/a", url.Values{"x": {"1"}})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSignatureChangesWithInputs(t *testing.T) {
	sig := func(method, rawURL string, params url.Values) string {
		h, err := pinnedSigner(docCreds, "n", 1).Header(method, rawURL, params)
		require.NoError(t, err)
		return headerParams(t, h)["oauth_signature"]
	}

	base := sig(http.MethodPost, "https://example.com/a", url.Values{"x": {"1"}})
	assert.NotEqual(t, base, sig(http.MethodGet, "https://example.com/a", url.Values{"x": {"1"}}), "method")
	assert.NotEqual(t, base, sig(http.MethodPost, "https://example.com/b", url.Values{"x": {"1"}}), "url")
	assert.NotEqual(t, base, sig(http.MethodPost, "https://example.com/a", url.Values{"x": {"2"}}), "param value")
	assert.NotEqual(t, base, sig(http.MethodPost, "https://example.com/a", url.Values{"y": {"1"}}), "param key")
}

func TestFreshNonceEveryCall(t *testing.T) {
	s := NewSigner(docCreds)
	a, err := s.Header(http.MethodGet, "https://example.com", nil)
	require.NoError(t, err)
	b, err := s.Header(http.MethodGet, "https://example.com", nil)
	require.NoError(t, err)

	na, nb := headerParams(t, a)["oauth_nonce"], headerParams(t, b)["oauth_nonce"]
	assert.Len(t, na, 32)
	assert.NotEqual(t, na, nb)
}

func TestAuthorizeSignsQueryAndForm(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, docURL, strings.NewReader("status="+url.QueryEscape(docStatus)))
	require.NoError(t, err)

	s := pinnedSigner(docCreds, docNonce, docTimestamp)
	require.NoError(t, s.Authorize(req, url.Values{"status": {docStatus}}))

	params := headerParams(t, req.Header.Get("Authorization"))
	assert.Equal(t, "hCtSmYh+iHYCEqBWrE7C7hYmtUk=", params["oauth_signature"])
}

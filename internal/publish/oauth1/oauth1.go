// Package oauth1 signs requests with OAuth 1.0a HMAC-SHA1 user-context credentials.
package oauth1

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	signatureMethod = "HMAC-SHA1"
	version         = "1.0"
)

// Credentials are the consumer and access token pairs of one user.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
}

// Signer builds Authorization headers. It keeps no per-request state, so a Signer
// may be shared across goroutines; every call draws a fresh nonce and timestamp.
type Signer struct {
	creds Credentials

	// Nonce and Now default to crypto/rand and time.Now; tests pin them.
	Nonce func() (string, error)
	Now   func() time.Time
}

// NewSigner returns a Signer for creds.
func NewSigner(creds Credentials) *Signer {
	return &Signer{creds: creds, Nonce: randomNonce, Now: time.Now}
}

// Authorize sets the Authorization header on req. The query string of req.URL and the
// given form parameters are signed; JSON and multipart bodies must not be passed in form.
func (s *Signer) Authorize(req *http.Request, form url.Values) error {
	header, err := s.Header(req.Method, req.URL.String(), form)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header)
	return nil
}

// Header returns the OAuth Authorization header value for a request. params are the form
// parameters sent in the body; query parameters are read from rawURL.
func (s *Signer) Header(method, rawURL string, params url.Values) (string, error) {
	nonce, err := s.Nonce()
	if err != nil {
		return "", fmt.Errorf("oauth nonce: %w", err)
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     s.creds.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": signatureMethod,
		"oauth_timestamp":        strconv.FormatInt(s.Now().Unix(), 10),
		"oauth_token":            s.creds.Token,
		"oauth_version":          version,
	}

	all := url.Values{}
	for k, vs := range params {
		all[k] = append(all[k], vs...)
	}
	for k, v := range oauthParams {
		all.Set(k, v)
	}

	base, err := BaseString(method, rawURL, all)
	if err != nil {
		return "", err
	}
	oauthParams["oauth_signature"] = Sign(base, s.creds.ConsumerSecret, s.creds.TokenSecret)

	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, Encode(k), Encode(oauthParams[k])))
	}
	return "OAuth " + strings.Join(pairs, ", "), nil
}

// BaseString builds the signature base string: METHOD&enc(url)&enc(params). Query
// parameters in rawURL are folded into params and removed from the URL part.
func BaseString(method, rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("oauth base string: %w", err)
	}

	merged := u.Query()
	for k, vs := range params {
		merged[k] = append(merged[k], vs...)
	}

	return strings.ToUpper(method) + "&" + Encode(baseURL(u)) + "&" + Encode(ParameterString(merged)), nil
}

// ParameterString percent-encodes every pair, sorts by key then value and joins with '&'.
func ParameterString(params url.Values) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(params))
	for k, vs := range params {
		for _, v := range vs {
			pairs = append(pairs, pair{Encode(k), Encode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	return strings.Join(parts, "&")
}

// Sign computes base64(HMAC-SHA1(base, enc(consumerSecret)&enc(tokenSecret))).
func Sign(base, consumerSecret, tokenSecret string) string {
	key := Encode(consumerSecret) + "&" + Encode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Encode percent-encodes s per RFC 3986: everything except ALPHA / DIGIT / "-" / "." / "_" / "~".
func Encode(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func baseURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if (scheme == "http" && strings.HasSuffix(host, ":80")) || (scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

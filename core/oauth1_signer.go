package core

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	OAuth1SignatureMethod = "HMAC-SHA1"
	OAuth1Version         = "1.0"
)

// PercentEncode encodes s per RFC 5849 section 3.6: every byte outside the
// unreserved set becomes %XX with uppercase hex.
func PercentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

// OAuth1BaseString builds the signature base string. Query parameters on
// rawURL are folded into params; params win on key collisions.
func OAuth1BaseString(method string, rawURL string, params map[string]string) (string, error) {
	baseURL, query, err := normalizeOAuth1URL(rawURL)
	if err != nil {
		return "", err
	}
	type pair struct{ key, value string }
	pairs := make([]pair, 0, len(params)+len(query))
	for key, value := range params {
		if key == "oauth_signature" {
			continue
		}
		pairs = append(pairs, pair{PercentEncode(key), PercentEncode(value)})
	}
	for key, values := range query {
		if _, overridden := params[key]; overridden {
			continue
		}
		for _, value := range values {
			pairs = append(pairs, pair{PercentEncode(key), PercentEncode(value)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key == pairs[j].key {
			return pairs[i].value < pairs[j].value
		}
		return pairs[i].key < pairs[j].key
	})
	joined := make([]string, 0, len(pairs))
	for _, p := range pairs {
		joined = append(joined, p.key+"="+p.value)
	}
	return strings.ToUpper(strings.TrimSpace(method)) + "&" +
		PercentEncode(baseURL) + "&" +
		PercentEncode(strings.Join(joined, "&")), nil
}

// OAuth1Signature returns the base64 HMAC-SHA1 signature of the request.
func OAuth1Signature(method string, rawURL string, params map[string]string, consumerSecret string, tokenSecret string) (string, error) {
	base, err := OAuth1BaseString(method, rawURL, params)
	if err != nil {
		return "", err
	}
	key := PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func normalizeOAuth1URL(rawURL string) (string, url.Values, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", nil, fmt.Errorf("core: invalid oauth1 url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", nil, fmt.Errorf("core: oauth1 url must be absolute: %q", rawURL)
	}
	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		if !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
			host += ":" + port
		}
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path, parsed.Query(), nil
}

// OAuth1Signer produces Authorization headers for one consumer.
type OAuth1Signer struct {
	ConsumerKey    string
	ConsumerSecret string
	Now            func() time.Time
	Nonce          func() (string, error)
}

type OAuth1Request struct {
	Method      string
	URL         string
	Token       string
	TokenSecret string
	// OAuthParams are extra protocol parameters such as oauth_callback or
	// oauth_verifier. They are signed and sent in the header.
	OAuthParams map[string]string
	// Params are query or form parameters. They are signed but not sent in
	// the header.
	Params map[string]string
}

// AuthorizationHeader signs req and returns the Authorization header value.
func (s OAuth1Signer) AuthorizationHeader(req OAuth1Request) (string, error) {
	if strings.TrimSpace(s.ConsumerKey) == "" {
		return "", fmt.Errorf("core: oauth1 consumer key is required")
	}
	nonce, err := s.nonce()
	if err != nil {
		return "", err
	}
	oauthParams := map[string]string{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": OAuth1SignatureMethod,
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_version":          OAuth1Version,
	}
	if token := strings.TrimSpace(req.Token); token != "" {
		oauthParams["oauth_token"] = token
	}
	for key, value := range req.OAuthParams {
		oauthParams[key] = value
	}

	signed := make(map[string]string, len(oauthParams)+len(req.Params))
	for key, value := range req.Params {
		signed[key] = value
	}
	for key, value := range oauthParams {
		signed[key] = value
	}
	signature, err := OAuth1Signature(req.Method, req.URL, signed, s.ConsumerSecret, req.TokenSecret)
	if err != nil {
		return "", err
	}
	oauthParams["oauth_signature"] = signature

	keys := make([]string, 0, len(oauthParams))
	for key := range oauthParams {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, PercentEncode(key)+`="`+PercentEncode(oauthParams[key])+`"`)
	}
	return "OAuth " + strings.Join(parts, ", "), nil
}

func (s OAuth1Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s OAuth1Signer) nonce() (string, error) {
	if s.Nonce != nil {
		return s.Nonce()
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth1 nonce: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

package core

import (
	"strings"
	"testing"
	"time"
)

func TestOAuth1Signature_RFC5849Example(t *testing.T) {
	params := map[string]string{
		"oauth_consumer_key":     "dpf43f3p2l4k3l03",
		"oauth_token":            "nnch734d00sl2jdk",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "137131202",
		"oauth_nonce":            "chapoH",
		"file":                   "vacation.jpg",
		"size":                   "original",
	}
	signature, err := OAuth1Signature(
		"GET",
		"http://photos.example.net/photos",
		params,
		"kd94hf93k423kf44",
		"pfkkdhi9sl3r4s00",
	)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signature != "MdpQcU8iPSUjWoN/UDMsK2sui9I=" {
		t.Fatalf("unexpected signature %q", signature)
	}
}

func TestOAuth1Signature_QueryParamsFoldedFromURL(t *testing.T) {
	params := map[string]string{
		"oauth_consumer_key":     "dpf43f3p2l4k3l03",
		"oauth_token":            "nnch734d00sl2jdk",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "137131202",
		"oauth_nonce":            "chapoH",
	}
	signature, err := OAuth1Signature(
		"get",
		"HTTP://Photos.Example.NET:80/photos?file=vacation.jpg&size=original",
		params,
		"kd94hf93k423kf44",
		"pfkkdhi9sl3r4s00",
	)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signature != "MdpQcU8iPSUjWoN/UDMsK2sui9I=" {
		t.Fatalf("unexpected signature %q", signature)
	}
}

func TestOAuth1Signature_TwitterReferenceVector(t *testing.T) {
	params := map[string]string{
		"status":                 "Hello Ladies + Gentlemen, a signed OAuth request!",
		"include_entities":       "true",
		"oauth_consumer_key":     "xvz1evFS4wEEPTGEFPHBog",
		"oauth_nonce":            "kYjzVBB8Y0ZFabxSWbWovY3uYSQ2pTgmZeNu2VS4cg",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "1318622958",
		"oauth_token":            "370773112-GmHxMAgYyLbNEtIKZeRNFsMKPR9EyMZeS9weJAEb",
		"oauth_version":          "1.0",
	}
	signature, err := OAuth1Signature(
		"POST",
		"https://api.twitter.com/1.1/statuses/update.json",
		params,
		"kAcSOqF21Fu85e7zjz7ZN2U4ZRhfV3WpwPAoE3Z7kBw",
		"LswwdoUaIvS8ltyTt5jkRh4J50vUPVVHtR2YPi5kE",
	)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signature != "hCtSmYh+iHYCEqBWrE7C7hYmtUk=" {
		t.Fatalf("unexpected signature %q", signature)
	}
}

func TestOAuth1BaseString_SortsByEncodedKeyThenValue(t *testing.T) {
	base, err := OAuth1BaseString("post", "https://example.com/request?b=2&a=3", map[string]string{
		"a2":  "r b",
		"c@":  "",
		"a":   "1",
		"z~x": "é",
	})
	if err != nil {
		t.Fatalf("base string: %v", err)
	}
	want := "POST&https%3A%2F%2Fexample.com%2Frequest&" +
		"a%3D1%26a2%3Dr%2520b%26b%3D2%26c%2540%3D%26z~x%3D%25C3%25A9"
	if base != want {
		t.Fatalf("unexpected base string\n got: %s\nwant: %s", base, want)
	}
}

func TestOAuth1Signature_EmptyTokenSecretKeepsTrailingAmpersand(t *testing.T) {
	params := map[string]string{"oauth_consumer_key": "key", "oauth_nonce": "n", "oauth_timestamp": "1"}
	withEmpty, err := OAuth1Signature("POST", "https://example.com/oauth/request_token", params, "secret", "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	withToken, err := OAuth1Signature("POST", "https://example.com/oauth/request_token", params, "secret", "other")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if withEmpty == withToken {
		t.Fatalf("expected token secret to change the signature")
	}
}

func TestPercentEncode(t *testing.T) {
	cases := map[string]string{
		"abcXYZ019-._~": "abcXYZ019-._~",
		"a b":           "a%20b",
		"+":             "%2B",
		"*":             "%2A",
		"☃":             "%E2%98%83",
		"/?&=":          "%2F%3F%26%3D",
	}
	for input, want := range cases {
		if got := PercentEncode(input); got != want {
			t.Fatalf("PercentEncode(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestOAuth1Signer_AuthorizationHeaderIsDeterministic(t *testing.T) {
	signer := OAuth1Signer{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		Now:            func() time.Time { return time.Unix(1700000000, 0) },
		Nonce:          func() (string, error) { return "fixednonce", nil },
	}
	req := OAuth1Request{
		Method:      "POST",
		URL:         "https://connectapi.example.com/oauth-service/oauth/access_token",
		Token:       "request-token",
		TokenSecret: "request-secret",
		OAuthParams: map[string]string{"oauth_verifier": "verifier"},
	}
	first, err := signer.AuthorizationHeader(req)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	second, err := signer.AuthorizationHeader(req)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if first != second {
		t.Fatalf("expected deterministic header")
	}
	for _, fragment := range []string{
		`oauth_consumer_key="ck"`,
		`oauth_nonce="fixednonce"`,
		`oauth_timestamp="1700000000"`,
		`oauth_token="request-token"`,
		`oauth_verifier="verifier"`,
		`oauth_signature_method="HMAC-SHA1"`,
		`oauth_version="1.0"`,
	} {
		if !strings.Contains(first, fragment) {
			t.Fatalf("expected %s in header %s", fragment, first)
		}
	}

	expected, err := OAuth1Signature(req.Method, req.URL, map[string]string{
		"oauth_consumer_key":     "ck",
		"oauth_nonce":            "fixednonce",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "1700000000",
		"oauth_token":            "request-token",
		"oauth_verifier":         "verifier",
		"oauth_version":          "1.0",
	}, "cs", "request-secret")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.Contains(first, `oauth_signature="`+PercentEncode(expected)+`"`) {
		t.Fatalf("expected signature %s in header %s", expected, first)
	}
}

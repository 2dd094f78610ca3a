package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/transport"
)

type OAuth1Config struct {
	ID              string
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
	RevokeURL       string
	RevokeMethod    string
	ConsumerKey     string
	ConsumerSecret  string
	RequestTimeout  time.Duration
	Now             func() time.Time
	Nonce           func() (string, error)
	HTTPClient      HTTPDoer
}

// OAuth1Provider implements the three-legged OAuth1.0a flow. Access tokens
// never expire and cannot be refreshed.
type OAuth1Provider struct {
	cfg    OAuth1Config
	signer core.OAuth1Signer
	rest   *transport.RESTAdapter
}

func NewOAuth1Provider(cfg OAuth1Config) (*OAuth1Provider, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, core.NewError(core.KindConfiguration, "providers: provider id is required")
	}
	for name, value := range map[string]string{
		"request token url": cfg.RequestTokenURL,
		"authorize url":     cfg.AuthorizeURL,
		"access token url":  cfg.AccessTokenURL,
		"consumer key":      cfg.ConsumerKey,
		"consumer secret":   cfg.ConsumerSecret,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, core.NewError(core.KindConfiguration, fmt.Sprintf("providers: %s is required for provider %q", name, cfg.ID))
		}
	}
	cfg.RevokeMethod = strings.ToUpper(strings.TrimSpace(cfg.RevokeMethod))
	if cfg.RevokeMethod == "" {
		cfg.RevokeMethod = http.MethodDelete
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}

	rest := transport.NewRESTAdapter(cfg.HTTPClient)
	rest.DefaultTimeout = cfg.RequestTimeout

	return &OAuth1Provider{
		cfg: cfg,
		signer: core.OAuth1Signer{
			ConsumerKey:    strings.TrimSpace(cfg.ConsumerKey),
			ConsumerSecret: strings.TrimSpace(cfg.ConsumerSecret),
			Now:            cfg.Now,
			Nonce:          cfg.Nonce,
		},
		rest: rest,
	}, nil
}

func (p *OAuth1Provider) ID() string {
	if p == nil {
		return ""
	}
	return p.cfg.ID
}

func (*OAuth1Provider) Protocol() core.Protocol {
	return core.ProtocolOAuth1
}

func (p *OAuth1Provider) Now() time.Time {
	return p.cfg.Now().UTC()
}

// BeginAuth obtains a request token and returns the authorize URL together
// with the handshake the callback needs.
func (p *OAuth1Provider) BeginAuth(ctx context.Context, req core.BeginAuthRequest) (core.BeginAuthResponse, error) {
	callback := strings.TrimSpace(req.RedirectURI)
	if callback == "" {
		callback = "oob"
	}
	values, err := p.tokenRequest(ctx, p.cfg.RequestTokenURL, core.OAuth1Request{
		Method:      http.MethodPost,
		URL:         p.cfg.RequestTokenURL,
		OAuthParams: map[string]string{"oauth_callback": callback},
	})
	if err != nil {
		return core.BeginAuthResponse{}, core.ReclassifyError(core.KindTokenExchangeFailed, err, "providers: request token step failed")
	}
	requestToken := strings.TrimSpace(values.Get("oauth_token"))
	requestSecret := strings.TrimSpace(values.Get("oauth_token_secret"))
	if requestToken == "" || requestSecret == "" {
		return core.BeginAuthResponse{}, core.NewError(core.KindTokenExchangeFailed, "providers: request token response missing token or secret")
	}

	authorize := url.Values{}
	authorize.Set("oauth_token", requestToken)
	authURL := p.cfg.AuthorizeURL
	if strings.Contains(authURL, "?") {
		authURL += "&" + authorize.Encode()
	} else {
		authURL += "?" + authorize.Encode()
	}

	return core.BeginAuthResponse{
		URL: authURL,
		Handshake: &core.PendingHandshake{
			UserID:             req.UserID,
			ProviderID:         p.cfg.ID,
			RequestToken:       requestToken,
			RequestTokenSecret: requestSecret,
		},
	}, nil
}

func (p *OAuth1Provider) CompleteAuth(ctx context.Context, req core.CompleteAuthRequest) (core.TokenSet, error) {
	if strings.TrimSpace(req.RequestToken) == "" || strings.TrimSpace(req.Verifier) == "" {
		return core.TokenSet{}, core.NewError(core.KindTokenExchangeFailed, "providers: request token and verifier are required")
	}
	values, err := p.tokenRequest(ctx, p.cfg.AccessTokenURL, core.OAuth1Request{
		Method:      http.MethodPost,
		URL:         p.cfg.AccessTokenURL,
		Token:       req.RequestToken,
		TokenSecret: req.RequestTokenSecret,
		OAuthParams: map[string]string{"oauth_verifier": strings.TrimSpace(req.Verifier)},
	})
	if err != nil {
		return core.TokenSet{}, core.ReclassifyError(core.KindTokenExchangeFailed, err, "providers: access token step failed")
	}
	accessToken := strings.TrimSpace(values.Get("oauth_token"))
	tokenSecret := strings.TrimSpace(values.Get("oauth_token_secret"))
	if accessToken == "" || tokenSecret == "" {
		return core.TokenSet{}, core.NewError(core.KindTokenExchangeFailed, "providers: access token response missing token or secret")
	}
	raw := make(map[string]any, len(values))
	for key := range values {
		raw[key] = values.Get(key)
	}
	return core.TokenSet{
		AccessToken: accessToken,
		TokenSecret: tokenSecret,
		TokenType:   "oauth1",
		Raw:         raw,
	}, nil
}

func (*OAuth1Provider) Refresh(context.Context, core.Connection) (core.TokenSet, error) {
	return core.TokenSet{}, core.ErrRefreshUnsupported
}

func (p *OAuth1Provider) Revoke(ctx context.Context, conn core.Connection) error {
	if strings.TrimSpace(p.cfg.RevokeURL) == "" {
		return core.ErrRevokeUnsupported
	}
	return p.SignedJSON(ctx, conn, p.cfg.RevokeMethod, p.cfg.RevokeURL, nil, nil)
}

// GetJSON performs a signed data API GET and decodes the response.
func (p *OAuth1Provider) GetJSON(ctx context.Context, conn core.Connection, endpoint string, query map[string]string, out any) error {
	return p.SignedJSON(ctx, conn, http.MethodGet, endpoint, query, out)
}

func (p *OAuth1Provider) SignedJSON(ctx context.Context, conn core.Connection, method string, endpoint string, query map[string]string, out any) error {
	if strings.TrimSpace(conn.AccessToken) == "" {
		return core.NewError(core.KindFetchFailed, "providers: connection has no access token")
	}
	header, err := p.signer.AuthorizationHeader(core.OAuth1Request{
		Method:      method,
		URL:         endpoint,
		Token:       conn.AccessToken,
		TokenSecret: conn.TokenSecret,
		Params:      query,
	})
	if err != nil {
		return core.WrapError(core.KindConfiguration, err, "providers: sign request")
	}
	_, err = p.rest.DoJSON(ctx, core.TransportRequest{
		Method:  method,
		URL:     endpoint,
		Query:   query,
		Headers: map[string]string{"Authorization": header},
	}, out)
	return err
}

func (p *OAuth1Provider) tokenRequest(ctx context.Context, endpoint string, req core.OAuth1Request) (url.Values, error) {
	header, err := p.signer.AuthorizationHeader(req)
	if err != nil {
		return nil, err
	}
	response, err := p.rest.Do(ctx, core.TransportRequest{
		Method:               req.Method,
		URL:                  endpoint,
		Headers:              map[string]string{"Authorization": header},
		MaxResponseBodyBytes: maxTokenResponseBodyBytes,
	})
	if err != nil {
		return nil, err
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("providers: token endpoint error (%d): %s", response.StatusCode, strings.TrimSpace(string(response.Body)))
	}
	values, err := url.ParseQuery(strings.TrimSpace(string(response.Body)))
	if err != nil {
		return nil, fmt.Errorf("providers: decode token response: %w", err)
	}
	return values, nil
}

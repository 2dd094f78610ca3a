package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/transport"
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

type HTTPDoer = transport.HTTPDoer

// RevokeStyle selects how the access token is presented to a revoke endpoint.
type RevokeStyle string

const (
	// RevokeFormToken posts token=<access token> with client authentication (RFC 7009).
	RevokeFormToken RevokeStyle = "form_token"
	// RevokeBearer sends the access token as a bearer credential.
	RevokeBearer RevokeStyle = "bearer"
	// RevokeQueryToken sends the access token in the access_token query parameter.
	RevokeQueryToken RevokeStyle = "query_token"
)

type OAuth2Config struct {
	ID                 string
	AuthURL            string
	TokenURL           string
	RevokeURL          string
	RevokeMethod       string
	RevokeStyle        RevokeStyle
	ClientID           string
	ClientSecret       string
	ClientSecretInBody bool
	DefaultScopes      []string
	// ScopeSeparator joins scopes in the authorize URL. Defaults to a space.
	ScopeSeparator string
	AuthParams     map[string]string
	// TokenTTL applies when the token endpoint reports no expiry. Zero means
	// such tokens never expire.
	TokenTTL            time.Duration
	TokenRequestTimeout time.Duration
	// ExternalUserID extracts the provider account id from the raw token payload.
	ExternalUserID func(raw map[string]any) string
	Now            func() time.Time
	HTTPClient     HTTPDoer
}

// OAuth2Provider implements the authorization-code flow shared by the OAuth2
// fitness providers. Provider packages embed it and add data fetch and mapping.
type OAuth2Provider struct {
	cfg  OAuth2Config
	rest *transport.RESTAdapter
}

func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, core.NewError(core.KindConfiguration, "providers: provider id is required")
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return nil, core.NewError(core.KindConfiguration, fmt.Sprintf("providers: auth url is required for provider %q", cfg.ID))
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, core.NewError(core.KindConfiguration, fmt.Sprintf("providers: token url is required for provider %q", cfg.ID))
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, core.NewError(core.KindConfiguration, fmt.Sprintf("providers: client id is required for provider %q", cfg.ID))
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, core.NewError(core.KindConfiguration, fmt.Sprintf("providers: client secret is required for provider %q", cfg.ID))
	}

	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.RevokeURL = strings.TrimSpace(cfg.RevokeURL)
	cfg.RevokeMethod = strings.ToUpper(strings.TrimSpace(cfg.RevokeMethod))
	if cfg.RevokeMethod == "" {
		cfg.RevokeMethod = http.MethodPost
	}
	if cfg.RevokeStyle == "" {
		cfg.RevokeStyle = RevokeFormToken
	}
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.DefaultScopes = normalizeScopes(cfg.DefaultScopes)
	if cfg.ScopeSeparator == "" {
		cfg.ScopeSeparator = " "
	}
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}

	rest := transport.NewRESTAdapter(cfg.HTTPClient)
	rest.DefaultTimeout = cfg.TokenRequestTimeout

	return &OAuth2Provider{cfg: cfg, rest: rest}, nil
}

func (p *OAuth2Provider) ID() string {
	if p == nil {
		return ""
	}
	return p.cfg.ID
}

func (*OAuth2Provider) Protocol() core.Protocol {
	return core.ProtocolOAuth2
}

// Transport returns the REST adapter shared by token and data calls.
func (p *OAuth2Provider) Transport() *transport.RESTAdapter {
	return p.rest
}

// Now returns the provider clock.
func (p *OAuth2Provider) Now() time.Time {
	return p.cfg.Now().UTC()
}

func (p *OAuth2Provider) BeginAuth(_ context.Context, req core.BeginAuthRequest) (core.BeginAuthResponse, error) {
	if p == nil {
		return core.BeginAuthResponse{}, core.NewError(core.KindConfiguration, "providers: oauth2 provider is nil")
	}
	state := strings.TrimSpace(req.State)
	if state == "" {
		return core.BeginAuthResponse{}, core.NewError(core.KindInvalidRequest, "providers: oauth state is required")
	}

	values := url.Values{}
	for key, value := range p.cfg.AuthParams {
		values.Set(key, value)
	}
	values.Set("response_type", "code")
	values.Set("client_id", p.cfg.ClientID)
	if redirectURI := strings.TrimSpace(req.RedirectURI); redirectURI != "" {
		values.Set("redirect_uri", redirectURI)
	}
	if len(p.cfg.DefaultScopes) > 0 {
		values.Set("scope", strings.Join(p.cfg.DefaultScopes, p.cfg.ScopeSeparator))
	}
	values.Set("state", state)

	authURL := p.cfg.AuthURL
	if strings.Contains(authURL, "?") {
		authURL += "&" + values.Encode()
	} else {
		authURL += "?" + values.Encode()
	}
	return core.BeginAuthResponse{URL: authURL}, nil
}

func (p *OAuth2Provider) CompleteAuth(ctx context.Context, req core.CompleteAuthRequest) (core.TokenSet, error) {
	if p == nil {
		return core.TokenSet{}, core.NewError(core.KindConfiguration, "providers: oauth2 provider is nil")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return core.TokenSet{}, core.NewError(core.KindTokenExchangeFailed, "providers: auth code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if redirectURI := strings.TrimSpace(req.RedirectURI); redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	payload, err := p.fetchToken(ctx, form)
	if err != nil {
		return core.TokenSet{}, core.ReclassifyError(core.KindTokenExchangeFailed, err, "providers: code exchange failed")
	}
	token := p.tokenSet(payload)
	if len(token.Scopes) == 0 {
		token.Scopes = append([]string(nil), p.cfg.DefaultScopes...)
	}
	return token, nil
}

func (p *OAuth2Provider) Refresh(ctx context.Context, conn core.Connection) (core.TokenSet, error) {
	if p == nil {
		return core.TokenSet{}, core.NewError(core.KindConfiguration, "providers: oauth2 provider is nil")
	}
	refreshToken := strings.TrimSpace(conn.RefreshToken)
	if refreshToken == "" {
		return core.TokenSet{}, core.NewError(core.KindRefreshFailed, "providers: refresh token is required")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	payload, err := p.fetchToken(ctx, form)
	if err != nil {
		return core.TokenSet{}, core.ReclassifyError(core.KindRefreshFailed, err, "providers: token refresh failed")
	}
	token := p.tokenSet(payload)
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	if len(token.Scopes) == 0 {
		token.Scopes = append([]string(nil), conn.Scopes...)
	}
	if token.ExternalUserID == "" {
		token.ExternalUserID = conn.ExternalUserID
	}
	return token, nil
}

func (p *OAuth2Provider) Revoke(ctx context.Context, conn core.Connection) error {
	if p == nil {
		return core.NewError(core.KindConfiguration, "providers: oauth2 provider is nil")
	}
	if p.cfg.RevokeURL == "" {
		return core.ErrRevokeUnsupported
	}
	accessToken := strings.TrimSpace(conn.AccessToken)
	if accessToken == "" {
		return core.NewError(core.KindInvalidRequest, "providers: access token is required for revoke")
	}

	req := core.TransportRequest{
		Method:  p.cfg.RevokeMethod,
		URL:     p.cfg.RevokeURL,
		Headers: map[string]string{},
	}
	switch p.cfg.RevokeStyle {
	case RevokeBearer:
		req.Headers["Authorization"] = "Bearer " + accessToken
	case RevokeQueryToken:
		req.Query = map[string]string{"access_token": accessToken}
	default:
		form := url.Values{}
		form.Set("token", accessToken)
		p.applyClientAuth(form, req.Headers)
		req.Headers["Content-Type"] = "application/x-www-form-urlencoded"
		req.Body = []byte(form.Encode())
	}

	_, err := p.rest.DoJSON(ctx, req, nil)
	return err
}

// GetJSON performs an authorized data API call and decodes the response.
func (p *OAuth2Provider) GetJSON(ctx context.Context, conn core.Connection, endpoint string, query map[string]string, out any) error {
	if strings.TrimSpace(conn.AccessToken) == "" {
		return core.NewError(core.KindFetchFailed, "providers: connection has no access token")
	}
	_, err := p.rest.DoJSON(ctx, core.TransportRequest{
		Method:  http.MethodGet,
		URL:     endpoint,
		Query:   query,
		Headers: map[string]string{"Authorization": "Bearer " + strings.TrimSpace(conn.AccessToken)},
	}, out)
	return err
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ExpiresAt        int64
	ErrorCode        string
	ErrorDescription string
	Raw              map[string]any
}

func (p *OAuth2Provider) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, error) {
	headers := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	p.applyClientAuth(values, headers)

	response, err := p.rest.Do(ctx, core.TransportRequest{
		Method:               http.MethodPost,
		URL:                  p.cfg.TokenURL,
		Headers:              headers,
		Body:                 []byte(values.Encode()),
		MaxResponseBodyBytes: maxTokenResponseBodyBytes,
	})
	if err != nil {
		return tokenEndpointPayload{}, err
	}

	payload, parseErr := parseTokenPayload(response.Body, response.Headers["Content-Type"])
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		if parseErr != nil {
			return tokenEndpointPayload{}, fmt.Errorf("providers: token endpoint error (%d)", response.StatusCode)
		}
		return tokenEndpointPayload{}, fmt.Errorf(
			"providers: token endpoint error (%d): %s",
			response.StatusCode,
			describeTokenError(payload),
		)
	}
	if parseErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: decode token response: %w", parseErr)
	}
	if payload.ErrorCode != "" {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token endpoint error: %s", describeTokenError(payload))
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token endpoint response missing access token")
	}
	return payload, nil
}

func (p *OAuth2Provider) applyClientAuth(form url.Values, headers map[string]string) {
	form.Set("client_id", p.cfg.ClientID)
	if p.cfg.ClientSecretInBody {
		form.Set("client_secret", p.cfg.ClientSecret)
		return
	}
	headers["Authorization"] = basicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
}

func (p *OAuth2Provider) tokenSet(payload tokenEndpointPayload) core.TokenSet {
	token := core.TokenSet{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
		TokenType:    normalizeTokenType(payload.TokenType),
		ExpiresIn:    payload.ExpiresIn,
		ExpiresAt:    p.resolveExpiresAt(p.Now(), payload.ExpiresIn, payload.ExpiresAt),
		Scopes:       normalizeScopes(parseScopeList(payload.Scope)),
		Raw:          payload.Raw,
	}
	if p.cfg.ExternalUserID != nil && payload.Raw != nil {
		token.ExternalUserID = strings.TrimSpace(p.cfg.ExternalUserID(payload.Raw))
	}
	return token
}

func (p *OAuth2Provider) resolveExpiresAt(now time.Time, expiresIn int64, expiresAt int64) *time.Time {
	if expiresAt > 0 {
		at := time.Unix(expiresAt, 0).UTC()
		return &at
	}
	ttl := p.cfg.TokenTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}
	if ttl <= 0 {
		return nil
	}
	at := now.Add(ttl)
	return &at
}

func describeTokenError(payload tokenEndpointPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ExpiresAt:        readAnyInt64(decoded["expires_at"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
		Raw:              decoded,
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	raw := make(map[string]any, len(values))
	for key := range values {
		raw[key] = values.Get(key)
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
		Raw:              raw,
	}, nil
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

var _ interface {
	ID() string
	Protocol() core.Protocol
	BeginAuth(context.Context, core.BeginAuthRequest) (core.BeginAuthResponse, error)
	CompleteAuth(context.Context, core.CompleteAuthRequest) (core.TokenSet, error)
	Refresh(context.Context, core.Connection) (core.TokenSet, error)
	Revoke(context.Context, core.Connection) error
} = (*OAuth2Provider)(nil)

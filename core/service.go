package core

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type CallbackStatus string

const (
	CallbackConnected CallbackStatus = "connected"
	CallbackDenied    CallbackStatus = "denied"
	CallbackError     CallbackStatus = "error"
)

type InitiateRequest struct {
	ProviderID string
	UserID     string
}

type InitiateResult struct {
	ProviderID string
	Protocol   Protocol
	URL        string
}

// CallbackRequest carries the provider redirect parameters. OAuth2 providers
// fill Code, State and Error; OAuth1.0a providers fill OAuthToken,
// OAuthVerifier and Denied.
type CallbackRequest struct {
	ProviderID       string
	Code             string
	State            string
	Error            string
	ErrorDescription string
	OAuthToken       string
	OAuthVerifier    string
	Denied           string
}

type CallbackResult struct {
	ProviderID string
	Status     CallbackStatus
	Reason     ErrorKind
	Connection Connection
	Err        error
}

type DisconnectRequest struct {
	ProviderID string
	UserID     string
}

// Service drives the OAuth handshake, the callback token exchange and the
// disconnect path for every registered provider.
type Service struct {
	config         Config
	logger         Logger
	loggerProvider LoggerProvider
	observer       *Observer
	registry       Registry
	connections    ConnectionStore
	handshakes     HandshakeStore
	trigger        SyncTrigger
	events         EventSink
	stateCodec     StateCodec
	now            func() time.Time
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	Registry        Registry
	ConnectionStore ConnectionStore
	HandshakeStore  HandshakeStore
	SyncTrigger     SyncTrigger
	EventSink       EventSink
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("fitsync", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("fitsync"); named != nil {
			logger = glog.Ensure(named)
		}
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}
	if builder.stores != nil {
		if builder.connectionStore == nil {
			builder.connectionStore = builder.stores.ConnectionStore()
		}
		if builder.handshakeStore == nil {
			builder.handshakeStore = builder.stores.HandshakeStore()
		}
	}

	finalConfig, err := LoadConfig(context.Background(), builder.configProvider, builder.optionsResolver, builder.runtimeConfig)
	if err != nil {
		return nil, WrapError(KindConfiguration, err, "core: resolve configuration")
	}
	if builder.connectionStore == nil {
		return nil, NewError(KindConfiguration, "core: connection store is required")
	}

	stateSecret := []byte(finalConfig.OAuth.StateSecret)
	if len(stateSecret) == 0 {
		stateSecret = make([]byte, 32)
		if _, err := rand.Read(stateSecret); err != nil {
			return nil, WrapError(KindConfiguration, err, "core: generate oauth state secret")
		}
		logger.Warn("oauth.state_secret is not set; using a per-process secret, pending callbacks will not survive a restart")
	}

	observer := &Observer{Logger: logger, Metrics: builder.metricsRecorder, Prefix: finalConfig.ServiceName}
	events := builder.eventSink
	if events == nil {
		events = LoggingEventSink{Observer: observer}
	}

	return &Service{
		config:         finalConfig,
		logger:         logger,
		loggerProvider: provider,
		observer:       observer,
		registry:       builder.registry,
		connections:    builder.connectionStore,
		handshakes:     builder.handshakeStore,
		trigger:        builder.syncTrigger,
		events:         events,
		stateCodec: StateCodec{
			Secret: stateSecret,
			TTL:    finalConfig.OAuth.StateTTL(),
			Now:    builder.now,
		},
		now: builder.now,
	}, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Observer() *Observer {
	if s == nil {
		return nil
	}
	return s.observer
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		Registry:        s.registry,
		ConnectionStore: s.connections,
		HandshakeStore:  s.handshakes,
		SyncTrigger:     s.trigger,
		EventSink:       s.events,
	}
}

// Initiate starts the authorization flow and returns the provider URL the
// user must be redirected to.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (result InitiateResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": req.ProviderID,
		"user_id":     req.UserID,
	}
	defer func() {
		s.observer.Observe(ctx, startedAt, "initiate", err, fields)
	}()

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return InitiateResult{}, NewError(KindInvalidRequest, "core: user id is required")
	}
	provider, err := ResolveProvider(s.registry, req.ProviderID)
	if err != nil {
		return InitiateResult{}, err
	}
	providerID := provider.ID()
	redirectURI := s.config.OAuth.CallbackURL(providerID)

	switch provider.Protocol() {
	case ProtocolOAuth1:
		if s.handshakes == nil {
			return InitiateResult{}, NewError(KindConfiguration, "core: handshake store is required for oauth1 providers")
		}
		response, beginErr := provider.BeginAuth(ctx, BeginAuthRequest{
			ProviderID:  providerID,
			UserID:      userID,
			RedirectURI: redirectURI,
		})
		if beginErr != nil {
			return InitiateResult{}, WrapError(KindTokenExchangeFailed, beginErr, "core: request token step failed")
		}
		if response.Handshake == nil || strings.TrimSpace(response.Handshake.RequestToken) == "" {
			return InitiateResult{}, NewError(KindTokenExchangeFailed, "core: provider returned no request token")
		}
		handshake := *response.Handshake
		handshake.UserID = userID
		handshake.ProviderID = providerID
		handshake.CreatedAt = s.now()
		if saveErr := s.handshakes.Save(ctx, handshake); saveErr != nil {
			return InitiateResult{}, WrapError(KindPersistenceFailed, saveErr, "core: save pending handshake")
		}
		result = InitiateResult{ProviderID: providerID, Protocol: ProtocolOAuth1, URL: response.URL}
	default:
		state, stateErr := s.stateCodec.Encode(userID, providerID)
		if stateErr != nil {
			return InitiateResult{}, stateErr
		}
		response, beginErr := provider.BeginAuth(ctx, BeginAuthRequest{
			ProviderID:  providerID,
			UserID:      userID,
			RedirectURI: redirectURI,
			State:       state,
		})
		if beginErr != nil {
			return InitiateResult{}, WrapError(KindConfiguration, beginErr, "core: build authorization url")
		}
		result = InitiateResult{ProviderID: providerID, Protocol: ProtocolOAuth2, URL: response.URL}
	}
	if strings.TrimSpace(result.URL) == "" {
		return InitiateResult{}, NewError(KindConfiguration, "core: provider returned an empty authorization url")
	}
	return result, nil
}

// Callback completes the flow. Handshake and exchange failures are recovered
// into the result status; the returned error is reserved for failures the
// caller cannot redirect, an unknown or unconfigured provider.
func (s *Service) Callback(ctx context.Context, req CallbackRequest) (result CallbackResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"provider_id": req.ProviderID}
	defer func() {
		fields["status"] = string(result.Status)
		if result.Connection.ID != "" {
			fields["connection_id"] = result.Connection.ID
			fields["user_id"] = result.Connection.UserID
		}
		observed := err
		if observed == nil && result.Status == CallbackError {
			observed = result.Err
		}
		s.observer.Observe(ctx, startedAt, "callback", observed, fields)
	}()

	provider, err := ResolveProvider(s.registry, req.ProviderID)
	if err != nil {
		return CallbackResult{ProviderID: req.ProviderID, Status: CallbackError, Reason: KindOf(err), Err: err}, err
	}
	providerID := provider.ID()

	var (
		userID   string
		exchange CompleteAuthRequest
	)
	switch provider.Protocol() {
	case ProtocolOAuth1:
		if strings.TrimSpace(req.Denied) != "" {
			s.discardHandshake(ctx, providerID, req.Denied)
			return s.denied(ctx, providerID, ""), nil
		}
		if s.handshakes == nil {
			err = NewError(KindConfiguration, "core: handshake store is required for oauth1 providers")
			return CallbackResult{ProviderID: providerID, Status: CallbackError, Reason: KindConfiguration, Err: err}, err
		}
		token := strings.TrimSpace(req.OAuthToken)
		verifier := strings.TrimSpace(req.OAuthVerifier)
		if token == "" {
			return s.failed(providerID, NewError(KindHandshakeInvalid, "core: oauth_token is required")), nil
		}
		if strings.EqualFold(verifier, "null") {
			s.discardHandshake(ctx, providerID, token)
			return s.denied(ctx, providerID, ""), nil
		}
		if verifier == "" {
			return s.failed(providerID, NewError(KindHandshakeInvalid, "core: oauth_verifier is required")), nil
		}
		handshake, consumeErr := s.handshakes.Consume(ctx, providerID, token)
		if consumeErr != nil {
			return s.failed(providerID, WrapError(KindHandshakeInvalid, consumeErr, "core: unknown request token")), nil
		}
		if handshake.Expired(s.now(), s.config.OAuth.HandshakeTTL()) {
			return s.failed(providerID, NewError(KindHandshakeInvalid, "core: pending handshake expired")), nil
		}
		userID = handshake.UserID
		exchange = CompleteAuthRequest{
			ProviderID:         providerID,
			UserID:             userID,
			RequestToken:       handshake.RequestToken,
			RequestTokenSecret: handshake.RequestTokenSecret,
			Verifier:           verifier,
		}
	default:
		if providerError := strings.TrimSpace(req.Error); providerError != "" {
			if strings.EqualFold(providerError, "access_denied") {
				state, _ := s.stateCodec.Decode(req.State, providerID)
				return s.denied(ctx, providerID, state.UserID), nil
			}
			message := "core: provider returned error " + providerError
			if desc := strings.TrimSpace(req.ErrorDescription); desc != "" {
				message += ": " + desc
			}
			return s.failed(providerID, NewError(KindTokenExchangeFailed, message)), nil
		}
		code := strings.TrimSpace(req.Code)
		if code == "" {
			return s.failed(providerID, NewError(KindHandshakeInvalid, "core: authorization code is required")), nil
		}
		state, stateErr := s.stateCodec.Decode(req.State, providerID)
		if stateErr != nil {
			return s.failed(providerID, stateErr), nil
		}
		userID = state.UserID
		exchange = CompleteAuthRequest{
			ProviderID:  providerID,
			UserID:      userID,
			Code:        code,
			RedirectURI: s.config.OAuth.CallbackURL(providerID),
		}
	}
	fields["user_id"] = userID

	token, exchangeErr := provider.CompleteAuth(ctx, exchange)
	if exchangeErr != nil {
		return s.failed(providerID, WrapError(KindTokenExchangeFailed, exchangeErr, "core: token exchange failed")), nil
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return s.failed(providerID, NewError(KindTokenExchangeFailed, "core: token response has no access token")), nil
	}
	if token.ExpiresAt == nil && token.ExpiresIn > 0 {
		expiresAt := s.now().Add(time.Duration(token.ExpiresIn) * time.Second)
		token.ExpiresAt = &expiresAt
	}

	conn, upsertErr := s.connections.Upsert(ctx, UpsertConnectionInput{
		UserID:         userID,
		ProviderID:     providerID,
		ExternalUserID: token.ExternalUserID,
		Token:          token,
	})
	if upsertErr != nil {
		return s.failed(providerID, WrapError(KindPersistenceFailed, upsertErr, "core: save connection")), nil
	}

	s.publish(ctx, ConnectionEvent{
		Type:         EventConnected,
		UserID:       conn.UserID,
		ProviderID:   providerID,
		ConnectionID: conn.ID,
	})
	s.triggerInitialSync(ctx, conn)

	return CallbackResult{ProviderID: providerID, Status: CallbackConnected, Connection: conn}, nil
}

// Disconnect revokes remotely on a best-effort basis and removes the
// connection. Disconnecting an absent connection is a no-op.
func (s *Service) Disconnect(ctx context.Context, req DisconnectRequest) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": req.ProviderID,
		"user_id":     req.UserID,
	}
	defer func() {
		s.observer.Observe(ctx, startedAt, "disconnect", err, fields)
	}()

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return NewError(KindInvalidRequest, "core: user id is required")
	}
	provider, err := ResolveProvider(s.registry, req.ProviderID)
	if err != nil {
		return err
	}
	providerID := provider.ID()

	conn, found, err := s.connections.FindActive(ctx, userID, providerID)
	if err != nil {
		return WrapError(KindPersistenceFailed, err, "core: load connection")
	}
	if !found {
		fields["found"] = false
		return nil
	}
	fields["connection_id"] = conn.ID

	if revokeErr := provider.Revoke(ctx, conn); revokeErr != nil && !errors.Is(revokeErr, ErrRevokeUnsupported) {
		s.observer.Error(ctx, "remote revoke failed", map[string]any{
			"provider_id":   providerID,
			"connection_id": conn.ID,
			"error":         revokeErr.Error(),
		})
	}
	if _, err = s.connections.Delete(ctx, userID, providerID); err != nil {
		return WrapError(KindPersistenceFailed, err, "core: delete connection")
	}
	s.publish(ctx, ConnectionEvent{
		Type:         EventDisconnected,
		UserID:       userID,
		ProviderID:   providerID,
		ConnectionID: conn.ID,
	})
	return nil
}

// PurgeExpiredHandshakes deletes pending handshakes older than the
// configured handshake window.
func (s *Service) PurgeExpiredHandshakes(ctx context.Context) (purged int, err error) {
	if s == nil || s.handshakes == nil {
		return 0, nil
	}
	startedAt := time.Now().UTC()
	defer func() {
		s.observer.Observe(ctx, startedAt, "purge_handshakes", err, map[string]any{"purged": purged})
	}()
	cutoff := s.now().Add(-s.config.OAuth.HandshakeTTL())
	purged, err = s.handshakes.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, WrapError(KindPersistenceFailed, err, "core: purge pending handshakes")
	}
	return purged, nil
}

func (s *Service) denied(ctx context.Context, providerID string, userID string) CallbackResult {
	s.publish(ctx, ConnectionEvent{Type: EventDenied, UserID: userID, ProviderID: providerID})
	return CallbackResult{ProviderID: providerID, Status: CallbackDenied, Reason: KindUserDenied}
}

func (s *Service) failed(providerID string, err error) CallbackResult {
	return CallbackResult{ProviderID: providerID, Status: CallbackError, Reason: KindOf(err), Err: err}
}

func (s *Service) discardHandshake(ctx context.Context, providerID string, token string) {
	token = strings.TrimSpace(token)
	if s.handshakes == nil || token == "" {
		return
	}
	_, _ = s.handshakes.Consume(ctx, providerID, token)
}

func (s *Service) triggerInitialSync(ctx context.Context, conn Connection) {
	if s.trigger == nil {
		return
	}
	if err := s.trigger.TriggerSync(context.WithoutCancel(ctx), conn, SyncKindInitial); err != nil {
		s.observer.Error(ctx, "initial sync trigger failed", map[string]any{
			"provider_id":   conn.ProviderID,
			"connection_id": conn.ID,
			"error":         err.Error(),
		})
	}
}

func (s *Service) publish(ctx context.Context, event ConnectionEvent) {
	if s.events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.observer.Error(ctx, "publish connection event failed", map[string]any{
			"event": string(event.Type),
			"error": err.Error(),
		})
	}
}

func (r CallbackResult) String() string {
	if r.Reason == "" {
		return string(r.Status)
	}
	return fmt.Sprintf("%s (%s)", r.Status, r.Reason)
}

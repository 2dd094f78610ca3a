package core

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OAuthState is the self-describing OAuth2 state parameter. It travels
// base64url-encoded JSON and needs no server-side record.
type OAuthState struct {
	UserID     string `json:"user_id"`
	ProviderID string `json:"provider,omitempty"`
	Timestamp  int64  `json:"ts"`
	Nonce      string `json:"nonce,omitempty"`
	Signature  string `json:"sig,omitempty"`
}

// StateCodec encodes and validates OAuth2 state values. With a Secret the
// state is HMAC-SHA256 signed; TTL bounds the replay window.
type StateCodec struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func (c StateCodec) Encode(userID string, providerID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", NewError(KindInvalidRequest, "core: oauth state user id is required")
	}
	nonce, err := randomToken(12)
	if err != nil {
		return "", err
	}
	state := OAuthState{
		UserID:     userID,
		ProviderID: strings.TrimSpace(providerID),
		Timestamp:  c.now().Unix(),
		Nonce:      nonce,
	}
	if len(c.Secret) > 0 {
		state.Signature = c.sign(state)
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("core: encode oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// Decode parses raw and checks signature, provider binding and age.
func (c StateCodec) Decode(raw string, providerID string) (OAuthState, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return OAuthState{}, NewError(KindHandshakeInvalid, "core: oauth state is required")
	}
	payload, err := decodeBase64Any(raw)
	if err != nil {
		return OAuthState{}, WrapError(KindHandshakeInvalid, err, "core: oauth state is not valid base64")
	}
	var state OAuthState
	if err := json.Unmarshal(payload, &state); err != nil {
		return OAuthState{}, WrapError(KindHandshakeInvalid, err, "core: oauth state is not valid json")
	}
	if strings.TrimSpace(state.UserID) == "" {
		return OAuthState{}, NewError(KindHandshakeInvalid, "core: oauth state is missing user id")
	}
	if state.Timestamp <= 0 {
		return OAuthState{}, NewError(KindHandshakeInvalid, "core: oauth state is missing timestamp")
	}
	if len(c.Secret) > 0 {
		expected := c.sign(state)
		if !hmac.Equal([]byte(expected), []byte(state.Signature)) {
			return OAuthState{}, NewError(KindHandshakeInvalid, "core: oauth state signature mismatch")
		}
	}
	providerID = strings.TrimSpace(providerID)
	if state.ProviderID != "" && providerID != "" && state.ProviderID != providerID {
		return OAuthState{}, NewError(KindHandshakeInvalid, "core: oauth state was issued for another provider")
	}
	if c.TTL > 0 {
		issued := time.Unix(state.Timestamp, 0)
		now := c.now()
		if now.Sub(issued) > c.TTL || issued.Sub(now) > time.Minute {
			return OAuthState{}, NewError(KindHandshakeInvalid, "core: oauth state is outside the replay window")
		}
	}
	return state, nil
}

func (c StateCodec) sign(state OAuthState) string {
	mac := hmac.New(sha256.New, c.Secret)
	mac.Write([]byte(strings.Join([]string{
		state.UserID,
		state.ProviderID,
		strconv.FormatInt(state.Timestamp, 10),
		state.Nonce,
	}, "|")))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (c StateCodec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func decodeBase64Any(raw string) ([]byte, error) {
	for _, encoding := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		if decoded, err := encoding.DecodeString(raw); err == nil {
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("core: undecodable base64 value")
}

func randomToken(size int) (string, error) {
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

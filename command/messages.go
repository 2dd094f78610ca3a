package command

import (
	"strings"

	"github.com/goliatone/go-fitsync/core"
	fsync "github.com/goliatone/go-fitsync/sync"
)

const (
	TypeInitiate         = "fitsync.command.connect.initiate"
	TypeCompleteCallback = "fitsync.command.connect.callback"
	TypeDisconnect       = "fitsync.command.connect.disconnect"
	TypeSync             = "fitsync.command.sync.run"
	TypePurgeHandshakes  = "fitsync.command.handshake.purge"
)

type InitiateMessage struct {
	Request core.InitiateRequest
}

func (InitiateMessage) Type() string { return TypeInitiate }

func (m InitiateMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandValidationError("provider", "provider id is required")
	}
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	return nil
}

// CompleteCallbackMessage carries raw redirect parameters. Missing state or
// token parameters are not rejected here: the callback turns them into an
// error redirect.
type CompleteCallbackMessage struct {
	Request core.CallbackRequest
}

func (CompleteCallbackMessage) Type() string { return TypeCompleteCallback }

func (m CompleteCallbackMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandValidationError("provider", "provider id is required")
	}
	return nil
}

type DisconnectMessage struct {
	Request core.DisconnectRequest
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandValidationError("provider", "provider id is required")
	}
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	return nil
}

type SyncMessage struct {
	Request fsync.SyncRequest
}

func (SyncMessage) Type() string { return TypeSync }

func (m SyncMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandValidationError("provider", "provider id is required")
	}
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("userId", "user id is required")
	}
	if m.Request.Kind != "" && !m.Request.Kind.Valid() {
		return commandValidationError("syncType", "sync type must be initial or automatic")
	}
	return nil
}

type PurgeHandshakesMessage struct{}

func (PurgeHandshakesMessage) Type() string { return TypePurgeHandshakes }

func (PurgeHandshakesMessage) Validate() error { return nil }

package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-fitsync/core"
)

var (
	_ gocmd.Commander[InitiateMessage]         = (*InitiateCommand)(nil)
	_ gocmd.Commander[CompleteCallbackMessage] = (*CompleteCallbackCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]       = (*DisconnectCommand)(nil)
	_ gocmd.Commander[SyncMessage]             = (*SyncCommand)(nil)
	_ gocmd.Commander[PurgeHandshakesMessage]  = (*PurgeHandshakesCommand)(nil)

	_ ConnectionService = (*core.Service)(nil)
)

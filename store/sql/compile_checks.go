package sqlstore

import "github.com/goliatone/go-fitsync/core"

var (
	_ core.ConnectionStore = (*ConnectionStore)(nil)
	_ core.HandshakeStore  = (*HandshakeStore)(nil)
	_ core.MetricStore     = (*MetricStore)(nil)
	_ core.SyncRecordStore = (*SyncRecordStore)(nil)
	_ core.StoreProvider   = (*RepositoryFactory)(nil)
)

package core

// SyncOutcome is the result of one connection sync: SyncSuccess or
// SyncFailure. The interface is sealed.
type SyncOutcome interface {
	Succeeded() bool
	syncOutcome()
}

type SyncSuccess struct {
	SyncID        string
	RecordsSynced int
	Range         *DateRange
}

func (SyncSuccess) Succeeded() bool { return true }

func (SyncSuccess) syncOutcome() {}

type SyncFailure struct {
	SyncID  string
	Kind    ErrorKind
	Message string
}

func (SyncFailure) Succeeded() bool { return false }

func (SyncFailure) syncOutcome() {}

// FailureFromError classifies err into a SyncFailure.
func FailureFromError(syncID string, err error) SyncFailure {
	if err == nil {
		return SyncFailure{SyncID: syncID}
	}
	return SyncFailure{
		SyncID:  syncID,
		Kind:    KindOf(err),
		Message: err.Error(),
	}
}

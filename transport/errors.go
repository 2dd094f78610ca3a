package transport

import (
	"github.com/goliatone/go-fitsync/core"
)

func transportError(kind core.ErrorKind, message string, metadata map[string]any) error {
	err := core.NewError(kind, message)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(source error, kind core.ErrorKind, message string, metadata map[string]any) error {
	if source == nil {
		return transportError(kind, message, metadata)
	}
	err := core.WrapError(kind, source, message)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

type ErrorKind string

const (
	KindConfiguration       ErrorKind = "configuration"
	KindUserDenied          ErrorKind = "user_denied"
	KindHandshakeInvalid    ErrorKind = "handshake_invalid"
	KindTokenExchangeFailed ErrorKind = "token_exchange_failed"
	KindRefreshFailed       ErrorKind = "refresh_failed"
	KindFetchFailed         ErrorKind = "fetch_failed"
	KindPersistenceFailed   ErrorKind = "persistence_failed"
	KindNotConnected        ErrorKind = "not_connected"
	KindProviderNotFound    ErrorKind = "provider_not_found"
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindInternal            ErrorKind = "internal"
)

const (
	ErrorConfiguration       = "FITSYNC_CONFIGURATION"
	ErrorUserDenied          = "FITSYNC_USER_DENIED"
	ErrorHandshakeInvalid    = "FITSYNC_HANDSHAKE_INVALID"
	ErrorTokenExchangeFailed = "FITSYNC_TOKEN_EXCHANGE_FAILED"
	ErrorRefreshFailed       = "FITSYNC_REFRESH_FAILED"
	ErrorFetchFailed         = "FITSYNC_FETCH_FAILED"
	ErrorPersistenceFailed   = "FITSYNC_PERSISTENCE_FAILED"
	ErrorConnectionNotFound  = "FITSYNC_CONNECTION_NOT_FOUND"
	ErrorProviderNotFound    = "FITSYNC_PROVIDER_NOT_FOUND"
	ErrorInvalidRequest      = "FITSYNC_INVALID_REQUEST"
	ErrorInternal            = "FITSYNC_INTERNAL_ERROR"
)

type errorSpec struct {
	textCode string
	category goerrors.Category
}

var errorSpecs = map[ErrorKind]errorSpec{
	KindConfiguration:       {ErrorConfiguration, goerrors.CategoryInternal},
	KindUserDenied:          {ErrorUserDenied, goerrors.CategoryAuthz},
	KindHandshakeInvalid:    {ErrorHandshakeInvalid, goerrors.CategoryAuth},
	KindTokenExchangeFailed: {ErrorTokenExchangeFailed, goerrors.CategoryExternal},
	KindRefreshFailed:       {ErrorRefreshFailed, goerrors.CategoryExternal},
	KindFetchFailed:         {ErrorFetchFailed, goerrors.CategoryExternal},
	KindPersistenceFailed:   {ErrorPersistenceFailed, goerrors.CategoryInternal},
	KindNotConnected:        {ErrorConnectionNotFound, goerrors.CategoryNotFound},
	KindProviderNotFound:    {ErrorProviderNotFound, goerrors.CategoryNotFound},
	KindInvalidRequest:      {ErrorInvalidRequest, goerrors.CategoryValidation},
	KindInternal:            {ErrorInternal, goerrors.CategoryInternal},
}

// NewError builds a rich error for the given failure kind.
func NewError(kind ErrorKind, message string) *goerrors.Error {
	spec := specFor(kind)
	return goerrors.New(message, spec.category).
		WithCode(HTTPStatus(spec.category)).
		WithTextCode(spec.textCode)
}

// WrapError wraps source as the given failure kind. A source that already
// carries a fitsync text code keeps it.
func WrapError(kind ErrorKind, source error, message string) *goerrors.Error {
	if source == nil {
		return NewError(kind, message)
	}
	var richErr *goerrors.Error
	if goerrors.As(source, &richErr) && kindFromTextCode(richErr.TextCode) != "" {
		return richErr
	}
	return reclassify(kind, source, message)
}

// ReclassifyError wraps source as the given failure kind, replacing any
// fitsync text code the source carries.
func ReclassifyError(kind ErrorKind, source error, message string) *goerrors.Error {
	if source == nil {
		return NewError(kind, message)
	}
	return reclassify(kind, source, message)
}

func reclassify(kind ErrorKind, source error, message string) *goerrors.Error {
	spec := specFor(kind)
	wrapped := goerrors.Wrap(source, spec.category, message)
	wrapped.Category = spec.category
	return wrapped.
		WithCode(HTTPStatus(spec.category)).
		WithTextCode(spec.textCode)
}

// KindOf classifies any error into the failure taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	mapped := MapError(err)
	if kind := kindFromTextCode(mapped.TextCode); kind != "" {
		return kind
	}
	return KindInternal
}

// MapError converts err into a rich error with an HTTP code and a fitsync
// text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		mapped := richErr.Clone()
		if kindFromTextCode(mapped.TextCode) == "" {
			// Errors re-coded by other libraries (go-command uses
			// VALIDATION_FAILED) fall back to a wrapped fitsync code or the
			// category default.
			mapped.TextCode = wrappedTextCode(richErr.Source)
		}
		return ensureErrorEnvelope(mapped)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "provider") && strings.Contains(msg, "not registered"):
		return NewError(KindProviderNotFound, err.Error())
	case strings.Contains(msg, "oauth state"), strings.Contains(msg, "handshake"):
		return NewError(KindHandshakeInvalid, err.Error())
	case strings.Contains(msg, "connection not found"):
		return NewError(KindNotConnected, err.Error())
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewError(KindInvalidRequest, err.Error())
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers()).Clone()
	if kindFromTextCode(mapped.TextCode) == "" {
		mapped.TextCode = ""
	}
	return ensureErrorEnvelope(mapped)
}

// wrappedTextCode returns the first fitsync text code found in the chain.
func wrappedTextCode(err error) string {
	for err != nil {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			return ""
		}
		if kindFromTextCode(richErr.TextCode) != "" {
			return richErr.TextCode
		}
		err = richErr.Source
	}
	return ""
}

// ensureErrorEnvelope fills a missing code and text code. err must be owned by
// the caller.
func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = HTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func specFor(kind ErrorKind) errorSpec {
	if spec, ok := errorSpecs[kind]; ok {
		return spec
	}
	return errorSpecs[KindInternal]
}

func kindFromTextCode(textCode string) ErrorKind {
	textCode = strings.TrimSpace(textCode)
	for kind, spec := range errorSpecs {
		if spec.textCode == textCode {
			return kind
		}
	}
	return ""
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorInvalidRequest
	case goerrors.CategoryNotFound:
		return ErrorConnectionNotFound
	case goerrors.CategoryAuth:
		return ErrorHandshakeInvalid
	case goerrors.CategoryExternal:
		return ErrorFetchFailed
	default:
		return ErrorInternal
	}
}

// HTTPStatus maps an error category to a response status.
func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

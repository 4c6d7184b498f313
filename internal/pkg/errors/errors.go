package errors

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalid       = errors.New("invalid")
	ErrConfiguration = errors.New("configuration error")
	ErrExtraction    = errors.New("extraction error")
	ErrBackend       = errors.New("backend error")
	ErrUnavailable   = errors.New("unavailable")
	ErrTooMany       = errors.New("too many requests")
	ErrInternal      = errors.New("internal")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

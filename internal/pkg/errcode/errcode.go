package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrNotFound
	ErrInvalid
	ErrConfiguration
	ErrTooMany
	ErrInternal
	ErrInvalidJSON
	ErrIndexFailed
	ErrSearchUnavailable
	ErrAIUnavailable
)

package v1

import "errors"

var (
	ErrFetchCtx    = errors.New("fetch request missing in context")
	ErrClearCtx    = errors.New("clear request missing in context")
	ErrContentType = errors.New("Content-Type must be application/json")
	ErrKeyQuery    = errors.New("key query parameter is required")
	ErrLimitQuery  = errors.New("limit must be an integer")
)

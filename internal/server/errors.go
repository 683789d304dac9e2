package server

import "errors"

var (
	errEmptyBody        = errors.New("request body is empty")
	errMissingOperation = errors.New("operation is required")
)

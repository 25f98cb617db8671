// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates the caller supplied invalid input.
var ErrValidation = errors.New("validation failed")

// ErrUserIDRequired is returned before a turn starts when a feature that needs
// a user identity (attachments, automatic semantic search) is requested anonymously.
var ErrUserIDRequired = errors.New("UserId required")

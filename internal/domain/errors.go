package domain

import "errors"

// ErrInvalidParams indicates that generation parameters failed validation.
var ErrInvalidParams = errors.New("invalid generation parameters")

// ErrInvalidTier indicates an unknown conversation tier.
var ErrInvalidTier = errors.New("invalid tier")

// ErrNotFound indicates that a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

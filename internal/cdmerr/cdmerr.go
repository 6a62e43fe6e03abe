// Package cdmerr declares the behavioral error kinds shared across
// cardaminal's components. Each kind is a sentinel wrapped with
// fmt.Errorf("...: %w", ...) at the layer that detects it and matched
// by callers (including the CLI's exit-code mapping) with errors.Is:
// return, don't catch; wrap, don't discard.
package cdmerr

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrChainEmpty       = errors.New("chain empty")
	ErrNoCommonAncestor = errors.New("no common ancestor")
	ErrOutOfOrder       = errors.New("out of order")
	ErrTransport        = errors.New("transport failure")
	ErrProtocol         = errors.New("protocol decode failure")
	ErrValidation       = errors.New("validation failed")
	ErrAuth             = errors.New("authentication failed")
	ErrStorage          = errors.New("storage failure")
)

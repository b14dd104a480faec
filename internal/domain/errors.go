package domain

import "errors"

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrRefreshTokenRequired   = errors.New("refresh token is required")
	ErrNoAccountsAvailable    = errors.New("no accounts available")
	ErrAllAccountsRateLimited = errors.New("all accounts rate limited")
	ErrInvalidGrant           = errors.New("refresh token grant rejected")
	ErrStoreLocked            = errors.New("account store lock unavailable")
)

package domain

import "github.com/pkg/errors"

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrLockTimeout        = errors.New("lock acquisition timed out")
	ErrInvalidOrder       = errors.New("invalid order request")
	ErrInvalidProduct     = errors.New("invalid product")
	ErrOrderSettled       = errors.New("order already settled")
	ErrSettlementNotFound = errors.New("settlement not found")
)

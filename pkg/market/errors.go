package market

import "errors"

// Every rule the validator enforces has its own sentinel so callers can tell
// which order and which check failed without parsing messages. Wrapped
// messages always name the offending order kind.
var (
	// Authorization.
	ErrNoSigningKey  = errors.New("client has no signing key")
	ErrNotAuthorized = errors.New("signer is not the order's authorized party")
	ErrBadSignature  = errors.New("order signature invalid")

	// Deployment / allow-list.
	ErrNotDeployed = errors.New("resource not deployed on ledger")
	ErrNotAllowed  = errors.New("party not on marketplace allow-list")

	// Cross-order consistency.
	ErrAddressMismatch  = errors.New("order address mismatch")
	ErrCategoryMismatch = errors.New("category mismatch")
	ErrTrustTooLow      = errors.New("workerpool trust below requested trust")
	ErrTagMissing       = errors.New("tag missing required capabilities")
	ErrTeeNotSupported  = errors.New("app tag lacks the tee capability required by the request")

	// Economics.
	ErrPriceExceeded     = errors.New("unit price exceeds buyer maximum")
	ErrInsufficientStake = errors.New("insufficient workerpool owner stake")
	ErrCannotAffordTask  = errors.New("requester stake cannot cover a single task")

	// Exhaustion.
	ErrOrderExhausted  = errors.New("order volume fully consumed")
	ErrAlreadyCanceled = errors.New("order already canceled")
)

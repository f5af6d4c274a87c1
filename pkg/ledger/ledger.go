// Package ledger is the client's boundary to the settlement chain. The
// marketplace core only ever reads deployment, ownership, stake and
// consumption state, and performs two writes: matching four orders into a
// deal and cancelling a single order.
package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/taskgrid/taskgrid/pkg/order"
)

// AssetKind names the three deployable resource registries.
type AssetKind string

const (
	AssetApp        AssetKind = "app"
	AssetDataset    AssetKind = "dataset"
	AssetWorkerpool AssetKind = "workerpool"
)

// Deal is the outcome of one atomic match: the emitted deal identifier and
// the volume the ledger actually agreed to.
type Deal struct {
	ID     common.Hash `json:"dealid"`
	Volume big.Int     `json:"volume"`
}

var (
	// ErrMatchNotConfirmed means the match call went through but the ledger
	// did not emit the expected completion event.
	ErrMatchNotConfirmed = errors.New("match not confirmed by ledger event")
	// ErrReverted means the ledger rejected a state-changing call outright,
	// typically because the preflight snapshot went stale.
	ErrReverted = errors.New("ledger transaction reverted")
)

// Ledger is the read/write boundary used by the market client. All calls are
// snapshot reads except MatchOrders and CancelOrder.
type Ledger interface {
	// Deployed reports whether the asset exists in its registry.
	Deployed(ctx context.Context, kind AssetKind, addr common.Address) (bool, error)
	// OwnerOf resolves the current owner of a deployed asset.
	OwnerOf(ctx context.Context, asset common.Address) (common.Address, error)
	// AvailableStake is the account's escrowed balance minus what is already
	// locked by running deals.
	AvailableStake(ctx context.Context, account common.Address) (big.Int, error)
	// Consumed returns how much of an order's volume prior deals have used,
	// keyed by the order's hash.
	Consumed(ctx context.Context, orderHash common.Hash) (big.Int, error)
	// Authorized reports allow-list membership for restricted marketplaces.
	Authorized(ctx context.Context, account common.Address) (bool, error)
	// MatchOrders consumes volume from all four orders in one atomic
	// operation and returns the emitted deal.
	MatchOrders(ctx context.Context, app *order.AppOrder, dataset *order.DatasetOrder, workerpool *order.WorkerpoolOrder, request *order.RequestOrder) (*Deal, error)
	// CancelOrder irreversibly voids the order's remaining volume and
	// returns the transaction reference.
	CancelOrder(ctx context.Context, o order.Order) (common.Hash, error)
}

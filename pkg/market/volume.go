package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/taskgrid/taskgrid/pkg/order"
)

// RemainingVolume returns how many tasks the order can still fund or serve:
// its declared volume minus what prior deals consumed on the ledger. A zero
// result is "exhausted", not an error; callers decide what that means.
func (c *Client) RemainingVolume(ctx context.Context, o order.Order) (big.Int, error) {
	volume := o.OrderVolume()
	if volume.Int == nil || volume.Sign() == 0 {
		// A volume-0 order can never be matched; skip the ledger read.
		return big.Zero(), nil
	}

	h, err := order.Hash(o, c.domain)
	if err != nil {
		return big.Int{}, err
	}
	consumed, err := c.ledger.Consumed(ctx, h)
	if err != nil {
		return big.Int{}, fmt.Errorf("%s: query consumed: %w", o.Kind(), err)
	}
	return big.Sub(volume, consumed), nil
}

// Cancel irreversibly invalidates a signed order. An order whose remaining
// volume is already zero fails with ErrAlreadyCanceled; cancellation is
// terminal and RemainingVolume reads zero forever after.
func (c *Client) Cancel(ctx context.Context, o order.Order) (common.Hash, error) {
	remaining, err := c.RemainingVolume(ctx, o)
	if err != nil {
		return common.Hash{}, err
	}
	if remaining.LessThanEqual(big.Zero()) {
		return common.Hash{}, fmt.Errorf("%s: %w", o.Kind(), ErrAlreadyCanceled)
	}

	tx, err := c.ledger.CancelOrder(ctx, o)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: cancel: %w", o.Kind(), err)
	}
	c.log.Infow("order canceled", "kind", o.Kind(), "tx", tx.Hex())
	return tx, nil
}

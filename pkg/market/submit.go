package market

import (
	"context"
	"fmt"

	"github.com/filecoin-project/go-state-types/big"

	"github.com/taskgrid/taskgrid/pkg/ledger"
	"github.com/taskgrid/taskgrid/pkg/order"
	"github.com/taskgrid/taskgrid/pkg/tag"
)

// SubmitMatch re-validates the four orders, checks the requester can pay,
// then performs the single atomic ledger operation that consumes volume from
// all of them and seals a deal.
//
// The preflight here observes a snapshot; if another deal consumes the same
// orders first, the ledger call fails and that failure is returned as-is
// (wrapped), never retried.
func (c *Client) SubmitMatch(ctx context.Context, app *order.AppOrder, dataset *order.DatasetOrder, workerpool *order.WorkerpoolOrder, request *order.RequestOrder) (*ledger.Deal, error) {
	// The combined demand-side tag must itself be a legal capability
	// combination; three individually valid tags can still union into an
	// illegal one (e.g. two frameworks).
	demandTag := tag.Union(app.Tag, request.Tag)
	if dataset != nil {
		demandTag = tag.Union(demandTag, dataset.Tag)
	}
	if err := demandTag.Validate(); err != nil {
		return nil, fmt.Errorf("matched orders: %w", err)
	}

	volume, err := c.MatchableVolume(ctx, app, dataset, workerpool, request)
	if err != nil {
		return nil, err
	}

	if err := c.checkRequesterStake(ctx, app, dataset, workerpool, request, volume); err != nil {
		return nil, err
	}

	deal, err := c.ledger.MatchOrders(ctx, app, dataset, workerpool, request)
	if err != nil {
		return nil, fmt.Errorf("match submission: %w", err)
	}
	c.log.Infow("deal sealed",
		"deal", deal.ID.Hex(),
		"volume", deal.Volume,
		"requester", request.Requester.Hex(),
		"workerpool", workerpool.Workerpool.Hex(),
	)
	return deal, nil
}

// checkRequesterStake verifies the requester can escrow at least one task at
// the combined seller prices. Falling short of the full agreed volume is only
// warned about: the ledger will match what the stake covers.
func (c *Client) checkRequesterStake(ctx context.Context, app *order.AppOrder, dataset *order.DatasetOrder, workerpool *order.WorkerpoolOrder, request *order.RequestOrder, volume big.Int) error {
	perTask := big.Add(bigVal(app.AppPrice), bigVal(workerpool.WorkerpoolPrice))
	if dataset != nil {
		perTask = big.Add(perTask, bigVal(dataset.DatasetPrice))
	}
	if perTask.Sign() == 0 {
		return nil
	}

	stake, err := c.ledger.AvailableStake(ctx, request.Requester)
	if err != nil {
		return fmt.Errorf("requestorder: query requester stake: %w", err)
	}
	if bigVal(stake).LessThan(perTask) {
		return fmt.Errorf("requestorder: %w: stake %s < task cost %s",
			ErrCannotAffordTask, bigVal(stake), perTask)
	}
	total := big.Mul(perTask, volume)
	if bigVal(stake).LessThan(total) {
		c.log.Warnw("requester stake below full deal cost",
			"requester", request.Requester.Hex(),
			"stake", bigVal(stake),
			"cost", total,
			"volume", volume,
		)
	}
	return nil
}

package market

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-state-types/big"
	"golang.org/x/sync/errgroup"

	"github.com/taskgrid/taskgrid/pkg/ledger"
	"github.com/taskgrid/taskgrid/pkg/order"
	"github.com/taskgrid/taskgrid/pkg/tag"
)

// MatchableVolume verifies that one order of each kind is mutually
// consistent and returns how many tasks the four can jointly fund: the
// minimum of the workerpool owner's stake-derived capacity and each order's
// remaining volume. dataset may be nil when the request names no dataset.
//
// Ledger-dependent checks run concurrently; every failure names the order
// and rule that triggered it. The result is a snapshot: the ledger may move
// between this preflight and SubmitMatch.
func (c *Client) MatchableVolume(ctx context.Context, app *order.AppOrder, dataset *order.DatasetOrder, workerpool *order.WorkerpoolOrder, request *order.RequestOrder) (big.Int, error) {
	useDataset := request.Dataset != (common.Address{})
	if useDataset && dataset == nil {
		return big.Zero(), fmt.Errorf("requestorder: %w: names dataset %s but no datasetorder supplied",
			ErrAddressMismatch, request.Dataset.Hex())
	}
	if !useDataset && dataset != nil {
		return big.Zero(), fmt.Errorf("datasetorder: %w: supplied but requestorder names no dataset",
			ErrAddressMismatch)
	}

	// Deployment, signature and allow-list checks are independent of each
	// other; fan them out.
	var workerpoolOwner common.Address
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.checkDeployed(gctx, ledger.AssetApp, app.App, order.KindApp) })
	g.Go(func() error { return c.checkDeployed(gctx, ledger.AssetWorkerpool, workerpool.Workerpool, order.KindWorkerpool) })
	g.Go(func() error {
		_, err := c.checkParty(gctx, app)
		return err
	})
	g.Go(func() error {
		owner, err := c.checkParty(gctx, workerpool)
		if err == nil {
			workerpoolOwner = owner
		}
		return err
	})
	g.Go(func() error {
		_, err := c.checkParty(gctx, request)
		return err
	})
	if useDataset {
		g.Go(func() error { return c.checkDeployed(gctx, ledger.AssetDataset, dataset.Dataset, order.KindDataset) })
		g.Go(func() error {
			_, err := c.checkParty(gctx, dataset)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return big.Zero(), err
	}

	if err := checkConsistency(app, dataset, workerpool, request, useDataset); err != nil {
		return big.Zero(), err
	}
	if err := checkPrices(app, dataset, workerpool, request, useDataset); err != nil {
		return big.Zero(), err
	}

	// Stake and per-order consumption are independent ledger reads.
	var stakeCap *big.Int
	remaining := make([]big.Int, 0, 4)
	orders := []order.Order{app, workerpool, request}
	if useDataset {
		orders = append(orders, dataset)
	}
	results := make([]big.Int, len(orders))

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		capacity, err := c.stakeCapacity(gctx, workerpool, workerpoolOwner)
		if err == nil {
			stakeCap = capacity
		}
		return err
	})
	for i, o := range orders {
		g.Go(func() error {
			r, err := c.RemainingVolume(gctx, o)
			if err != nil {
				return err
			}
			if r.LessThanEqual(big.Zero()) {
				return fmt.Errorf("%s: %w", o.Kind(), ErrOrderExhausted)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return big.Zero(), err
	}

	remaining = append(remaining, results...)
	matchable := remaining[0]
	for _, r := range remaining[1:] {
		matchable = big.Min(matchable, r)
	}
	if stakeCap != nil {
		matchable = big.Min(matchable, *stakeCap)
	}
	return matchable, nil
}

func (c *Client) checkDeployed(ctx context.Context, asset ledger.AssetKind, addr common.Address, kind order.Kind) error {
	deployed, err := c.ledger.Deployed(ctx, asset, addr)
	if err != nil {
		return fmt.Errorf("%s: check deployment: %w", kind, err)
	}
	if !deployed {
		return fmt.Errorf("%s: %w: %s %s", kind, ErrNotDeployed, asset, addr.Hex())
	}
	return nil
}

// checkParty verifies the order's signature against its authorized signer
// and, in restricted mode, that signer's allow-list membership. It returns
// the authorized signer.
func (c *Client) checkParty(ctx context.Context, o order.Order) (common.Address, error) {
	signer, err := c.authorizedSigner(ctx, o)
	if err != nil {
		return common.Address{}, err
	}
	ok, err := order.VerifySignature(o, c.domain, signer)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w: %v", o.Kind(), ErrBadSignature, err)
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%s: %w: expected signer %s", o.Kind(), ErrBadSignature, signer.Hex())
	}

	if c.restricted {
		allowed, err := c.ledger.Authorized(ctx, signer)
		if err != nil {
			return common.Address{}, fmt.Errorf("%s: check allow-list: %w", o.Kind(), err)
		}
		if !allowed {
			return common.Address{}, fmt.Errorf("%s: %w: %s", o.Kind(), ErrNotAllowed, signer.Hex())
		}
	}
	return signer, nil
}

// checkConsistency runs the pure cross-order checks: address equality and
// restrict fields, category, trust, tag coverage and tee propagation.
func checkConsistency(app *order.AppOrder, dataset *order.DatasetOrder, workerpool *order.WorkerpoolOrder, request *order.RequestOrder, useDataset bool) error {
	if request.App != app.App {
		return fmt.Errorf("requestorder: %w: app %s != apporder app %s",
			ErrAddressMismatch, request.App.Hex(), app.App.Hex())
	}
	datasetAddr := common.Address{}
	if useDataset {
		datasetAddr = dataset.Dataset
		if request.Dataset != datasetAddr {
			return fmt.Errorf("requestorder: %w: dataset %s != datasetorder dataset %s",
				ErrAddressMismatch, request.Dataset.Hex(), datasetAddr.Hex())
		}
	}
	// A zero workerpool on the request means "any pool".
	if request.Workerpool != (common.Address{}) && request.Workerpool != workerpool.Workerpool {
		return fmt.Errorf("requestorder: %w: workerpool %s != workerpoolorder workerpool %s",
			ErrAddressMismatch, request.Workerpool.Hex(), workerpool.Workerpool.Hex())
	}

	type restrictRule struct {
		kind     order.Kind
		field    string
		restrict common.Address
		actual   common.Address
	}
	restricts := []restrictRule{
		{order.KindApp, "datasetrestrict", app.DatasetRestrict, datasetAddr},
		{order.KindApp, "workerpoolrestrict", app.WorkerpoolRestrict, workerpool.Workerpool},
		{order.KindApp, "requesterrestrict", app.RequesterRestrict, request.Requester},
		{order.KindWorkerpool, "apprestrict", workerpool.AppRestrict, app.App},
		{order.KindWorkerpool, "datasetrestrict", workerpool.DatasetRestrict, datasetAddr},
		{order.KindWorkerpool, "requesterrestrict", workerpool.RequesterRestrict, request.Requester},
	}
	if useDataset {
		restricts = append(restricts,
			restrictRule{order.KindDataset, "apprestrict", dataset.AppRestrict, app.App},
			restrictRule{order.KindDataset, "workerpoolrestrict", dataset.WorkerpoolRestrict, workerpool.Workerpool},
			restrictRule{order.KindDataset, "requesterrestrict", dataset.RequesterRestrict, request.Requester},
		)
	}
	for _, r := range restricts {
		if r.restrict != (common.Address{}) && r.restrict != r.actual {
			return fmt.Errorf("%s: %w: %s limited to %s, matched against %s",
				r.kind, ErrAddressMismatch, r.field, r.restrict.Hex(), r.actual.Hex())
		}
	}

	if !bigEqual(workerpool.Category, request.Category) {
		return fmt.Errorf("workerpoolorder: %w: category %s != requested category %s",
			ErrCategoryMismatch, bigVal(workerpool.Category), bigVal(request.Category))
	}
	if bigVal(workerpool.Trust).LessThan(bigVal(request.Trust)) {
		return fmt.Errorf("workerpoolorder: %w: trust %s < requested trust %s",
			ErrTrustTooLow, bigVal(workerpool.Trust), bigVal(request.Trust))
	}

	datasetTag := tag.Tag{}
	if useDataset {
		datasetTag = dataset.Tag
	}
	need := tag.Union(app.Tag, datasetTag, request.Tag)
	if missing := tag.Missing(workerpool.Tag, need); len(missing) > 0 {
		return fmt.Errorf("workerpoolorder: %w: %s",
			ErrTagMissing, strings.Join(missing, ", "))
	}
	// A tee requirement from the request or dataset side must be honored by
	// the app itself, not just the pool.
	if tag.Union(request.Tag, datasetTag).Has(tag.Tee) && !app.Tag.Has(tag.Tee) {
		return fmt.Errorf("apporder: %w", ErrTeeNotSupported)
	}
	return nil
}

func checkPrices(app *order.AppOrder, dataset *order.DatasetOrder, workerpool *order.WorkerpoolOrder, request *order.RequestOrder, useDataset bool) error {
	if bigVal(app.AppPrice).GreaterThan(bigVal(request.AppMaxPrice)) {
		return fmt.Errorf("apporder: %w: appprice %s > appmaxprice %s",
			ErrPriceExceeded, bigVal(app.AppPrice), bigVal(request.AppMaxPrice))
	}
	if useDataset && bigVal(dataset.DatasetPrice).GreaterThan(bigVal(request.DatasetMaxPrice)) {
		return fmt.Errorf("datasetorder: %w: datasetprice %s > datasetmaxprice %s",
			ErrPriceExceeded, bigVal(dataset.DatasetPrice), bigVal(request.DatasetMaxPrice))
	}
	if bigVal(workerpool.WorkerpoolPrice).GreaterThan(bigVal(request.WorkerpoolMaxPrice)) {
		return fmt.Errorf("workerpoolorder: %w: workerpoolprice %s > workerpoolmaxprice %s",
			ErrPriceExceeded, bigVal(workerpool.WorkerpoolPrice), bigVal(request.WorkerpoolMaxPrice))
	}
	return nil
}

// stakeCapacity derives how many tasks the workerpool owner's stake can
// back: the owner must escrow 30% of the unit price per task. A nil result
// means the stake does not bound the volume (free or near-free pools).
func (c *Client) stakeCapacity(ctx context.Context, workerpool *order.WorkerpoolOrder, owner common.Address) (*big.Int, error) {
	price := bigVal(workerpool.WorkerpoolPrice)
	if price.Sign() == 0 {
		return nil, nil
	}
	stakePerTask := big.Div(big.Mul(price, big.NewInt(30)), big.NewInt(100))
	if stakePerTask.Sign() == 0 {
		// Sub-unit prices round the escrow to zero; stake is not limiting.
		return nil, nil
	}

	stake, err := c.ledger.AvailableStake(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("workerpoolorder: query owner stake: %w", err)
	}
	capacity := big.Div(bigVal(stake), stakePerTask)
	if capacity.Sign() == 0 {
		return nil, fmt.Errorf("workerpoolorder: %w: owner %s stake %s covers no task at 30%% of price %s",
			ErrInsufficientStake, owner.Hex(), bigVal(stake), price)
	}
	return &capacity, nil
}

func bigVal(v big.Int) big.Int {
	if v.Int == nil {
		return big.Zero()
	}
	return v
}

func bigEqual(a, b big.Int) bool {
	return bigVal(a).Equals(bigVal(b))
}

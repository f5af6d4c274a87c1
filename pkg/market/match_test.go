package market

import (
	"context"
	"errors"
	"fmt"
	stdbig "math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/taskgrid/taskgrid/pkg/crypto"
	"github.com/taskgrid/taskgrid/pkg/ledger"
	"github.com/taskgrid/taskgrid/pkg/order"
)

func addrHex(b byte) string {
	return fmt.Sprintf("0x%040x", b)
}

// fixture wires a devnet ledger with one deployed asset per registry and a
// signing client per party.
type fixture struct {
	t      *testing.T
	mem    *ledger.Memory
	domain order.Domain

	appHex, datasetHex, workerpoolHex string

	appOwner, datasetOwner, workerpoolOwner, requester *crypto.Signer

	// client validates without a key; the per-party clients sign.
	client           *Client
	appClient        *Client
	datasetClient    *Client
	workerpoolClient *Client
	requesterClient  *Client
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	domain := order.Domain{
		Name:              "TaskGrid Marketplace",
		Version:           "1",
		ChainID:           stdbig.NewInt(65535),
		VerifyingContract: common.HexToAddress(addrHex(0xff)),
	}
	mem := ledger.NewMemory(domain)

	f := &fixture{
		t:             t,
		mem:           mem,
		domain:        domain,
		appHex:        addrHex(0xa1),
		datasetHex:    addrHex(0xd1),
		workerpoolHex: addrHex(0xc1),
	}
	for _, key := range []**crypto.Signer{&f.appOwner, &f.datasetOwner, &f.workerpoolOwner, &f.requester} {
		s, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		*key = s
	}

	mem.RegisterAsset(ledger.AssetApp, common.HexToAddress(f.appHex), f.appOwner.Address())
	mem.RegisterAsset(ledger.AssetDataset, common.HexToAddress(f.datasetHex), f.datasetOwner.Address())
	mem.RegisterAsset(ledger.AssetWorkerpool, common.HexToAddress(f.workerpoolHex), f.workerpoolOwner.Address())

	f.client = NewClient(mem, domain, opts...)
	f.appClient = NewClient(mem, domain, append(opts, WithSigner(f.appOwner))...)
	f.datasetClient = NewClient(mem, domain, append(opts, WithSigner(f.datasetOwner))...)
	f.workerpoolClient = NewClient(mem, domain, append(opts, WithSigner(f.workerpoolOwner))...)
	f.requesterClient = NewClient(mem, domain, append(opts, WithSigner(f.requester))...)
	return f
}

func (f *fixture) appOrder(p order.AppOrderParams) *order.AppOrder {
	f.t.Helper()
	if p.App == "" {
		p.App = f.appHex
	}
	o, err := order.NewAppOrder(p)
	if err != nil {
		f.t.Fatalf("NewAppOrder: %v", err)
	}
	if err := f.appClient.SignOrder(context.Background(), o); err != nil {
		f.t.Fatalf("sign apporder: %v", err)
	}
	return o
}

func (f *fixture) datasetOrder(p order.DatasetOrderParams) *order.DatasetOrder {
	f.t.Helper()
	if p.Dataset == "" {
		p.Dataset = f.datasetHex
	}
	o, err := order.NewDatasetOrder(p)
	if err != nil {
		f.t.Fatalf("NewDatasetOrder: %v", err)
	}
	if err := f.datasetClient.SignOrder(context.Background(), o); err != nil {
		f.t.Fatalf("sign datasetorder: %v", err)
	}
	return o
}

func (f *fixture) workerpoolOrder(p order.WorkerpoolOrderParams) *order.WorkerpoolOrder {
	f.t.Helper()
	if p.Workerpool == "" {
		p.Workerpool = f.workerpoolHex
	}
	if p.Category == nil {
		p.Category = stdbig.NewInt(0)
	}
	o, err := order.NewWorkerpoolOrder(p)
	if err != nil {
		f.t.Fatalf("NewWorkerpoolOrder: %v", err)
	}
	if err := f.workerpoolClient.SignOrder(context.Background(), o); err != nil {
		f.t.Fatalf("sign workerpoolorder: %v", err)
	}
	return o
}

func (f *fixture) requestOrder(p order.RequestOrderParams) *order.RequestOrder {
	f.t.Helper()
	if p.App == "" {
		p.App = f.appHex
	}
	if p.Requester == "" {
		p.Requester = strings.ToLower(f.requester.Address().Hex())
	}
	if p.Category == nil {
		p.Category = stdbig.NewInt(0)
	}
	o, err := order.NewRequestOrder(p, order.Defaults{})
	if err != nil {
		f.t.Fatalf("NewRequestOrder: %v", err)
	}
	if err := f.requesterClient.SignOrder(context.Background(), o); err != nil {
		f.t.Fatalf("sign requestorder: %v", err)
	}
	return o
}

func TestMatchableVolumeHappyPath(t *testing.T) {
	f := newFixture(t)

	app := f.appOrder(order.AppOrderParams{Volume: stdbig.NewInt(10)})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{Volume: stdbig.NewInt(10)})
	req := f.requestOrder(order.RequestOrderParams{Volume: stdbig.NewInt(10)})

	got, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if err != nil {
		t.Fatalf("MatchableVolume: %v", err)
	}
	if !got.Equals(big.NewInt(10)) {
		t.Errorf("matchable = %s, want 10", got)
	}
}

func TestMatchableVolumeMinAcrossOrders(t *testing.T) {
	f := newFixture(t)

	app := f.appOrder(order.AppOrderParams{Volume: stdbig.NewInt(10)})
	dataset := f.datasetOrder(order.DatasetOrderParams{Volume: stdbig.NewInt(3)})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{Volume: stdbig.NewInt(10)})
	req := f.requestOrder(order.RequestOrderParams{
		Dataset: f.datasetHex,
		Volume:  stdbig.NewInt(7),
	})

	got, err := f.client.MatchableVolume(context.Background(), app, dataset, pool, req)
	if err != nil {
		t.Fatalf("MatchableVolume: %v", err)
	}
	if !got.Equals(big.NewInt(3)) {
		t.Errorf("matchable = %s, want dataset-bound 3", got)
	}
}

func TestMatchableVolumeStakeBound(t *testing.T) {
	f := newFixture(t)
	// 30% of price 100 is 30 per task; stake 95 backs exactly 3 tasks.
	f.mem.SetStake(f.workerpoolOwner.Address(), big.NewInt(95))

	app := f.appOrder(order.AppOrderParams{Volume: stdbig.NewInt(10)})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{
		Price:  stdbig.NewInt(100),
		Volume: stdbig.NewInt(10),
	})
	req := f.requestOrder(order.RequestOrderParams{
		WorkerpoolMaxPrice: stdbig.NewInt(100),
		Volume:             stdbig.NewInt(10),
	})

	got, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if err != nil {
		t.Fatalf("MatchableVolume: %v", err)
	}
	if !got.Equals(big.NewInt(3)) {
		t.Errorf("matchable = %s, want stake-bound 3", got)
	}
}

func TestMatchableVolumeInsufficientStake(t *testing.T) {
	f := newFixture(t)
	f.mem.SetStake(f.workerpoolOwner.Address(), big.NewInt(20)) // < 30

	app := f.appOrder(order.AppOrderParams{})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{Price: stdbig.NewInt(100)})
	req := f.requestOrder(order.RequestOrderParams{WorkerpoolMaxPrice: stdbig.NewInt(100)})

	_, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if !errors.Is(err, ErrInsufficientStake) {
		t.Errorf("err = %v, want ErrInsufficientStake", err)
	}
}

func TestMatchableVolumeTagMissing(t *testing.T) {
	f := newFixture(t)

	app := f.appOrder(order.AppOrderParams{})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{})
	req := f.requestOrder(order.RequestOrderParams{Tag: []string{"gpu"}})

	_, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if !errors.Is(err, ErrTagMissing) {
		t.Fatalf("err = %v, want ErrTagMissing", err)
	}
	if !strings.Contains(err.Error(), "workerpoolorder") || !strings.Contains(err.Error(), "gpu") {
		t.Errorf("error should name the order and missing capability: %v", err)
	}
}

func TestMatchableVolumeTeePropagation(t *testing.T) {
	f := newFixture(t)

	// The pool offers tee but the app does not carry it: the enclave
	// requirement from the request side cannot be met.
	app := f.appOrder(order.AppOrderParams{})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{Tag: []string{"tee", "scone"}})
	req := f.requestOrder(order.RequestOrderParams{Tag: []string{"tee", "scone"}})

	_, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if !errors.Is(err, ErrTeeNotSupported) {
		t.Errorf("err = %v, want ErrTeeNotSupported", err)
	}
}

func TestMatchableVolumePriceExceeded(t *testing.T) {
	f := newFixture(t)

	app := f.appOrder(order.AppOrderParams{Price: stdbig.NewInt(5)})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{})
	req := f.requestOrder(order.RequestOrderParams{AppMaxPrice: stdbig.NewInt(3)})

	_, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if !errors.Is(err, ErrPriceExceeded) {
		t.Fatalf("err = %v, want ErrPriceExceeded", err)
	}
	if !strings.Contains(err.Error(), "apporder") {
		t.Errorf("error should name the apporder: %v", err)
	}
}

func TestMatchableVolumeCategoryMismatch(t *testing.T) {
	f := newFixture(t)

	app := f.appOrder(order.AppOrderParams{})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{Category: stdbig.NewInt(1)})
	req := f.requestOrder(order.RequestOrderParams{Category: stdbig.NewInt(2)})

	_, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if !errors.Is(err, ErrCategoryMismatch) {
		t.Errorf("err = %v, want ErrCategoryMismatch", err)
	}
}

func TestMatchableVolumeTrustTooLow(t *testing.T) {
	f := newFixture(t)

	app := f.appOrder(order.AppOrderParams{})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{Trust: stdbig.NewInt(1)})
	req := f.requestOrder(order.RequestOrderParams{Trust: stdbig.NewInt(5)})

	_, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if !errors.Is(err, ErrTrustTooLow) {
		t.Errorf("err = %v, want ErrTrustTooLow", err)
	}
}

func TestMatchableVolumeAppAddressMismatch(t *testing.T) {
	f := newFixture(t)
	otherApp := addrHex(0xa2)
	f.mem.RegisterAsset(ledger.AssetApp, common.HexToAddress(otherApp), f.appOwner.Address())

	app := f.appOrder(order.AppOrderParams{App: otherApp})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{})
	req := f.requestOrder(order.RequestOrderParams{}) // names the default app

	_, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if !errors.Is(err, ErrAddressMismatch) {
		t.Errorf("err = %v, want ErrAddressMismatch", err)
	}
}

func TestMatchableVolumeRestrictViolated(t *testing.T) {
	f := newFixture(t)

	app := f.appOrder(order.AppOrderParams{RequesterRestrict: addrHex(0xee)})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{})
	req := f.requestOrder(order.RequestOrderParams{})

	_, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if !errors.Is(err, ErrAddressMismatch) {
		t.Fatalf("err = %v, want ErrAddressMismatch", err)
	}
	if !strings.Contains(err.Error(), "requesterrestrict") {
		t.Errorf("error should name the restrict field: %v", err)
	}
}

func TestMatchableVolumeNotDeployed(t *testing.T) {
	f := newFixture(t)
	ghost := addrHex(0x99)
	// Ownership exists so signing succeeds, but the app registry has no
	// entry: simulate a revoked deployment.
	f.mem.RegisterAsset(ledger.AssetDataset, common.HexToAddress(ghost), f.appOwner.Address())

	app := f.appOrder(order.AppOrderParams{App: ghost})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{})
	req := f.requestOrder(order.RequestOrderParams{App: ghost})

	_, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if !errors.Is(err, ErrNotDeployed) {
		t.Errorf("err = %v, want ErrNotDeployed", err)
	}
}

func TestMatchableVolumeTamperedSignature(t *testing.T) {
	f := newFixture(t)

	app := f.appOrder(order.AppOrderParams{Price: stdbig.NewInt(1)})
	app.AppPrice = big.NewInt(0) // undercut the signed price
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{})
	req := f.requestOrder(order.RequestOrderParams{AppMaxPrice: stdbig.NewInt(1)})

	_, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}

func TestMatchableVolumeZeroVolumeOrder(t *testing.T) {
	f := newFixture(t)

	app := f.appOrder(order.AppOrderParams{Volume: stdbig.NewInt(0)})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{})
	req := f.requestOrder(order.RequestOrderParams{})

	_, err := f.client.MatchableVolume(context.Background(), app, nil, pool, req)
	if !errors.Is(err, ErrOrderExhausted) {
		t.Errorf("err = %v, want ErrOrderExhausted", err)
	}
}

func TestMatchableVolumeRestrictedMarketplace(t *testing.T) {
	f := newFixture(t, WithRestrictedMode())

	app := f.appOrder(order.AppOrderParams{})
	pool := f.workerpoolOrder(order.WorkerpoolOrderParams{})
	req := f.requestOrder(order.RequestOrderParams{})

	// Nobody is on the allow-list yet.
	restricted := NewClient(f.mem, f.domain, WithRestrictedMode())
	_, err := restricted.MatchableVolume(context.Background(), app, nil, pool, req)
	if !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}

	f.mem.Allow(f.appOwner.Address(), f.workerpoolOwner.Address(), f.requester.Address())
	got, err := restricted.MatchableVolume(context.Background(), app, nil, pool, req)
	if err != nil {
		t.Fatalf("MatchableVolume after allow-listing: %v", err)
	}
	if got.Sign() <= 0 {
		t.Errorf("matchable = %s, want > 0", got)
	}
}

func TestSignOrderAuthorization(t *testing.T) {
	f := newFixture(t)

	o, err := order.NewAppOrder(order.AppOrderParams{App: f.appHex})
	if err != nil {
		t.Fatal(err)
	}

	// The requester does not own the app.
	err = f.requesterClient.SignOrder(context.Background(), o)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	if o.Sign != nil {
		t.Error("no signature may be produced on authorization failure")
	}

	if err := f.appClient.SignOrder(context.Background(), o); err != nil {
		t.Fatalf("owner signing failed: %v", err)
	}

	if err := f.client.SignOrder(context.Background(), o); !errors.Is(err, ErrNoSigningKey) {
		t.Errorf("keyless client: err = %v, want ErrNoSigningKey", err)
	}
}

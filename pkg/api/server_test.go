package api

import (
	"bytes"
	"encoding/json"
	stdbig "math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-state-types/big"
	"go.uber.org/zap"

	"github.com/taskgrid/taskgrid/pkg/crypto"
	"github.com/taskgrid/taskgrid/pkg/ledger"
	"github.com/taskgrid/taskgrid/pkg/market"
	"github.com/taskgrid/taskgrid/pkg/order"
	"github.com/taskgrid/taskgrid/pkg/storage"
)

type gatewayFixture struct {
	server *Server
	mem    *ledger.Memory
	client *market.Client

	appOwner, workerpoolOwner, requester *crypto.Signer

	appHex, workerpoolHex string
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	domain := order.Domain{
		Name:              "TaskGrid Marketplace",
		Version:           "1",
		ChainID:           stdbig.NewInt(65535),
		VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000000ff"),
	}
	mem := ledger.NewMemory(domain)

	f := &gatewayFixture{
		mem:           mem,
		appHex:        "0x00000000000000000000000000000000000000a1",
		workerpoolHex: "0x00000000000000000000000000000000000000c1",
	}
	for _, key := range []**crypto.Signer{&f.appOwner, &f.workerpoolOwner, &f.requester} {
		s, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		*key = s
	}
	mem.RegisterAsset(ledger.AssetApp, common.HexToAddress(f.appHex), f.appOwner.Address())
	mem.RegisterAsset(ledger.AssetWorkerpool, common.HexToAddress(f.workerpoolHex), f.workerpoolOwner.Address())

	f.client = market.NewClient(mem, domain)
	store, err := storage.Open(t.TempDir() + "/orderbook")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f.server = NewServer(f.client, store, zap.NewNop())
	go f.server.hub.Run()
	return f
}

func (f *gatewayFixture) signedAppOrder(t *testing.T, volume int64) *order.AppOrder {
	t.Helper()
	o, err := order.NewAppOrder(order.AppOrderParams{App: f.appHex, Volume: stdbig.NewInt(volume)})
	if err != nil {
		t.Fatal(err)
	}
	if err := order.SaltAndSign(o, f.client.Domain(), f.appOwner); err != nil {
		t.Fatal(err)
	}
	return o
}

func (f *gatewayFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAndFetchOrder(t *testing.T) {
	f := newGatewayFixture(t)
	o := f.signedAppOrder(t, 5)

	rec := f.do(t, http.MethodPost, "/api/v1/orders/apporder", o)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body %s", rec.Code, rec.Body)
	}
	var resp SubmitOrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "open" || resp.OrderHash == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/orders/apporder/"+resp.OrderHash, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/orderbook/apporder", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("orderbook status = %d", rec.Code)
	}
	var book struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &book); err != nil {
		t.Fatal(err)
	}
	if book.Count != 1 {
		t.Errorf("book count = %d, want 1", book.Count)
	}
}

func TestSubmitOrderRejectsTamperedSignature(t *testing.T) {
	f := newGatewayFixture(t)
	o := f.signedAppOrder(t, 5)
	o.AppPrice = big.NewInt(9)

	rec := f.do(t, http.MethodPost, "/api/v1/orders/apporder", o)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422; body %s", rec.Code, rec.Body)
	}
}

func TestSubmitOrderUnknownKind(t *testing.T) {
	f := newGatewayFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/orders/bogus", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPreflightAndSubmitDeal(t *testing.T) {
	f := newGatewayFixture(t)

	app := f.signedAppOrder(t, 5)
	pool, err := order.NewWorkerpoolOrder(order.WorkerpoolOrderParams{
		Workerpool: f.workerpoolHex,
		Category:   stdbig.NewInt(0),
		Volume:     stdbig.NewInt(5),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := order.SaltAndSign(pool, f.client.Domain(), f.workerpoolOwner); err != nil {
		t.Fatal(err)
	}
	req, err := order.NewRequestOrder(order.RequestOrderParams{
		App:       f.appHex,
		Requester: "0x" + common.Bytes2Hex(f.requester.Address().Bytes()),
		Category:  stdbig.NewInt(0),
		Volume:    stdbig.NewInt(5),
	}, order.Defaults{})
	if err != nil {
		t.Fatal(err)
	}
	if err := order.SaltAndSign(req, f.client.Domain(), f.requester); err != nil {
		t.Fatal(err)
	}

	match := MatchRequest{App: app, Workerpool: pool, Request: req}

	rec := f.do(t, http.MethodPost, "/api/v1/deals/preflight", match)
	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d, body %s", rec.Code, rec.Body)
	}
	var pre PreflightResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pre); err != nil {
		t.Fatal(err)
	}
	if !pre.MatchableVolume.Equals(big.NewInt(5)) {
		t.Errorf("matchable = %s, want 5", pre.MatchableVolume)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/deals", match)
	if rec.Code != http.StatusOK {
		t.Fatalf("deal status = %d, body %s", rec.Code, rec.Body)
	}
	var deal DealResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &deal); err != nil {
		t.Fatal(err)
	}
	if !deal.Volume.Equals(big.NewInt(5)) {
		t.Errorf("deal volume = %s, want 5", deal.Volume)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/deals/"+deal.DealID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get deal status = %d", rec.Code)
	}

	// The supply is consumed; a second submission must fail.
	rec = f.do(t, http.MethodPost, "/api/v1/deals", match)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("re-match status = %d, want 422", rec.Code)
	}
}

func TestPreflightIncompleteRequest(t *testing.T) {
	f := newGatewayFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/deals/preflight", MatchRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	f := newGatewayFixture(t)
	o := f.signedAppOrder(t, 5)

	rec := f.do(t, http.MethodPost, "/api/v1/orders/apporder", o)
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}
	var resp SubmitOrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	rec = f.do(t, http.MethodDelete, "/api/v1/orders/apporder/"+resp.OrderHash, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/orders/apporder/"+resp.OrderHash, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after cancel = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newGatewayFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

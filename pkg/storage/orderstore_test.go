package storage

import (
	"errors"
	stdbig "math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/taskgrid/taskgrid/pkg/order"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/orderbook")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testOrder(t *testing.T, volume int64) (*order.AppOrder, common.Hash) {
	t.Helper()
	o, err := order.NewAppOrder(order.AppOrderParams{
		App:    "0x00000000000000000000000000000000000000a1",
		Price:  stdbig.NewInt(2),
		Volume: stdbig.NewInt(volume),
	})
	if err != nil {
		t.Fatal(err)
	}
	salt := common.HexToHash("0x01")
	o.SetSalt(salt)
	h := common.BytesToHash([]byte{byte(volume)})
	return o, h
}

func TestOrderRoundTrip(t *testing.T) {
	s := openTestStore(t)

	o, h := testOrder(t, 7)
	if err := s.PutOrder(h, o); err != nil {
		t.Fatalf("PutOrder: %v", err)
	}

	got, err := s.GetOrder(order.KindApp, h)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	app, ok := got.(*order.AppOrder)
	if !ok {
		t.Fatalf("got %T, want *order.AppOrder", got)
	}
	if app.App != o.App {
		t.Errorf("app = %s, want %s", app.App.Hex(), o.App.Hex())
	}
	if !app.Volume.Equals(big.NewInt(7)) {
		t.Errorf("volume = %s, want 7", app.Volume)
	}
	if app.Salt == nil || *app.Salt != *o.Salt {
		t.Error("salt did not survive the round trip")
	}
}

func TestGetOrderMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetOrder(order.KindApp, common.HexToHash("0xdead"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListOrdersIsolatesKinds(t *testing.T) {
	s := openTestStore(t)

	for v := int64(1); v <= 3; v++ {
		o, h := testOrder(t, v)
		if err := s.PutOrder(h, o); err != nil {
			t.Fatal(err)
		}
	}
	req, err := order.NewRequestOrder(order.RequestOrderParams{
		App:       "0x00000000000000000000000000000000000000a1",
		Requester: "0x00000000000000000000000000000000000000e1",
		Category:  stdbig.NewInt(0),
	}, order.Defaults{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutOrder(common.HexToHash("0xaa"), req); err != nil {
		t.Fatal(err)
	}

	apps, err := s.ListOrders(order.KindApp)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(apps) != 3 {
		t.Errorf("len(apps) = %d, want 3", len(apps))
	}
	requests, err := s.ListOrders(order.KindRequest)
	if err != nil {
		t.Fatal(err)
	}
	if len(requests) != 1 {
		t.Errorf("len(requests) = %d, want 1", len(requests))
	}
}

func TestDeleteOrder(t *testing.T) {
	s := openTestStore(t)

	o, h := testOrder(t, 1)
	if err := s.PutOrder(h, o); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteOrder(order.KindApp, h); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	if _, err := s.GetOrder(order.KindApp, h); !errors.Is(err, ErrNotFound) {
		t.Errorf("err after delete = %v, want ErrNotFound", err)
	}
	// Idempotent.
	if err := s.DeleteOrder(order.KindApp, h); err != nil {
		t.Errorf("deleting a missing order: %v", err)
	}
}

func TestDealRoundTrip(t *testing.T) {
	s := openTestStore(t)

	rec := DealRecord{
		ID:             common.HexToHash("0x01"),
		Volume:         big.NewInt(5),
		AppHash:        common.HexToHash("0x02"),
		WorkerpoolHash: common.HexToHash("0x03"),
		RequestHash:    common.HexToHash("0x04"),
		SealedAt:       time.Now().UTC(),
	}
	if err := s.PutDeal(rec); err != nil {
		t.Fatalf("PutDeal: %v", err)
	}
	got, err := s.GetDeal(rec.ID)
	if err != nil {
		t.Fatalf("GetDeal: %v", err)
	}
	if got.ID != rec.ID || !got.Volume.Equals(rec.Volume) || got.RequestHash != rec.RequestHash {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := s.GetDeal(common.HexToHash("0xff")); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing deal: err = %v, want ErrNotFound", err)
	}
}

// Package storage persists the marketplace orderbook and sealed deals in an
// embedded Pebble database. Orders are keyed by kind and EIP-712 hash so the
// gateway can serve per-kind orderbooks with a single prefix scan.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/taskgrid/taskgrid/pkg/order"
)

// ErrNotFound is returned when no record exists under the given key.
var ErrNotFound = errors.New("not found")

// DealRecord is the persisted trace of one sealed deal: the ledger-emitted
// identifier, the agreed volume and the four order hashes it consumed.
type DealRecord struct {
	ID             common.Hash `json:"dealid"`
	Volume         big.Int     `json:"volume"`
	AppHash        common.Hash `json:"apporderhash"`
	DatasetHash    common.Hash `json:"datasetorderhash,omitempty"`
	WorkerpoolHash common.Hash `json:"workerpoolorderhash"`
	RequestHash    common.Hash `json:"requestorderhash"`
	SealedAt       time.Time   `json:"sealedat"`
}

// Store is a Pebble-backed orderbook.
type Store struct {
	db *pebble.DB
}

// Open creates or reopens the database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open orderbook db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Key schema:
//
//	o:<kind>:<hash hex> → signed order JSON
//	d:<dealid hex>      → DealRecord JSON
func orderKey(kind order.Kind, h common.Hash) []byte {
	return []byte(fmt.Sprintf("o:%s:%s", kind, h.Hex()))
}

func orderPrefix(kind order.Kind) []byte {
	return []byte(fmt.Sprintf("o:%s:", kind))
}

func dealKey(id common.Hash) []byte {
	return []byte("d:" + id.Hex())
}

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// PutOrder stores a signed order under its hash.
func (s *Store) PutOrder(h common.Hash, o order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", o.Kind(), err)
	}
	if err := s.db.Set(orderKey(o.Kind(), h), data, pebble.Sync); err != nil {
		return fmt.Errorf("store %s %s: %w", o.Kind(), h.Hex(), err)
	}
	return nil
}

// GetOrder loads one order by kind and hash.
func (s *Store) GetOrder(kind order.Kind, h common.Hash) (order.Order, error) {
	data, closer, err := s.db.Get(orderKey(kind, h))
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("%s %s: %w", kind, h.Hex(), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, h.Hex(), err)
	}
	defer closer.Close()
	return decodeOrder(kind, data)
}

// ListOrders returns every stored order of one kind.
func (s *Store) ListOrders(kind order.Kind) ([]order.Order, error) {
	prefix := orderPrefix(kind)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s orderbook: %w", kind, err)
	}
	defer iter.Close()

	var orders []order.Order
	for iter.First(); iter.Valid(); iter.Next() {
		o, err := decodeOrder(kind, iter.Value())
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// DeleteOrder removes an order from the book. Deleting a missing order is not
// an error.
func (s *Store) DeleteOrder(kind order.Kind, h common.Hash) error {
	if err := s.db.Delete(orderKey(kind, h), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, h.Hex(), err)
	}
	return nil
}

// PutDeal records a sealed deal.
func (s *Store) PutDeal(rec DealRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal deal: %w", err)
	}
	if err := s.db.Set(dealKey(rec.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("store deal %s: %w", rec.ID.Hex(), err)
	}
	return nil
}

// GetDeal loads a deal record by its ledger identifier.
func (s *Store) GetDeal(id common.Hash) (DealRecord, error) {
	data, closer, err := s.db.Get(dealKey(id))
	if err == pebble.ErrNotFound {
		return DealRecord{}, fmt.Errorf("deal %s: %w", id.Hex(), ErrNotFound)
	}
	if err != nil {
		return DealRecord{}, fmt.Errorf("load deal %s: %w", id.Hex(), err)
	}
	defer closer.Close()

	var rec DealRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return DealRecord{}, fmt.Errorf("decode deal %s: %w", id.Hex(), err)
	}
	return rec, nil
}

func decodeOrder(kind order.Kind, data []byte) (order.Order, error) {
	var o order.Order
	switch kind {
	case order.KindApp:
		o = &order.AppOrder{}
	case order.KindDataset:
		o = &order.DatasetOrder{}
	case order.KindWorkerpool:
		o = &order.WorkerpoolOrder{}
	case order.KindRequest:
		o = &order.RequestOrder{}
	default:
		return nil, fmt.Errorf("unknown order kind %q", kind)
	}
	if err := json.Unmarshal(data, o); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return o, nil
}

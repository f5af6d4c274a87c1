package ledger

import (
	"context"
	"fmt"
	stdbig "math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/taskgrid/taskgrid/pkg/order"
)

// Memory is an in-process ledger with the same consumption semantics as the
// on-chain hub. It backs marketd's devnet mode and the package tests.
type Memory struct {
	mu        sync.Mutex
	domain    order.Domain
	owners    map[AssetKind]map[common.Address]common.Address
	stakes    map[common.Address]big.Int
	consumed  map[common.Hash]big.Int
	allowlist map[common.Address]bool
	dealSeq   uint64
}

// NewMemory creates an empty devnet ledger verifying orders under domain.
func NewMemory(domain order.Domain) *Memory {
	return &Memory{
		domain: domain,
		owners: map[AssetKind]map[common.Address]common.Address{
			AssetApp:        {},
			AssetDataset:    {},
			AssetWorkerpool: {},
		},
		stakes:    map[common.Address]big.Int{},
		consumed:  map[common.Hash]big.Int{},
		allowlist: map[common.Address]bool{},
	}
}

// RegisterAsset deploys an asset into its registry with the given owner.
func (m *Memory) RegisterAsset(kind AssetKind, addr, owner common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[kind][addr] = owner
}

// SetStake sets an account's available stake.
func (m *Memory) SetStake(account common.Address, stake big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stakes[account] = stake
}

// Allow puts accounts on the restricted-marketplace allow-list.
func (m *Memory) Allow(accounts ...common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range accounts {
		m.allowlist[a] = true
	}
}

func (m *Memory) Deployed(_ context.Context, kind AssetKind, addr common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	registry, ok := m.owners[kind]
	if !ok {
		return false, fmt.Errorf("unknown asset kind %q", kind)
	}
	_, deployed := registry[addr]
	return deployed, nil
}

func (m *Memory) OwnerOf(_ context.Context, asset common.Address) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, registry := range m.owners {
		if owner, ok := registry[asset]; ok {
			return owner, nil
		}
	}
	return common.Address{}, fmt.Errorf("asset %s not deployed", asset.Hex())
}

func (m *Memory) AvailableStake(_ context.Context, account common.Address) (big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stake, ok := m.stakes[account]; ok {
		return stake, nil
	}
	return big.Zero(), nil
}

func (m *Memory) Consumed(_ context.Context, orderHash common.Hash) (big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if used, ok := m.consumed[orderHash]; ok {
		return used, nil
	}
	return big.Zero(), nil
}

func (m *Memory) Authorized(_ context.Context, account common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowlist[account], nil
}

// MatchOrders settles one deal atomically: it re-derives every order's
// remaining volume under the lock, consumes the agreed minimum from all four
// and debits the requester's stake, mirroring the hub contract. This is the
// authoritative side of the documented preflight/submit race.
func (m *Memory) MatchOrders(ctx context.Context, app *order.AppOrder, dataset *order.DatasetOrder, workerpool *order.WorkerpoolOrder, request *order.RequestOrder) (*Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.verifySignatures(app, dataset, workerpool, request); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReverted, err)
	}

	hashes := make([]common.Hash, 0, 4)
	volume := big.Int{}
	orders := []order.Order{app, workerpool, request}
	if dataset != nil {
		orders = append(orders, dataset)
	}
	for _, o := range orders {
		h, err := order.Hash(o, m.domain)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReverted, err)
		}
		remaining := m.remainingLocked(h, o.OrderVolume())
		if remaining.LessThanEqual(big.Zero()) {
			return nil, fmt.Errorf("%w: %s has no remaining volume", ErrReverted, o.Kind())
		}
		if volume.Int == nil || remaining.LessThan(volume) {
			volume = remaining
		}
		hashes = append(hashes, h)
	}

	// The requester escrows the full deal cost at match time.
	perTask := big.Add(app.AppPrice, workerpool.WorkerpoolPrice)
	if dataset != nil {
		perTask = big.Add(perTask, dataset.DatasetPrice)
	}
	cost := big.Mul(perTask, volume)
	stake := m.stakes[request.Requester]
	if stake.Int == nil {
		stake = big.Zero()
	}
	if stake.LessThan(cost) {
		return nil, fmt.Errorf("%w: requester stake %s below deal cost %s", ErrReverted, stake, cost)
	}
	m.stakes[request.Requester] = big.Sub(stake, cost)

	for _, h := range hashes {
		used, ok := m.consumed[h]
		if !ok {
			used = big.Zero()
		}
		m.consumed[h] = big.Add(used, volume)
	}

	m.dealSeq++
	requestHash := hashes[2]
	seq := stdbig.NewInt(int64(m.dealSeq))
	dealID := ethcrypto.Keccak256Hash(requestHash.Bytes(), common.BigToHash(seq).Bytes())

	return &Deal{ID: dealID, Volume: volume}, nil
}

func (m *Memory) verifySignatures(app *order.AppOrder, dataset *order.DatasetOrder, workerpool *order.WorkerpoolOrder, request *order.RequestOrder) error {
	check := func(o order.Order, expected common.Address) error {
		ok, err := order.VerifySignature(o, m.domain, expected)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s signature invalid", o.Kind())
		}
		return nil
	}

	if err := check(app, m.ownerLocked(app.App)); err != nil {
		return err
	}
	if dataset != nil {
		if err := check(dataset, m.ownerLocked(dataset.Dataset)); err != nil {
			return err
		}
	}
	if err := check(workerpool, m.ownerLocked(workerpool.Workerpool)); err != nil {
		return err
	}
	return check(request, request.Requester)
}

func (m *Memory) ownerLocked(asset common.Address) common.Address {
	for _, registry := range m.owners {
		if owner, ok := registry[asset]; ok {
			return owner
		}
	}
	return common.Address{}
}

func (m *Memory) remainingLocked(h common.Hash, volume big.Int) big.Int {
	if volume.Int == nil {
		return big.Zero()
	}
	used, ok := m.consumed[h]
	if !ok {
		used = big.Zero()
	}
	return big.Sub(volume, used)
}

// CancelOrder voids whatever volume the order has left. Cancelling an
// exhausted or already-cancelled order reverts, like the hub contract.
func (m *Memory) CancelOrder(_ context.Context, o order.Order) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := order.Hash(o, m.domain)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrReverted, err)
	}
	if m.remainingLocked(h, o.OrderVolume()).LessThanEqual(big.Zero()) {
		return common.Hash{}, fmt.Errorf("%w: order already canceled", ErrReverted)
	}
	m.consumed[h] = o.OrderVolume()

	return ethcrypto.Keccak256Hash([]byte("cancel"), h.Bytes()), nil
}

var _ Ledger = (*Memory)(nil)

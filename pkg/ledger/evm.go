package ledger

import (
	"context"
	"fmt"
	stdbig "math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/filecoin-project/go-state-types/big"
	"go.uber.org/zap"

	"github.com/taskgrid/taskgrid/pkg/crypto"
	"github.com/taskgrid/taskgrid/pkg/order"
)

// hubABI mirrors the marketplace hub contract. The tuple component order of
// each order type is the EIP-712 field order with the signature appended.
const hubABI = `[
	{"type":"function","stateMutability":"view","name":"isAppRegistered","inputs":[{"name":"app","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","stateMutability":"view","name":"isDatasetRegistered","inputs":[{"name":"dataset","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","stateMutability":"view","name":"isWorkerpoolRegistered","inputs":[{"name":"workerpool","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","stateMutability":"view","name":"ownerOf","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","stateMutability":"view","name":"viewConsumed","inputs":[{"name":"orderHash","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"viewAccount","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"stake","type":"uint256"},{"name":"locked","type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"isAuthorized","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","stateMutability":"nonpayable","name":"matchOrders","inputs":[
		{"name":"appOrder","type":"tuple","components":[
			{"name":"app","type":"address"},{"name":"appprice","type":"uint256"},{"name":"volume","type":"uint256"},{"name":"tag","type":"bytes32"},
			{"name":"datasetrestrict","type":"address"},{"name":"workerpoolrestrict","type":"address"},{"name":"requesterrestrict","type":"address"},
			{"name":"salt","type":"bytes32"},{"name":"sign","type":"bytes"}]},
		{"name":"datasetOrder","type":"tuple","components":[
			{"name":"dataset","type":"address"},{"name":"datasetprice","type":"uint256"},{"name":"volume","type":"uint256"},{"name":"tag","type":"bytes32"},
			{"name":"apprestrict","type":"address"},{"name":"workerpoolrestrict","type":"address"},{"name":"requesterrestrict","type":"address"},
			{"name":"salt","type":"bytes32"},{"name":"sign","type":"bytes"}]},
		{"name":"workerpoolOrder","type":"tuple","components":[
			{"name":"workerpool","type":"address"},{"name":"workerpoolprice","type":"uint256"},{"name":"volume","type":"uint256"},{"name":"tag","type":"bytes32"},
			{"name":"category","type":"uint256"},{"name":"trust","type":"uint256"},
			{"name":"apprestrict","type":"address"},{"name":"datasetrestrict","type":"address"},{"name":"requesterrestrict","type":"address"},
			{"name":"salt","type":"bytes32"},{"name":"sign","type":"bytes"}]},
		{"name":"requestOrder","type":"tuple","components":[
			{"name":"app","type":"address"},{"name":"appmaxprice","type":"uint256"},{"name":"dataset","type":"address"},{"name":"datasetmaxprice","type":"uint256"},
			{"name":"workerpool","type":"address"},{"name":"workerpoolmaxprice","type":"uint256"},{"name":"requester","type":"address"},
			{"name":"volume","type":"uint256"},{"name":"tag","type":"bytes32"},{"name":"category","type":"uint256"},{"name":"trust","type":"uint256"},
			{"name":"beneficiary","type":"address"},{"name":"callback","type":"address"},{"name":"params","type":"string"},
			{"name":"salt","type":"bytes32"},{"name":"sign","type":"bytes"}]}],
		"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","stateMutability":"nonpayable","name":"cancelAppOrder","inputs":[{"name":"orderHash","type":"bytes32"},{"name":"volume","type":"uint256"},{"name":"sign","type":"bytes"}],"outputs":[]},
	{"type":"function","stateMutability":"nonpayable","name":"cancelDatasetOrder","inputs":[{"name":"orderHash","type":"bytes32"},{"name":"volume","type":"uint256"},{"name":"sign","type":"bytes"}],"outputs":[]},
	{"type":"function","stateMutability":"nonpayable","name":"cancelWorkerpoolOrder","inputs":[{"name":"orderHash","type":"bytes32"},{"name":"volume","type":"uint256"},{"name":"sign","type":"bytes"}],"outputs":[]},
	{"type":"function","stateMutability":"nonpayable","name":"cancelRequestOrder","inputs":[{"name":"orderHash","type":"bytes32"},{"name":"volume","type":"uint256"},{"name":"sign","type":"bytes"}],"outputs":[]},
	{"type":"event","name":"OrdersMatched","inputs":[
		{"name":"dealId","type":"bytes32","indexed":true},
		{"name":"appHash","type":"bytes32","indexed":false},
		{"name":"datasetHash","type":"bytes32","indexed":false},
		{"name":"workerpoolHash","type":"bytes32","indexed":false},
		{"name":"requestHash","type":"bytes32","indexed":false},
		{"name":"volume","type":"uint256","indexed":false}]},
	{"type":"event","name":"OrderCanceled","inputs":[{"name":"orderHash","type":"bytes32","indexed":true}]}
]`

// EVM talks to the marketplace hub contract over JSON-RPC.
type EVM struct {
	client   *ethclient.Client
	hub      common.Address
	contract *bind.BoundContract
	abi      abi.ABI
	domain   order.Domain
	signer   *crypto.Signer
	chainID  *stdbig.Int
	log      *zap.SugaredLogger
}

// DialEVM connects to rpcURL and binds the hub at hubAddr. The signer is
// used to send match and cancel transactions; pass nil for a read-only
// ledger.
func DialEVM(ctx context.Context, rpcURL string, hubAddr common.Address, domain order.Domain, signer *crypto.Signer, logger *zap.Logger) (*EVM, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(hubABI))
	if err != nil {
		return nil, fmt.Errorf("parse hub abi: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &EVM{
		client:   client,
		hub:      hubAddr,
		contract: bind.NewBoundContract(hubAddr, parsed, client, client, client),
		abi:      parsed,
		domain:   domain,
		signer:   signer,
		chainID:  chainID,
		log:      logger.Sugar(),
	}, nil
}

// Close releases the underlying RPC connection.
func (e *EVM) Close() {
	e.client.Close()
}

func (e *EVM) Deployed(ctx context.Context, kind AssetKind, addr common.Address) (bool, error) {
	var method string
	switch kind {
	case AssetApp:
		method = "isAppRegistered"
	case AssetDataset:
		method = "isDatasetRegistered"
	case AssetWorkerpool:
		method = "isWorkerpoolRegistered"
	default:
		return false, fmt.Errorf("unknown asset kind %q", kind)
	}

	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, addr); err != nil {
		return false, fmt.Errorf("%s(%s): %w", method, addr.Hex(), err)
	}
	return out[0].(bool), nil
}

func (e *EVM) OwnerOf(ctx context.Context, asset common.Address) (common.Address, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "ownerOf", asset); err != nil {
		return common.Address{}, fmt.Errorf("ownerOf(%s): %w", asset.Hex(), err)
	}
	return out[0].(common.Address), nil
}

func (e *EVM) AvailableStake(ctx context.Context, account common.Address) (big.Int, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "viewAccount", account); err != nil {
		return big.Int{}, fmt.Errorf("viewAccount(%s): %w", account.Hex(), err)
	}
	stake := out[0].(*stdbig.Int)
	locked := out[1].(*stdbig.Int)
	return big.Sub(big.NewFromGo(stake), big.NewFromGo(locked)), nil
}

func (e *EVM) Consumed(ctx context.Context, orderHash common.Hash) (big.Int, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "viewConsumed", [32]byte(orderHash)); err != nil {
		return big.Int{}, fmt.Errorf("viewConsumed(%s): %w", orderHash.Hex(), err)
	}
	return big.NewFromGo(out[0].(*stdbig.Int)), nil
}

func (e *EVM) Authorized(ctx context.Context, account common.Address) (bool, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isAuthorized", account); err != nil {
		return false, fmt.Errorf("isAuthorized(%s): %w", account.Hex(), err)
	}
	return out[0].(bool), nil
}

// ABI argument structs. Field order and names track the tuple components.
type appOrderArg struct {
	App                common.Address
	Appprice           *stdbig.Int
	Volume             *stdbig.Int
	Tag                [32]byte
	Datasetrestrict    common.Address
	Workerpoolrestrict common.Address
	Requesterrestrict  common.Address
	Salt               [32]byte
	Sign               []byte
}

type datasetOrderArg struct {
	Dataset            common.Address
	Datasetprice       *stdbig.Int
	Volume             *stdbig.Int
	Tag                [32]byte
	Apprestrict        common.Address
	Workerpoolrestrict common.Address
	Requesterrestrict  common.Address
	Salt               [32]byte
	Sign               []byte
}

type workerpoolOrderArg struct {
	Workerpool        common.Address
	Workerpoolprice   *stdbig.Int
	Volume            *stdbig.Int
	Tag               [32]byte
	Category          *stdbig.Int
	Trust             *stdbig.Int
	Apprestrict       common.Address
	Datasetrestrict   common.Address
	Requesterrestrict common.Address
	Salt              [32]byte
	Sign              []byte
}

type requestOrderArg struct {
	App                common.Address
	Appmaxprice        *stdbig.Int
	Dataset            common.Address
	Datasetmaxprice    *stdbig.Int
	Workerpool         common.Address
	Workerpoolmaxprice *stdbig.Int
	Requester          common.Address
	Volume             *stdbig.Int
	Tag                [32]byte
	Category           *stdbig.Int
	Trust              *stdbig.Int
	Beneficiary        common.Address
	Callback           common.Address
	Params             string
	Salt               [32]byte
	Sign               []byte
}

type ordersMatchedEvent struct {
	DealId         [32]byte
	AppHash        [32]byte
	DatasetHash    [32]byte
	WorkerpoolHash [32]byte
	RequestHash    [32]byte
	Volume         *stdbig.Int
}

func saltOf(o order.Order) ([32]byte, error) {
	salt := o.OrderSalt()
	if salt == nil {
		return [32]byte{}, fmt.Errorf("%s: unsalted order cannot be submitted", o.Kind())
	}
	return [32]byte(*salt), nil
}

func uintArg(v big.Int) *stdbig.Int {
	if v.Int == nil {
		return stdbig.NewInt(0)
	}
	return v.Int
}

// MatchOrders submits the four signed orders as one transaction and parses
// the OrdersMatched event from the receipt. A mined transaction without that
// event is ErrMatchNotConfirmed.
func (e *EVM) MatchOrders(ctx context.Context, app *order.AppOrder, dataset *order.DatasetOrder, workerpool *order.WorkerpoolOrder, request *order.RequestOrder) (*Deal, error) {
	appSalt, err := saltOf(app)
	if err != nil {
		return nil, err
	}
	workerpoolSalt, err := saltOf(workerpool)
	if err != nil {
		return nil, err
	}
	requestSalt, err := saltOf(request)
	if err != nil {
		return nil, err
	}

	// An unused dataset slot travels as an all-zero tuple.
	datasetArg := datasetOrderArg{
		Datasetprice: stdbig.NewInt(0),
		Volume:       stdbig.NewInt(0),
		Sign:         []byte{},
	}
	if dataset != nil {
		datasetSalt, err := saltOf(dataset)
		if err != nil {
			return nil, err
		}
		datasetArg = datasetOrderArg{
			Dataset:            dataset.Dataset,
			Datasetprice:       uintArg(dataset.DatasetPrice),
			Volume:             uintArg(dataset.Volume),
			Tag:                [32]byte(dataset.Tag),
			Apprestrict:        dataset.AppRestrict,
			Workerpoolrestrict: dataset.WorkerpoolRestrict,
			Requesterrestrict:  dataset.RequesterRestrict,
			Salt:               datasetSalt,
			Sign:               dataset.Sign,
		}
	}

	receipt, err := e.transact(ctx, "matchOrders",
		appOrderArg{
			App:                app.App,
			Appprice:           uintArg(app.AppPrice),
			Volume:             uintArg(app.Volume),
			Tag:                [32]byte(app.Tag),
			Datasetrestrict:    app.DatasetRestrict,
			Workerpoolrestrict: app.WorkerpoolRestrict,
			Requesterrestrict:  app.RequesterRestrict,
			Salt:               appSalt,
			Sign:               app.Sign,
		},
		datasetArg,
		workerpoolOrderArg{
			Workerpool:        workerpool.Workerpool,
			Workerpoolprice:   uintArg(workerpool.WorkerpoolPrice),
			Volume:            uintArg(workerpool.Volume),
			Tag:               [32]byte(workerpool.Tag),
			Category:          uintArg(workerpool.Category),
			Trust:             uintArg(workerpool.Trust),
			Apprestrict:       workerpool.AppRestrict,
			Datasetrestrict:   workerpool.DatasetRestrict,
			Requesterrestrict: workerpool.RequesterRestrict,
			Salt:              workerpoolSalt,
			Sign:              workerpool.Sign,
		},
		requestOrderArg{
			App:                request.App,
			Appmaxprice:        uintArg(request.AppMaxPrice),
			Dataset:            request.Dataset,
			Datasetmaxprice:    uintArg(request.DatasetMaxPrice),
			Workerpool:         request.Workerpool,
			Workerpoolmaxprice: uintArg(request.WorkerpoolMaxPrice),
			Requester:          request.Requester,
			Volume:             uintArg(request.Volume),
			Tag:                [32]byte(request.Tag),
			Category:           uintArg(request.Category),
			Trust:              uintArg(request.Trust),
			Beneficiary:        request.Beneficiary,
			Callback:           request.Callback,
			Params:             request.Params,
			Salt:               requestSalt,
			Sign:               request.Sign,
		},
	)
	if err != nil {
		return nil, err
	}

	matchedTopic := e.abi.Events["OrdersMatched"].ID
	for _, lg := range receipt.Logs {
		if lg.Address != e.hub || len(lg.Topics) == 0 || lg.Topics[0] != matchedTopic {
			continue
		}
		var ev ordersMatchedEvent
		if err := e.contract.UnpackLog(&ev, "OrdersMatched", *lg); err != nil {
			return nil, fmt.Errorf("decode OrdersMatched: %w", err)
		}
		deal := &Deal{ID: common.Hash(ev.DealId), Volume: big.NewFromGo(ev.Volume)}
		e.log.Infow("orders matched", "deal", deal.ID.Hex(), "volume", deal.Volume, "tx", receipt.TxHash.Hex())
		return deal, nil
	}
	return nil, fmt.Errorf("tx %s: %w", receipt.TxHash.Hex(), ErrMatchNotConfirmed)
}

// CancelOrder voids the order's remaining volume by hash.
func (e *EVM) CancelOrder(ctx context.Context, o order.Order) (common.Hash, error) {
	h, err := order.Hash(o, e.domain)
	if err != nil {
		return common.Hash{}, err
	}

	var method string
	switch o.Kind() {
	case order.KindApp:
		method = "cancelAppOrder"
	case order.KindDataset:
		method = "cancelDatasetOrder"
	case order.KindWorkerpool:
		method = "cancelWorkerpoolOrder"
	case order.KindRequest:
		method = "cancelRequestOrder"
	default:
		return common.Hash{}, fmt.Errorf("unknown order kind %q", o.Kind())
	}

	receipt, err := e.transact(ctx, method, [32]byte(h), uintArg(o.OrderVolume()), []byte(o.OrderSign()))
	if err != nil {
		return common.Hash{}, err
	}
	e.log.Infow("order canceled", "kind", o.Kind(), "hash", h.Hex(), "tx", receipt.TxHash.Hex())
	return receipt.TxHash, nil
}

func (e *EVM) transact(ctx context.Context, method string, args ...interface{}) (*types.Receipt, error) {
	if e.signer == nil {
		return nil, fmt.Errorf("%s: ledger opened read-only, no signing key", method)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(e.signer.Private(), e.chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	auth.Context = ctx

	tx, err := e.contract.Transact(auth, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	receipt, err := bind.WaitMined(ctx, e.client, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: wait mined: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s: tx %s: %w", method, tx.Hash().Hex(), ErrReverted)
	}
	return receipt, nil
}

var _ Ledger = (*EVM)(nil)

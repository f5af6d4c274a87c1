// Package order defines the four marketplace order kinds and the protocol
// rules shared by all of them: deterministic EIP-712 hashing, signing and
// signature verification, and template construction with typed defaults.
//
// An order is a signed, immutable statement by one party offering (app,
// dataset, workerpool) or requesting (request) a priced, capability-tagged
// quantity of computation. Four orders, one per kind, combine into a deal.
package order

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/taskgrid/taskgrid/pkg/tag"
)

// Kind identifies one of the four order types.
type Kind string

const (
	KindApp        Kind = "apporder"
	KindDataset    Kind = "datasetorder"
	KindWorkerpool Kind = "workerpoolorder"
	KindRequest    Kind = "requestorder"
)

// Order is implemented by the four order kinds. All protocol operations
// (hash, sign, verify, cancel, remaining volume) run through this interface
// so the field-order and domain-separation rules are applied uniformly.
type Order interface {
	Kind() Kind
	// Resource is the on-ledger asset the order concerns: the app, dataset or
	// workerpool address, or the requester account for request orders.
	Resource() common.Address
	OrderTag() tag.Tag
	OrderVolume() big.Int
	// OrderSalt is nil on an unsigned template. Hashing requires a salt.
	OrderSalt() *common.Hash
	OrderSign() hexutil.Bytes
	SetSalt(common.Hash)
	SetSign([]byte)

	primaryType() string
	typedFields() []apitypes.Type
	message() apitypes.TypedDataMessage
}

// AppOrder offers an application for use, priced per task. Prices, volumes
// and all other integers are arbitrary-precision and serialize as decimal
// strings.
type AppOrder struct {
	App                common.Address `json:"app"`
	AppPrice           big.Int        `json:"appprice"`
	Volume             big.Int        `json:"volume"`
	Tag                tag.Tag        `json:"tag"`
	DatasetRestrict    common.Address `json:"datasetrestrict"`
	WorkerpoolRestrict common.Address `json:"workerpoolrestrict"`
	RequesterRestrict  common.Address `json:"requesterrestrict"`
	Salt               *common.Hash   `json:"salt,omitempty"`
	Sign               hexutil.Bytes  `json:"sign,omitempty"`
}

// DatasetOrder offers a dataset for use, priced per task.
type DatasetOrder struct {
	Dataset            common.Address `json:"dataset"`
	DatasetPrice       big.Int        `json:"datasetprice"`
	Volume             big.Int        `json:"volume"`
	Tag                tag.Tag        `json:"tag"`
	AppRestrict        common.Address `json:"apprestrict"`
	WorkerpoolRestrict common.Address `json:"workerpoolrestrict"`
	RequesterRestrict  common.Address `json:"requesterrestrict"`
	Salt               *common.Hash   `json:"salt,omitempty"`
	Sign               hexutil.Bytes  `json:"sign,omitempty"`
}

// WorkerpoolOrder offers compute capacity in one category at a trust level.
type WorkerpoolOrder struct {
	Workerpool        common.Address `json:"workerpool"`
	WorkerpoolPrice   big.Int        `json:"workerpoolprice"`
	Volume            big.Int        `json:"volume"`
	Tag               tag.Tag        `json:"tag"`
	Category          big.Int        `json:"category"`
	Trust             big.Int        `json:"trust"`
	AppRestrict       common.Address `json:"apprestrict"`
	DatasetRestrict   common.Address `json:"datasetrestrict"`
	RequesterRestrict common.Address `json:"requesterrestrict"`
	Salt              *common.Hash   `json:"salt,omitempty"`
	Sign              hexutil.Bytes  `json:"sign,omitempty"`
}

// RequestOrder asks for tasks to be run, naming the app, optionally a dataset
// and workerpool, and the maximum unit price accepted for each resource.
// A zero Dataset or Workerpool address means "any".
type RequestOrder struct {
	App                common.Address `json:"app"`
	AppMaxPrice        big.Int        `json:"appmaxprice"`
	Dataset            common.Address `json:"dataset"`
	DatasetMaxPrice    big.Int        `json:"datasetmaxprice"`
	Workerpool         common.Address `json:"workerpool"`
	WorkerpoolMaxPrice big.Int        `json:"workerpoolmaxprice"`
	Requester          common.Address `json:"requester"`
	Volume             big.Int        `json:"volume"`
	Tag                tag.Tag        `json:"tag"`
	Category           big.Int        `json:"category"`
	Trust              big.Int        `json:"trust"`
	Beneficiary        common.Address `json:"beneficiary"`
	Callback           common.Address `json:"callback"`
	// Params carries serialized execution parameters (deterministic JSON).
	Params string        `json:"params"`
	Salt   *common.Hash  `json:"salt,omitempty"`
	Sign   hexutil.Bytes `json:"sign,omitempty"`
}

func (o *AppOrder) Kind() Kind                  { return KindApp }
func (o *AppOrder) Resource() common.Address    { return o.App }
func (o *AppOrder) OrderTag() tag.Tag           { return o.Tag }
func (o *AppOrder) OrderVolume() big.Int        { return o.Volume }
func (o *AppOrder) OrderSalt() *common.Hash     { return o.Salt }
func (o *AppOrder) OrderSign() hexutil.Bytes    { return o.Sign }
func (o *AppOrder) SetSalt(salt common.Hash)    { o.Salt = &salt }
func (o *AppOrder) SetSign(sig []byte)          { o.Sign = sig }

func (o *DatasetOrder) Kind() Kind               { return KindDataset }
func (o *DatasetOrder) Resource() common.Address { return o.Dataset }
func (o *DatasetOrder) OrderTag() tag.Tag        { return o.Tag }
func (o *DatasetOrder) OrderVolume() big.Int     { return o.Volume }
func (o *DatasetOrder) OrderSalt() *common.Hash  { return o.Salt }
func (o *DatasetOrder) OrderSign() hexutil.Bytes { return o.Sign }
func (o *DatasetOrder) SetSalt(salt common.Hash) { o.Salt = &salt }
func (o *DatasetOrder) SetSign(sig []byte)       { o.Sign = sig }

func (o *WorkerpoolOrder) Kind() Kind               { return KindWorkerpool }
func (o *WorkerpoolOrder) Resource() common.Address { return o.Workerpool }
func (o *WorkerpoolOrder) OrderTag() tag.Tag        { return o.Tag }
func (o *WorkerpoolOrder) OrderVolume() big.Int     { return o.Volume }
func (o *WorkerpoolOrder) OrderSalt() *common.Hash  { return o.Salt }
func (o *WorkerpoolOrder) OrderSign() hexutil.Bytes { return o.Sign }
func (o *WorkerpoolOrder) SetSalt(salt common.Hash) { o.Salt = &salt }
func (o *WorkerpoolOrder) SetSign(sig []byte)       { o.Sign = sig }

func (o *RequestOrder) Kind() Kind               { return KindRequest }
func (o *RequestOrder) Resource() common.Address { return o.Requester }
func (o *RequestOrder) OrderTag() tag.Tag        { return o.Tag }
func (o *RequestOrder) OrderVolume() big.Int     { return o.Volume }
func (o *RequestOrder) OrderSalt() *common.Hash  { return o.Salt }
func (o *RequestOrder) OrderSign() hexutil.Bytes { return o.Sign }
func (o *RequestOrder) SetSalt(salt common.Hash) { o.Salt = &salt }
func (o *RequestOrder) SetSign(sig []byte)       { o.Sign = sig }

// ParseKind validates a kind string from an external caller.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindApp, KindDataset, KindWorkerpool, KindRequest:
		return Kind(s), nil
	}
	return "", errUnknownKind(s)
}

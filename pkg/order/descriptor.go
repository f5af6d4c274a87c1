package order

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/filecoin-project/go-state-types/big"
)

// The typed-data field lists below are the wire protocol: their order is the
// hash order and must never change within a domain version.

func (o *AppOrder) primaryType() string { return "AppOrder" }
func (o *AppOrder) typedFields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "app", Type: "address"},
		{Name: "appprice", Type: "uint256"},
		{Name: "volume", Type: "uint256"},
		{Name: "tag", Type: "bytes32"},
		{Name: "datasetrestrict", Type: "address"},
		{Name: "workerpoolrestrict", Type: "address"},
		{Name: "requesterrestrict", Type: "address"},
		{Name: "salt", Type: "bytes32"},
	}
}

func (o *AppOrder) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"app":                o.App.Hex(),
		"appprice":           decimal(o.AppPrice),
		"volume":             decimal(o.Volume),
		"tag":                o.Tag.String(),
		"datasetrestrict":    o.DatasetRestrict.Hex(),
		"workerpoolrestrict": o.WorkerpoolRestrict.Hex(),
		"requesterrestrict":  o.RequesterRestrict.Hex(),
		"salt":               saltHex(o.Salt),
	}
}

func (o *DatasetOrder) primaryType() string { return "DatasetOrder" }
func (o *DatasetOrder) typedFields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "dataset", Type: "address"},
		{Name: "datasetprice", Type: "uint256"},
		{Name: "volume", Type: "uint256"},
		{Name: "tag", Type: "bytes32"},
		{Name: "apprestrict", Type: "address"},
		{Name: "workerpoolrestrict", Type: "address"},
		{Name: "requesterrestrict", Type: "address"},
		{Name: "salt", Type: "bytes32"},
	}
}

func (o *DatasetOrder) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"dataset":            o.Dataset.Hex(),
		"datasetprice":       decimal(o.DatasetPrice),
		"volume":             decimal(o.Volume),
		"tag":                o.Tag.String(),
		"apprestrict":        o.AppRestrict.Hex(),
		"workerpoolrestrict": o.WorkerpoolRestrict.Hex(),
		"requesterrestrict":  o.RequesterRestrict.Hex(),
		"salt":               saltHex(o.Salt),
	}
}

func (o *WorkerpoolOrder) primaryType() string { return "WorkerpoolOrder" }
func (o *WorkerpoolOrder) typedFields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "workerpool", Type: "address"},
		{Name: "workerpoolprice", Type: "uint256"},
		{Name: "volume", Type: "uint256"},
		{Name: "tag", Type: "bytes32"},
		{Name: "category", Type: "uint256"},
		{Name: "trust", Type: "uint256"},
		{Name: "apprestrict", Type: "address"},
		{Name: "datasetrestrict", Type: "address"},
		{Name: "requesterrestrict", Type: "address"},
		{Name: "salt", Type: "bytes32"},
	}
}

func (o *WorkerpoolOrder) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"workerpool":        o.Workerpool.Hex(),
		"workerpoolprice":   decimal(o.WorkerpoolPrice),
		"volume":            decimal(o.Volume),
		"tag":               o.Tag.String(),
		"category":          decimal(o.Category),
		"trust":             decimal(o.Trust),
		"apprestrict":       o.AppRestrict.Hex(),
		"datasetrestrict":   o.DatasetRestrict.Hex(),
		"requesterrestrict": o.RequesterRestrict.Hex(),
		"salt":              saltHex(o.Salt),
	}
}

func (o *RequestOrder) primaryType() string { return "RequestOrder" }
func (o *RequestOrder) typedFields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "app", Type: "address"},
		{Name: "appmaxprice", Type: "uint256"},
		{Name: "dataset", Type: "address"},
		{Name: "datasetmaxprice", Type: "uint256"},
		{Name: "workerpool", Type: "address"},
		{Name: "workerpoolmaxprice", Type: "uint256"},
		{Name: "requester", Type: "address"},
		{Name: "volume", Type: "uint256"},
		{Name: "tag", Type: "bytes32"},
		{Name: "category", Type: "uint256"},
		{Name: "trust", Type: "uint256"},
		{Name: "beneficiary", Type: "address"},
		{Name: "callback", Type: "address"},
		{Name: "params", Type: "string"},
		{Name: "salt", Type: "bytes32"},
	}
}

func (o *RequestOrder) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"app":                o.App.Hex(),
		"appmaxprice":        decimal(o.AppMaxPrice),
		"dataset":            o.Dataset.Hex(),
		"datasetmaxprice":    decimal(o.DatasetMaxPrice),
		"workerpool":         o.Workerpool.Hex(),
		"workerpoolmaxprice": decimal(o.WorkerpoolMaxPrice),
		"requester":          o.Requester.Hex(),
		"volume":             decimal(o.Volume),
		"tag":                o.Tag.String(),
		"category":           decimal(o.Category),
		"trust":              decimal(o.Trust),
		"beneficiary":        o.Beneficiary.Hex(),
		"callback":           o.Callback.Hex(),
		"params":             o.Params,
		"salt":               saltHex(o.Salt),
	}
}

// decimal renders a big integer for the typed-data message. An unset value
// hashes like an explicit zero, matching the at-rest decimal-string format.
func decimal(v big.Int) string {
	if v.Int == nil {
		return "0"
	}
	return v.String()
}

func saltHex(salt *common.Hash) string {
	if salt == nil {
		return hexutil.Encode(make([]byte, 32))
	}
	return salt.Hex()
}

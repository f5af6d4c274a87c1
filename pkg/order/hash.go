package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator. Signer and verifier must agree on
// every field or hashes diverge even for byte-identical orders; that is the
// replay protection across chains and contract versions.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TypedData assembles the full EIP-712 payload for an order, in the form
// wallets consume for eth_signTypedData_v4.
func TypedData(o Order, d Domain) (apitypes.TypedData, error) {
	if o.OrderSalt() == nil {
		return apitypes.TypedData{}, fmt.Errorf("%s: %w", o.Kind(), ErrMissingSalt)
	}
	chainID := d.ChainID
	if chainID == nil {
		chainID = big.NewInt(0)
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			o.primaryType(): o.typedFields(),
		},
		PrimaryType: o.primaryType(),
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: o.message(),
	}, nil
}

// Hash computes the order's domain-separated structural digest. The digest is
// both the signing payload and the order's on-ledger identity. It is a pure
// function of (order, kind, domain); only the salt distinguishes two
// otherwise identical orders.
func Hash(o Order, d Domain) (common.Hash, error) {
	typedData, err := TypedData(o, d)
	if err != nil {
		return common.Hash{}, err
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: hash domain: %w", o.Kind(), err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: hash message: %w", o.Kind(), err)
	}

	// digest = keccak256("\x19\x01" || domainSeparator || structHash)
	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256Hash(raw), nil
}

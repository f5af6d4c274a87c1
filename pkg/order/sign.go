package order

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/taskgrid/taskgrid/pkg/crypto"
)

// SaltAndSign attaches a fresh random salt to the order, hashes it under the
// domain and signs the digest. The order is mutated in place: after a nil
// error it carries both salt and sign and is immutable by convention.
//
// Authorization (is this key allowed to sign this order kind?) is the
// caller's concern; see market.Client.SignOrder.
func SaltAndSign(o Order, d Domain, signer *crypto.Signer) error {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return fmt.Errorf("%s: %w", o.Kind(), err)
	}
	o.SetSalt(salt)

	digest, err := Hash(o, d)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(digest.Bytes())
	if err != nil {
		return fmt.Errorf("%s: %w", o.Kind(), err)
	}
	o.SetSign(sig)
	return nil
}

// VerifySignature reports whether the order's signature was produced by
// expected over the order's digest under the domain. Any mutation of a signed
// field, salt included, makes this false.
func VerifySignature(o Order, d Domain, expected common.Address) (bool, error) {
	recovered, err := RecoverSigner(o, d)
	if err != nil {
		return false, err
	}
	return recovered == expected, nil
}

// RecoverSigner returns the address that signed the order.
func RecoverSigner(o Order, d Domain) (common.Address, error) {
	sig := o.OrderSign()
	if len(sig) == 0 {
		return common.Address{}, fmt.Errorf("%s: order is not signed", o.Kind())
	}
	digest, err := Hash(o, d)
	if err != nil {
		return common.Address{}, err
	}
	recovered, err := crypto.RecoverAddress(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", o.Kind(), err)
	}
	return recovered, nil
}

// Package market implements the client-side marketplace protocol: order
// signing with authorization, remaining-volume resolution, the
// match-compatibility validator, and deal submission/cancellation.
//
// All checks here observe a ledger snapshot; the eventual match submission is
// the single atomic, authoritative operation. The snapshot may go stale in
// between, which surfaces as a submission error rather than being retried.
package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/taskgrid/taskgrid/pkg/crypto"
	"github.com/taskgrid/taskgrid/pkg/ledger"
	"github.com/taskgrid/taskgrid/pkg/order"
)

// Client binds a ledger, an EIP-712 domain and optionally a signing key.
type Client struct {
	ledger     ledger.Ledger
	domain     order.Domain
	signer     *crypto.Signer
	restricted bool
	log        *zap.SugaredLogger
}

// Option configures a Client.
type Option func(*Client)

// WithSigner attaches the key used for signing orders and sending
// transactions.
func WithSigner(s *crypto.Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithRestrictedMode enables the allow-list (KYC) check during validation.
func WithRestrictedMode() Option {
	return func(c *Client) { c.restricted = true }
}

// WithLogger replaces the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l.Sugar() }
}

// NewClient creates a marketplace client over the given ledger and domain.
func NewClient(l ledger.Ledger, d order.Domain, opts ...Option) *Client {
	c := &Client{
		ledger: l,
		domain: d,
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Domain returns the EIP-712 domain the client hashes and signs under.
func (c *Client) Domain() order.Domain {
	return c.domain
}

// HashOrder computes the order's identity under the client's domain.
func (c *Client) HashOrder(o order.Order) (common.Hash, error) {
	return order.Hash(o, c.domain)
}

// authorizedSigner resolves who is allowed to sign the order: the current
// on-ledger owner of the resource, or the requester for request orders.
func (c *Client) authorizedSigner(ctx context.Context, o order.Order) (common.Address, error) {
	if o.Kind() == order.KindRequest {
		return o.Resource(), nil
	}
	owner, err := c.ledger.OwnerOf(ctx, o.Resource())
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: resolve owner: %w", o.Kind(), err)
	}
	return owner, nil
}

// SignOrder authorizes, salts and signs the order in place. It refuses before
// producing any signature if the client's key is not the order's authorized
// signer.
func (c *Client) SignOrder(ctx context.Context, o order.Order) error {
	if c.signer == nil {
		return ErrNoSigningKey
	}
	authorized, err := c.authorizedSigner(ctx, o)
	if err != nil {
		return err
	}
	if authorized != c.signer.Address() {
		return fmt.Errorf("%s: %w: authorized %s, have %s",
			o.Kind(), ErrNotAuthorized, authorized.Hex(), c.signer.Address().Hex())
	}

	if err := order.SaltAndSign(o, c.domain, c.signer); err != nil {
		return err
	}
	c.log.Debugw("order signed", "kind", o.Kind(), "signer", c.signer.Address().Hex())
	return nil
}

// VerifyOrder checks the order's signature against its authorized signer.
func (c *Client) VerifyOrder(ctx context.Context, o order.Order) error {
	authorized, err := c.authorizedSigner(ctx, o)
	if err != nil {
		return err
	}
	ok, err := order.VerifySignature(o, c.domain, authorized)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", o.Kind(), ErrBadSignature, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w: expected signer %s", o.Kind(), ErrBadSignature, authorized.Hex())
	}
	return nil
}

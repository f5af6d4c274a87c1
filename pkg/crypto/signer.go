package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds a secp256k1 key pair and signs 32-byte digests. Orders are
// authorized by the Ethereum address derived from the public key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a fresh random key pair.
func GenerateKey() (*Signer, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newSigner(priv), nil
}

// FromPrivateKeyHex loads a signer from a 64-char hex private key, with or
// without the 0x prefix.
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return newSigner(priv), nil
}

func newSigner(priv *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: priv,
		address:    crypto.PubkeyToAddress(priv.PublicKey),
	}
}

// Address returns the account controlled by this signer.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the raw private key as hex, without 0x prefix.
// Never log this.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Private exposes the underlying key for transaction signing.
func (s *Signer) Private() *ecdsa.PrivateKey {
	return s.privateKey
}

// Sign signs a 32-byte digest and returns a 65-byte [R || S || V] signature
// with V in {0, 1}.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// RecoverAddress recovers the address that produced sig over digest. V values
// of 27/28, as emitted by wallets, are accepted alongside 0/1.
func RecoverAddress(digest []byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	if len(digest) != 32 {
		return common.Address{}, fmt.Errorf("invalid digest length %d", len(digest))
	}

	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature reports whether sig over digest was produced by address.
func VerifySignature(address common.Address, digest []byte, sig []byte) bool {
	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		return false
	}
	return recovered == address
}

// GenerateSalt returns 32 cryptographically random bytes. A fresh salt makes
// two otherwise identical orders hash to distinct identities.
func GenerateSalt() (common.Hash, error) {
	var salt common.Hash
	if _, err := rand.Read(salt[:]); err != nil {
		return common.Hash{}, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

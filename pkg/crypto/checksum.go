package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// ChecksumHex renders a 20-byte address with EIP-55 mixed-case checksum.
func ChecksumHex(addr common.Address) string {
	lower := hex.EncodeToString(addr[:])

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	hash := h.Sum(nil)

	out := []byte("0x" + lower)
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c < 'a' {
			continue // digit, never cased
		}
		nibble := hash[i/2] >> 4
		if i%2 == 1 {
			nibble = hash[i/2] & 0x0f
		}
		if nibble >= 8 {
			out[2+i] = c - ('a' - 'A')
		}
	}
	return string(out)
}

// NormalizeAddress parses a user-supplied address string into canonical form.
// All-lowercase and all-uppercase inputs are accepted as checksum-agnostic;
// mixed-case inputs must carry a valid EIP-55 checksum, which catches
// single-character typos before an order is ever signed.
func NormalizeAddress(s string) (common.Address, error) {
	trimmed := strings.TrimSpace(s)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	addr := common.HexToAddress(trimmed)

	hexPart := strings.TrimPrefix(trimmed, "0x")
	hexPart = strings.TrimPrefix(hexPart, "0X")
	if hexPart != strings.ToLower(hexPart) && hexPart != strings.ToUpper(hexPart) {
		if "0x"+hexPart != ChecksumHex(addr) {
			return common.Address{}, fmt.Errorf("bad address checksum %q", s)
		}
	}
	return addr, nil
}

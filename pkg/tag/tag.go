package tag

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Tag is the 256-bit capability bitmask carried by every order. Request-side
// orders use it to state what a task requires ("tee", "gpu", ...), workerpool
// orders to state what the pool offers. Bits this package does not know about
// round-trip opaquely so older clients keep working when the protocol adds
// capabilities.
type Tag [32]byte

// Bit is a position in the mask. Bit 0 is the least significant bit, i.e. the
// lowest bit of Tag[31].
type Bit uint16

const (
	// Tee requests protected (enclave) execution.
	Tee Bit = 0
	// Scone and Gramine pick the enclave framework. Exactly one of them must
	// accompany Tee; they are mutually exclusive.
	Scone   Bit = 1
	Gramine Bit = 2
	// Gpu requests GPU hardware.
	Gpu Bit = 8
)

var bitNames = map[Bit]string{
	Tee:     "tee",
	Scone:   "scone",
	Gramine: "gramine",
	Gpu:     "gpu",
}

var nameBits = map[string]Bit{}

func init() {
	for b, n := range bitNames {
		nameBits[n] = b
	}
}

// Encode builds a tag from capability names and rejects both unknown names and
// illegal combinations. Names of the form "bitN" address unnamed positions,
// which keeps Names/Encode a round trip even for bits this client predates.
func Encode(names ...string) (Tag, error) {
	var t Tag
	for _, name := range names {
		n := strings.ToLower(strings.TrimSpace(name))
		if n == "" {
			continue
		}
		b, ok := nameBits[n]
		if !ok {
			if rest, found := strings.CutPrefix(n, "bit"); found {
				if pos, err := strconv.ParseUint(rest, 10, 16); err == nil && pos < 256 {
					t.set(Bit(pos))
					continue
				}
			}
			return Tag{}, fmt.Errorf("unknown tag %q", name)
		}
		t.set(b)
	}
	if err := t.Validate(); err != nil {
		return Tag{}, err
	}
	return t, nil
}

// Validate checks the static legality rules over the named bits. Unnamed bits
// are never constrained here.
func (t Tag) Validate() error {
	tee, scone, gramine := t.Has(Tee), t.Has(Scone), t.Has(Gramine)
	switch {
	case scone && gramine:
		return fmt.Errorf("tag: frameworks %q and %q are mutually exclusive", bitNames[Scone], bitNames[Gramine])
	case tee && !scone && !gramine:
		return fmt.Errorf("tag: %q requires exactly one framework (%q or %q)", bitNames[Tee], bitNames[Scone], bitNames[Gramine])
	case (scone || gramine) && !tee:
		framework := bitNames[Scone]
		if gramine {
			framework = bitNames[Gramine]
		}
		return fmt.Errorf("tag: %q requires %q", framework, bitNames[Tee])
	}
	return nil
}

// Has reports whether bit b is set.
func (t Tag) Has(b Bit) bool {
	return t[31-int(b)/8]&(1<<(uint(b)%8)) != 0
}

func (t *Tag) set(b Bit) {
	t[31-int(b)/8] |= 1 << (uint(b) % 8)
}

// Union ORs any number of tags together. The union of nothing is the zero tag.
func Union(tags ...Tag) Tag {
	var out Tag
	for _, t := range tags {
		for i := range out {
			out[i] |= t[i]
		}
	}
	return out
}

// Missing lists the capabilities set in want but absent from have, as names
// where known and "bitN" tokens otherwise. Empty means have covers want.
func Missing(have, want Tag) []string {
	var missing []string
	for b := Bit(0); b < 256; b++ {
		if want.Has(b) && !have.Has(b) {
			missing = append(missing, nameOf(b))
		}
	}
	return missing
}

// Names decodes the tag back to capability names, sorted by bit position.
func (t Tag) Names() []string {
	var names []string
	for b := Bit(0); b < 256; b++ {
		if t.Has(b) {
			names = append(names, nameOf(b))
		}
	}
	return names
}

func nameOf(b Bit) string {
	if n, ok := bitNames[b]; ok {
		return n
	}
	return fmt.Sprintf("bit%d", b)
}

// IsZero reports whether no bit is set.
func (t Tag) IsZero() bool {
	return t == Tag{}
}

// String renders the tag as a fixed-length 0x-prefixed 64-char hex string.
func (t Tag) String() string {
	return hexutil.Encode(t[:])
}

// Parse reads a 0x-prefixed hex tag. Shorter values are left-padded, so
// "0x1" and "0x...0001" denote the same mask.
func Parse(s string) (Tag, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if raw == "" || len(raw) > 64 {
		return Tag{}, fmt.Errorf("tag: invalid hex %q", s)
	}
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	b, err := hexutil.Decode("0x" + raw)
	if err != nil {
		return Tag{}, fmt.Errorf("tag: invalid hex %q", s)
	}
	var t Tag
	copy(t[32-len(b):], b)
	return t, nil
}

// SortedNames is Names with a stable lexicographic order, handy for error
// messages and logs.
func (t Tag) SortedNames() []string {
	names := t.Names()
	sort.Strings(names)
	return names
}

func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tag) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

package receipt

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// MarketID is an opaque 256-bit market identifier. The low 40 bits are
// reserved and must be zero: the receipt codec packs the outcome index and
// time bucket into them.
type MarketID [32]byte

// ID is a composite receipt identifier packing
// [216-bit market id][8-bit outcome index][32-bit time bucket]
// into one 256-bit value. Receipts are fungible only within the same
// (market, outcome, bucket) triple.
type ID [32]byte

// Bit layout, big-endian bytes:
//   bytes  0..26  market id high 216 bits
//   byte   27     outcome index
//   bytes 28..31  time bucket (seconds, big-endian)
const (
	outcomeByte = 27
	bucketFirst = 28
)

var ErrMalformedID = errors.New("receipt: malformed identifier")

// Valid reports whether the market id's reserved low 40 bits are zero.
func (m MarketID) Valid() bool {
	for _, b := range m[outcomeByte:] {
		if b != 0 {
			return false
		}
	}
	return true
}

func (m MarketID) String() string {
	return hex.EncodeToString(m[:])
}

// MarshalText renders the id as 64 hex chars so JSON payloads carry the
// same form as String and the outbound subjects.
func (m MarketID) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MarketID) UnmarshalText(text []byte) error {
	parsed, err := ParseMarketID(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMarketID decodes a 64-hex-char market id and checks the reserved bits.
func ParseMarketID(s string) (MarketID, error) {
	var m MarketID
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(m) {
		return MarketID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	copy(m[:], raw)
	if !m.Valid() {
		return MarketID{}, fmt.Errorf("%w: reserved bits set", ErrMalformedID)
	}
	return m, nil
}

// Encode packs a (market, outcome, bucket) triple into one receipt id.
// The market id must have its reserved bits clear; the parameter validator
// guarantees that for every created market, so a violation here is a logic
// defect, not user input.
func Encode(m MarketID, outcome uint8, bucket uint32) ID {
	if !m.Valid() {
		panic(fmt.Sprintf("FATAL: receipt.Encode on market id with reserved bits set: %s", m))
	}
	var id ID
	copy(id[:], m[:])
	id[outcomeByte] = outcome
	binary.BigEndian.PutUint32(id[bucketFirst:], bucket)
	return id
}

// Market extracts the market id with reserved bits cleared.
func (id ID) Market() MarketID {
	var m MarketID
	copy(m[:outcomeByte], id[:outcomeByte])
	return m
}

// Outcome extracts the 8-bit outcome index.
func (id ID) Outcome() uint8 {
	return id[outcomeByte]
}

// Bucket extracts the 32-bit time bucket.
func (id ID) Bucket() uint32 {
	return binary.BigEndian.Uint32(id[bucketFirst:])
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse decodes a 64-hex-char receipt id.
func Parse(s string) (ID, error) {
	var id ID
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(id) {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	copy(id[:], raw)
	return id, nil
}

// Package wire defines the fixed-layout messages exchanged between every
// component of the pipeline, and the sentinel error kinds they return.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// TradeMessageType marks a TradeRecord on the wire.
const TradeMessageType byte = 'P'

// GapRequest types.
const (
	GapRequestGap        byte = '0'
	GapRequestReplayAll  byte = '1'
)

const symbolLen = 8

// TradeRecordSize is the exact on-wire size of a TradeRecord: it is used
// to validate every socket read against a short/partial frame.
const TradeRecordSize = 1 + 8 + 8 + 8 + 8 + 8 + 1 + 1 + symbolLen // 51 bytes

// GapRequestSize is the exact on-wire size of a GapRequest.
const GapRequestSize = 1 + 8 + 8 // 17 bytes

// TradeRecord is a single trade event. SequenceNumber is the total
// ordering key across the whole feed.
type TradeRecord struct {
	MessageType    byte
	SequenceNumber uint64
	TradeID        uint64
	Timestamp      uint64 // milliseconds since epoch
	Price          float64
	Quantity       float64
	BuyerIsMaker   bool
	BestMatch      bool
	Symbol         [symbolLen]byte
}

// SymbolString trims the trailing NUL padding from Symbol.
func (t *TradeRecord) SymbolString() string {
	n := symbolLen
	for n > 0 && t.Symbol[n-1] == 0 {
		n--
	}
	return string(t.Symbol[:n])
}

// SetSymbol right-pads sym with NUL into the fixed 8-byte field.
func (t *TradeRecord) SetSymbol(sym string) {
	var buf [symbolLen]byte
	copy(buf[:], sym)
	t.Symbol = buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// MarshalBinary encodes t in the packed little-endian layout defined by
// the wire format: no padding, field order exactly as declared.
func (t *TradeRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, TradeRecordSize)
	buf[0] = t.MessageType
	binary.LittleEndian.PutUint64(buf[1:9], t.SequenceNumber)
	binary.LittleEndian.PutUint64(buf[9:17], t.TradeID)
	binary.LittleEndian.PutUint64(buf[17:25], t.Timestamp)
	binary.LittleEndian.PutUint64(buf[25:33], math.Float64bits(t.Price))
	binary.LittleEndian.PutUint64(buf[33:41], math.Float64bits(t.Quantity))
	buf[41] = boolByte(t.BuyerIsMaker)
	buf[42] = boolByte(t.BestMatch)
	copy(buf[43:51], t.Symbol[:])
	return buf, nil
}

// UnmarshalBinary decodes t from data, which must be exactly
// TradeRecordSize bytes (a short read is a protocol error).
func (t *TradeRecord) UnmarshalBinary(data []byte) error {
	if len(data) != TradeRecordSize {
		return fmt.Errorf("trade record: short frame (%d of %d bytes): %w", len(data), TradeRecordSize, ErrProtocol)
	}
	t.MessageType = data[0]
	t.SequenceNumber = binary.LittleEndian.Uint64(data[1:9])
	t.TradeID = binary.LittleEndian.Uint64(data[9:17])
	t.Timestamp = binary.LittleEndian.Uint64(data[17:25])
	t.Price = math.Float64frombits(binary.LittleEndian.Uint64(data[25:33]))
	t.Quantity = math.Float64frombits(binary.LittleEndian.Uint64(data[33:41]))
	t.BuyerIsMaker = data[41] != 0
	t.BestMatch = data[42] != 0
	copy(t.Symbol[:], data[43:51])
	return nil
}

// GapRequest is sent from a recovery client to the replay server.
type GapRequest struct {
	Type     byte
	StartSeq uint64
	EndSeq   uint64
}

// MarshalBinary encodes g in the packed little-endian layout.
func (g *GapRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, GapRequestSize)
	buf[0] = g.Type
	binary.LittleEndian.PutUint64(buf[1:9], g.StartSeq)
	binary.LittleEndian.PutUint64(buf[9:17], g.EndSeq)
	return buf, nil
}

// UnmarshalBinary decodes g from data, which must be exactly GapRequestSize bytes.
func (g *GapRequest) UnmarshalBinary(data []byte) error {
	if len(data) != GapRequestSize {
		return fmt.Errorf("gap request: short frame (%d of %d bytes): %w", len(data), GapRequestSize, ErrProtocol)
	}
	g.Type = data[0]
	g.StartSeq = binary.LittleEndian.Uint64(data[1:9])
	g.EndSeq = binary.LittleEndian.Uint64(data[9:17])
	return nil
}

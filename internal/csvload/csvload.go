// Package csvload builds a dense, timestamp-sorted trade record store
// from one or more CSV files, standing in for the reference design's
// TradeMsgStore.
package csvload

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/lxfeed/tradefeed/pkg/wire"
)

// Columns, in order: trade_id, price, quantity, quote_quantity (ignored,
// it is price*quantity), timestamp, buyer_is_maker, best_match.
const expectedColumns = 7

// LoadFiles parses every path, merges the resulting records, sorts them
// by timestamp, and assigns dense sequence numbers starting at 0. Each
// file's symbol is derived from its base filename up to the first '-'.
func LoadFiles(paths []string) ([]wire.TradeRecord, error) {
	var all []wire.TradeRecord
	for _, path := range paths {
		records, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("csvload: %s: %w", path, err)
		}
		all = append(all, records...)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	for i := range all {
		all[i].SequenceNumber = uint64(i)
	}
	return all, nil
}

func symbolFromFilename(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if idx := strings.IndexByte(base, '-'); idx >= 0 {
		return base[:idx]
	}
	return base
}

func loadFile(path string) ([]wire.TradeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	symbol := symbolFromFilename(path)
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var out []wire.TradeRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec, err := parseRow(row, symbol)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRow(row []string, symbol string) (wire.TradeRecord, error) {
	if len(row) < expectedColumns {
		return wire.TradeRecord{}, fmt.Errorf("expected %d columns, got %d", expectedColumns, len(row))
	}

	tradeID, err := strconv.ParseUint(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		return wire.TradeRecord{}, fmt.Errorf("trade_id: %w", err)
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
	if err != nil {
		return wire.TradeRecord{}, fmt.Errorf("price: %w", err)
	}
	quantity, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return wire.TradeRecord{}, fmt.Errorf("quantity: %w", err)
	}
	// row[3] is quote_quantity (price*quantity); ignored, as in the
	// reference parser.
	timestamp, err := strconv.ParseUint(strings.TrimSpace(row[4]), 10, 64)
	if err != nil {
		return wire.TradeRecord{}, fmt.Errorf("timestamp: %w", err)
	}

	rec := wire.TradeRecord{
		MessageType:  wire.TradeMessageType,
		TradeID:      tradeID,
		Price:        price,
		Quantity:     quantity,
		Timestamp:    timestamp,
		BuyerIsMaker: strings.EqualFold(strings.TrimSpace(row[5]), "true"),
		BestMatch:    strings.EqualFold(strings.TrimSpace(row[6]), "true"),
	}
	rec.SetSymbol(symbol)
	return rec, nil
}

package cards

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"faceseek/services/ledger"
)

// Row is one card parsed from a batch CSV.
type Row struct {
	Code     string
	Searches int
	Batch    string
}

// ParseCSV reads a batch CSV, decompressing zstd input when compressed is
// set. The header row is matched by column name so column order does not
// matter.
func ParseCSV(r io.Reader, compressed bool) ([]Row, error) {
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}

	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	codeIdx, ok := col["code"]
	if !ok {
		return nil, errors.New("csv is missing a Code column")
	}

	var rows []Row
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		row := Row{Code: strings.TrimSpace(record[codeIdx])}
		if row.Code == "" {
			continue
		}
		if i, ok := col["searches"]; ok && i < len(record) {
			if n, err := strconv.Atoi(strings.TrimSpace(record[i])); err == nil {
				row.Searches = n
			}
		}
		if i, ok := col["batch"]; ok && i < len(record) {
			row.Batch = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CardImporter inserts externally produced cards. Implemented by
// *ledger.Ledger.
type CardImporter interface {
	ImportGiftCard(ctx context.Context, code string, searchesAmount int, batchID string) (ledger.GiftCard, error)
}

// ImportFile loads a batch CSV (plain or .zst) into the ledger as unredeemed
// cards. defaultSearches applies to rows without a Searches value;
// batchOverride, when set, replaces the batch id in the file.
func ImportFile(ctx context.Context, l CardImporter, path string, defaultSearches int, batchOverride string) (int, error) {
	if l == nil {
		return 0, errors.New("ledger is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	rows, err := ParseCSV(f, strings.HasSuffix(path, ".zst"))
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, row := range rows {
		searches := row.Searches
		if searches <= 0 {
			searches = defaultSearches
		}
		if searches <= 0 {
			return imported, fmt.Errorf("card %s has no searches amount and no default given", row.Code)
		}

		batch := row.Batch
		if batchOverride != "" {
			batch = batchOverride
		}

		if _, err := l.ImportGiftCard(ctx, row.Code, searches, batch); err != nil {
			return imported, fmt.Errorf("import %s: %w", row.Code, err)
		}
		imported++
	}
	return imported, nil
}

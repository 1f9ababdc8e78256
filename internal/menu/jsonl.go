package menu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ImportResult contains statistics about a JSONL import.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// ImportJSONL reads one item per line from r and saves each valid item.
// Items failing validation are skipped and reported; malformed JSON aborts
// the import.
func ImportJSONL(ctx context.Context, repo Repository, r io.Reader, dryRun bool) (*ImportResult, error) {
	res := &ImportResult{}
	dec := json.NewDecoder(r)
	line := 0

	for {
		var it Item
		if err := dec.Decode(&it); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return res, fmt.Errorf("invalid JSON at line %d: %w", line+1, err)
		}
		line++

		if err := it.Validate(); err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if !dryRun {
			if err := repo.SaveItem(ctx, &it); err != nil {
				return res, fmt.Errorf("failed to save item at line %d: %w", line, err)
			}
		}
		res.Imported++
	}
	return res, nil
}

// ExportJSONL writes every item to w, one JSON object per line.
func ExportJSONL(ctx context.Context, repo Repository, w io.Writer) (int, error) {
	items, err := repo.ListItems(ctx)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	for i := range items {
		if err := enc.Encode(&items[i]); err != nil {
			return i, fmt.Errorf("failed to write item %s: %w", items[i].ID, err)
		}
	}
	return len(items), nil
}

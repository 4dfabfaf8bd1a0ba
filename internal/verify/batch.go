package verify

import (
	"context"
	"sync"

	"github.com/leonaii/kirocloud/internal/models"
)

// BatchItem is one credential in a batch verification, typically parsed
// from a pasted token list.
type BatchItem struct {
	Label  string
	Bundle models.CredentialBundle
}

// BatchItemResult is the structured outcome for a single item. Failures
// carry a message instead of an error value so results can cross the UI
// boundary as plain data.
type BatchItemResult struct {
	Label    string                   `json:"label"`
	OK       bool                     `json:"ok"`
	Snapshot *models.AccountSnapshot  `json:"snapshot,omitempty"`
	Bundle   *models.CredentialBundle `json:"bundle,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// BatchResult aggregates a finished batch.
type BatchResult struct {
	Items     []BatchItemResult `json:"items"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// CheckBatch verifies every item concurrently and independently: one
// item's failure never cancels or affects the others. Results keep the
// input order.
func (c *StatusChecker) CheckBatch(ctx context.Context, items []BatchItem) *BatchResult {
	results := make([]BatchItemResult, len(items))

	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := items[i]
			results[i] = c.checkOne(ctx, item)
		}(i)
	}
	wg.Wait()

	out := &BatchResult{Items: results}
	for _, r := range results {
		if r.OK {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out
}

func (c *StatusChecker) checkOne(ctx context.Context, item BatchItem) BatchItemResult {
	result := BatchItemResult{Label: item.Label}

	bundle := item.Bundle
	if err := bundle.Validate(); err != nil {
		result.Error = err.Error()
		return result
	}

	snapshot, updated, err := c.CheckStatus(ctx, item.Label, &bundle)
	if err != nil {
		result.Error = err.Error()
		result.Bundle = updated
		return result
	}
	result.OK = true
	result.Snapshot = snapshot
	result.Bundle = updated
	return result
}

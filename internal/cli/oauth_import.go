package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leonaii/kirocloud/internal/models"
	"github.com/leonaii/kirocloud/internal/verify"
)

// importLine is one pasted credential: a bundle plus an optional label.
type importLine struct {
	Label string `json:"label,omitempty"`
	models.CredentialBundle
}

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Batch-verify a pasted credential list",
	Long: `Read a credential list (one JSON object per line) from a file or
stdin, verify every entry concurrently, and store the ones that pass.
Each line carries the token bundle plus an optional label:

  {"label":"work","access_token":"...","refresh_token":"...","auth_method":"oidc","provider":"BuilderId","client_id":"...","client_secret":"..."}

One malformed or rejected line never aborts the rest of the batch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func init() {
	RegisterCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	items, parseErrors, err := parseImportLines(in)
	if err != nil {
		return err
	}
	if len(items) == 0 && len(parseErrors) == 0 {
		return fmt.Errorf("no credentials to import")
	}

	app, err := newApp(globalFlags.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	result := app.checker.CheckBatch(ctx, items)
	for _, item := range result.Items {
		if !item.OK {
			continue
		}
		bundle := item.Bundle
		acc := &models.Account{
			ID:          uuid.NewString(),
			Label:       item.Label,
			Credentials: *bundle,
			Snapshot:    item.Snapshot,
		}
		app.store.SetAccount(acc)
	}

	// Unparseable lines join the report as failed items.
	for _, pe := range parseErrors {
		result.Items = append(result.Items, pe)
		result.Failed++
	}

	if globalFlags.JSON {
		return printJSON(result)
	}
	for _, item := range result.Items {
		if item.OK {
			fmt.Printf("ok    %-20s %s (%d/%d credits)\n", item.Label,
				item.Snapshot.Email, item.Snapshot.Usage.TotalCurrent, item.Snapshot.Usage.TotalLimit)
		} else {
			fmt.Printf("fail  %-20s %s\n", item.Label, item.Error)
		}
	}
	fmt.Printf("%d imported, %d failed\n", result.Succeeded, result.Failed)
	return nil
}

// parseImportLines decodes the line-oriented input. Malformed lines are
// returned as pre-failed results instead of aborting the parse.
func parseImportLines(in io.Reader) ([]verify.BatchItem, []verify.BatchItemResult, error) {
	var (
		items    []verify.BatchItem
		failures []verify.BatchItemResult
	)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var parsed importLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			failures = append(failures, verify.BatchItemResult{
				Label: fmt.Sprintf("line %d", lineNo),
				Error: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		label := parsed.Label
		if label == "" {
			label = fmt.Sprintf("import-%d-%d", time.Now().Unix(), lineNo)
		}
		items = append(items, verify.BatchItem{Label: label, Bundle: parsed.CredentialBundle})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return items, failures, nil
}

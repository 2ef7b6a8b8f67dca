package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/arborhq/arbor/internal/email"
	"github.com/arborhq/arbor/internal/export"
	"github.com/arborhq/arbor/internal/gendb"
	"github.com/arborhq/arbor/internal/model"
	"github.com/arborhq/arbor/internal/search"
)

// NewExecutors builds the full executor registry. The same registry backs
// the inline runner in the API process and the mux in the worker process.
func NewExecutors(mail *email.Service, indexer *search.Indexer, exporter *export.Exporter, trees *gendb.Registry) Executors {
	return Executors{
		TypeEmailConfirm: func(ctx context.Context, payload []byte) error {
			var p EmailConfirmPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			return mail.SendConfirm(ctx, p.Username, p.Email, p.Token)
		},
		TypeEmailReset: func(ctx context.Context, payload []byte) error {
			var p EmailResetPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			return mail.SendReset(ctx, p.Username, p.Email, p.Token)
		},
		TypeEmailNewUser: func(ctx context.Context, payload []byte) error {
			var p EmailNewUserPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			return mail.SendNewUserNotice(ctx, p.Owners, p.Username, p.FullName, p.Email, p.Tree)
		},
		TypeSearchReindex: func(ctx context.Context, payload []byte) error {
			var p SearchReindexPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			if p.Full {
				return indexer.ReindexFull(ctx, p.Tree)
			}
			return indexer.ReindexIncremental(ctx, p.Tree)
		},
		TypeExportDB: func(ctx context.Context, payload []byte) error {
			var p ExportDBPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			url, err := exporter.ExportTree(ctx, p.Tree, p.Format)
			if err != nil {
				return err
			}
			slog.Info("export finished", "tree", p.Tree, "url", url)
			return nil
		},
		TypeReportGenerate: func(ctx context.Context, payload []byte) error {
			var p ReportGeneratePayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			url, err := exporter.GenerateReport(ctx, p.Tree, p.ReportID, p.Options)
			if err != nil {
				return err
			}
			slog.Info("report finished", "tree", p.Tree, "report", p.ReportID, "url", url)
			return nil
		},
		TypeImportFile: func(ctx context.Context, payload []byte) error {
			var p ImportFilePayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			return importFile(ctx, trees, p)
		},
	}
}

// importFile loads a JSON dump into a tree. Objects whose handle already
// exists are skipped, making re-imports idempotent.
func importFile(ctx context.Context, trees *gendb.Registry, p ImportFilePayload) error {
	if p.Format != "json" {
		return fmt.Errorf("unsupported import format %q", p.Format)
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}
	var dump struct {
		Media []model.Media `json:"media"`
	}
	if err := json.Unmarshal(data, &dump); err != nil {
		return fmt.Errorf("decode import file: %w", err)
	}

	tree, err := trees.Get(p.Tree)
	if err != nil {
		return err
	}
	added := 0
	for i := range dump.Media {
		m := dump.Media[i]
		if _, err := tree.GetMedia(ctx, m.Handle); err == nil {
			continue
		} else if !errors.Is(err, gendb.ErrNotFound) {
			return err
		}
		if err := tree.AddMedia(ctx, &m); err != nil {
			return fmt.Errorf("import %s: %w", m.Handle, err)
		}
		added++
	}
	slog.Info("import finished", "tree", p.Tree, "objects", added)
	return nil
}

package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/arborhq/arbor/internal/gendb"
	"github.com/arborhq/arbor/internal/model"
)

// Exporter writes tree exports and generated reports to the download
// directory. Finished files are addressed by their random name under
// /api/downloads/.
type Exporter struct {
	trees *gendb.Registry
	dir   string
}

func NewExporter(trees *gendb.Registry, dir string) *Exporter {
	return &Exporter{trees: trees, dir: dir}
}

// Dir returns the download directory the exporter writes into.
func (e *Exporter) Dir() string { return e.dir }

// ExportTree dumps a tree's objects to a file and returns the download
// URL path. Only the JSON format is currently supported.
func (e *Exporter) ExportTree(ctx context.Context, treeID, format string) (string, error) {
	if format == "" {
		format = "json"
	}
	if format != "json" {
		return "", fmt.Errorf("unsupported export format %q", format)
	}

	tree, err := e.trees.Get(treeID)
	if err != nil {
		return "", err
	}

	var media []model.Media
	err = tree.ForEachMedia(ctx, func(m model.Media) error {
		media = append(media, m)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("collect objects: %w", err)
	}

	dump := struct {
		Tree     string        `json:"tree"`
		Exported time.Time     `json:"exported"`
		Media    []model.Media `json:"media"`
	}{Tree: treeID, Exported: time.Now().UTC(), Media: media}

	name := uuid.NewString() + ".json"
	if err := e.writeFile(name, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	}); err != nil {
		return "", err
	}
	return "/api/downloads/" + name, nil
}

var reportTmpl = template.Must(template.New("report").Parse(
	`Report: {{.ReportID}}
Tree: {{.Tree}}
Generated: {{.Generated}}

Media objects: {{.MediaCount}}
Indexed objects: {{.IndexCount}}
`))

// GenerateReport renders a summary report for a tree and returns the
// download URL path.
func (e *Exporter) GenerateReport(ctx context.Context, treeID, reportID string, _ map[string]string) (string, error) {
	tree, err := e.trees.Get(treeID)
	if err != nil {
		return "", err
	}

	mediaCount := 0
	if err := tree.ForEachMedia(ctx, func(model.Media) error {
		mediaCount++
		return nil
	}); err != nil {
		return "", fmt.Errorf("count objects: %w", err)
	}
	indexCount, err := tree.CountSearchEntries(ctx)
	if err != nil {
		return "", fmt.Errorf("count index: %w", err)
	}

	name := uuid.NewString() + ".txt"
	if err := e.writeFile(name, func(f *os.File) error {
		return reportTmpl.Execute(f, struct {
			ReportID, Tree, Generated string
			MediaCount, IndexCount    int
		}{reportID, treeID, time.Now().UTC().Format(time.RFC3339), mediaCount, indexCount})
	}); err != nil {
		return "", err
	}
	return "/api/downloads/" + name, nil
}

func (e *Exporter) writeFile(name string, write func(*os.File) error) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	f, err := os.Create(filepath.Join(e.dir, name))
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write export file: %w", err)
	}
	return f.Close()
}

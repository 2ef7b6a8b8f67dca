package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arborhq/arbor/internal/gendb"
	"github.com/arborhq/arbor/internal/model"
)

func newTestExporter(t *testing.T) (*Exporter, *gendb.Tree) {
	t.Helper()
	reg := gendb.NewRegistry("")
	t.Cleanup(reg.CloseAll)
	tree, err := reg.Get("t1")
	if err != nil {
		t.Fatalf("Registry.Get: %v", err)
	}
	return NewExporter(reg, t.TempDir()), tree
}

func TestExportTreeWritesJSONDump(t *testing.T) {
	e, tree := newTestExporter(t)
	ctx := context.Background()

	for _, h := range []string{"m1", "m2"} {
		if err := tree.AddMedia(ctx, &model.Media{Handle: h, Path: h + ".jpg", MIME: "image/jpeg"}); err != nil {
			t.Fatalf("AddMedia: %v", err)
		}
	}

	url, err := e.ExportTree(ctx, "t1", "json")
	if err != nil {
		t.Fatalf("ExportTree: %v", err)
	}
	if !strings.HasPrefix(url, "/api/downloads/") || !strings.HasSuffix(url, ".json") {
		t.Fatalf("url = %q", url)
	}

	data, err := os.ReadFile(filepath.Join(e.Dir(), strings.TrimPrefix(url, "/api/downloads/")))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var dump struct {
		Tree  string        `json:"tree"`
		Media []model.Media `json:"media"`
	}
	if err := json.Unmarshal(data, &dump); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if dump.Tree != "t1" || len(dump.Media) != 2 {
		t.Errorf("dump = %+v", dump)
	}
}

func TestExportTreeRejectsUnknownFormat(t *testing.T) {
	e, _ := newTestExporter(t)
	if _, err := e.ExportTree(context.Background(), "t1", "gedcom"); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestGenerateReport(t *testing.T) {
	e, tree := newTestExporter(t)
	ctx := context.Background()

	if err := tree.AddMedia(ctx, &model.Media{Handle: "m1", Path: "m1.jpg"}); err != nil {
		t.Fatalf("AddMedia: %v", err)
	}

	url, err := e.GenerateReport(ctx, "t1", "summary", nil)
	if err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(e.Dir(), strings.TrimPrefix(url, "/api/downloads/")))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "Report: summary") || !strings.Contains(text, "Media objects: 1") {
		t.Errorf("report:\n%s", text)
	}
}

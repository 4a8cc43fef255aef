package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/pagecrowd/pagecrowd/internal/model"
)

// Ingest reads a document manifest CSV (columns: id, page_count and an
// optional group) and registers one NOT_ANNOTATED page per document page.
// Page ids follow the rasterizer naming: "<doc>-<page>", with the page
// number zero-padded to the width of the document's page count. Pages that
// already exist are left untouched.
func (s *Service) Ingest(ctx context.Context, manifestPath string) error {
	f, err := os.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("read manifest %s: %w", manifestPath, err)
	}
	if len(records) < 2 {
		return fmt.Errorf("manifest %s has no data rows", manifestPath)
	}

	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[name] = i
	}
	idCol, ok := cols["id"]
	if !ok {
		return fmt.Errorf("manifest %s is missing the id column", manifestPath)
	}
	countCol, ok := cols["page_count"]
	if !ok {
		return fmt.Errorf("manifest %s is missing the page_count column", manifestPath)
	}
	groupCol, hasGroup := cols["group"]

	var pages []model.Page
	for line, rec := range records[1:] {
		docID := rec[idCol]
		pageCount, err := strconv.Atoi(rec[countCol])
		if err != nil || pageCount < 1 {
			return fmt.Errorf("manifest row %d: bad page_count %q", line+2, rec[countCol])
		}
		group := ""
		if hasGroup && groupCol < len(rec) {
			group = rec[groupCol]
		}
		width := len(strconv.Itoa(pageCount))
		for n := 1; n <= pageCount; n++ {
			pages = append(pages, model.Page{
				ID:     fmt.Sprintf("%s-%0*d", docID, width, n),
				DocID:  docID,
				Status: model.PageStatusNotAnnotated,
				Group:  group,
			})
		}
	}

	inserted, err := s.store.IngestPages(ctx, pages)
	if err != nil {
		return err
	}
	log.Printf("[pipeline] ingested %d new pages (%d in manifest)", inserted, len(pages))
	return nil
}

package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const summaryFileName = "export_summary.csv"

// ExportAnswers writes the accepted answer of every REVIEWED or VERIFIED
// page as a JSON file in outputDir, skipping pages that already have one,
// and merges an export summary CSV. With cropWhitespace the annotations are
// tightened to their visible content first.
func (s *Service) ExportAnswers(ctx context.Context, outputDir string, cropWhitespace bool) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return fmt.Errorf("read output dir: %w", err)
	}
	var existingIDs []string
	for _, e := range entries {
		id := strings.SplitN(e.Name(), ".", 2)[0]
		if id != "" && id != "export_summary" {
			existingIDs = append(existingIDs, id)
		}
	}

	accepted, err := s.store.AcceptedAssignments(ctx, existingIDs)
	if err != nil {
		return err
	}

	summary := make(map[string][]string)
	exported := 0
	for _, pa := range accepted {
		answer := pa.Assignment.Answer
		if cropWhitespace {
			answer, err = s.comparer.CropAnswer(ctx, pa.PageID, answer)
			if err != nil {
				return fmt.Errorf("crop answer for page %s: %w", pa.PageID, err)
			}
		}
		data, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return err
		}
		path := filepath.Join(outputDir, pa.PageID+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		summary[pa.PageID] = []string{string(pa.Status), pa.Assignment.WorkerID}
		exported++
	}

	if err := s.mergeSummary(outputDir, summary); err != nil {
		return err
	}
	log.Printf("[pipeline] exported %d pages to %s", exported, outputDir)
	return nil
}

// mergeSummary folds the new rows into the existing summary CSV so repeated
// incremental exports keep one complete index.
func (s *Service) mergeSummary(outputDir string, rows map[string][]string) error {
	path := filepath.Join(outputDir, summaryFileName)

	merged := make(map[string][]string)
	if f, err := os.Open(path); err == nil {
		records, err := csv.NewReader(f).ReadAll()
		f.Close()
		if err != nil {
			return fmt.Errorf("read summary %s: %w", path, err)
		}
		for i, rec := range records {
			if i == 0 || len(rec) < 3 {
				continue
			}
			merged[rec[0]] = rec[1:3]
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	for id, row := range rows {
		merged[id] = row
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write summary %s: %w", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"page_id", "status", "worker_id"}); err != nil {
		return err
	}
	for _, id := range ids {
		if err := w.Write(append([]string{id}, merged[id]...)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

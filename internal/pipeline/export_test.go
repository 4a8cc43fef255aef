package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/pagecrowd/pagecrowd/internal/store"
)

func TestExportAnswers(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService()
	dir := t.TempDir()

	st.accepted = []store.AcceptedAssignment{
		{
			PageID: "doc-1",
			Status: model.PageStatusVerified,
			Assignment: model.Assignment{
				ID: "A1", WorkerID: "W1",
				Answer: answerTagged("first"),
			},
		},
		{
			PageID: "doc-2",
			Status: model.PageStatusReviewed,
			Assignment: model.Assignment{
				ID: "A2", WorkerID: "W2",
				Answer: answerTagged("second"),
			},
		},
	}

	require.NoError(t, svc.ExportAnswers(ctx, dir, false))

	var answer model.Answer
	data, err := os.ReadFile(filepath.Join(dir, "doc-1.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &answer))
	assert.Equal(t, "first", answer.Comment)

	f, err := os.Open(filepath.Join(dir, "export_summary.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"page_id", "status", "worker_id"}, rows[0])
	assert.Equal(t, []string{"doc-1", "VERIFIED", "W1"}, rows[1])
	assert.Equal(t, []string{"doc-2", "REVIEWED", "W2"}, rows[2])
}

func TestExportAnswers_SkipsExistingFiles(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc-1.json"), []byte("{}"), 0o644))

	st.accepted = []store.AcceptedAssignment{
		{PageID: "doc-1", Status: model.PageStatusVerified, Assignment: model.Assignment{ID: "A1", WorkerID: "W1", Answer: answerTagged("x")}},
		{PageID: "doc-2", Status: model.PageStatusVerified, Assignment: model.Assignment{ID: "A2", WorkerID: "W2", Answer: answerTagged("y")}},
	}

	require.NoError(t, svc.ExportAnswers(ctx, dir, false))

	assert.Equal(t, []string{"doc-1"}, st.excludedIDs)
	_, err := os.Stat(filepath.Join(dir, "doc-2.json"))
	assert.NoError(t, err)
}

func TestExportAnswers_MergesSummary(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService()
	dir := t.TempDir()
	existing := "page_id,status,worker_id\ndoc-0,VERIFIED,W9\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "export_summary.csv"), []byte(existing), 0o644))

	st.accepted = []store.AcceptedAssignment{
		{PageID: "doc-1", Status: model.PageStatusVerified, Assignment: model.Assignment{ID: "A1", WorkerID: "W1", Answer: answerTagged("x")}},
	}

	require.NoError(t, svc.ExportAnswers(ctx, dir, false))

	f, err := os.Open(filepath.Join(dir, "export_summary.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "doc-0", rows[1][0])
	assert.Equal(t, "doc-1", rows[2][0])
}

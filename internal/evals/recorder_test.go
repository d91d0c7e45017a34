package evals

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-mail-must-flow/internal/llm"
)

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dataset.jsonl")
	rec, err := NewRecorder(path)
	require.NoError(t, err)

	require.NoError(t, rec.Record(context.Background(), llm.DatasetRecord{
		ID:       "m1",
		Expected: "Newsletter",
		Input: llm.DatasetInput{
			Email:     "<subject>hi</subject>",
			UserEmail: "me@example.com",
			Rules:     []llm.DatasetRule{{Name: "Newsletter", Instructions: "digests"}},
		},
	}))
	require.NoError(t, rec.Record(context.Background(), llm.DatasetRecord{ID: "m2", Error: "timeout"}))

	records, err := rec.Read()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Newsletter", records[0].Expected)
	assert.Equal(t, "digests", records[0].Input.Rules[0].Instructions)
	assert.Equal(t, "timeout", records[1].Error)
	require.NoError(t, rec.Close())

	// Reopening appends rather than truncating.
	rec, err = NewRecorder(path)
	require.NoError(t, err)
	defer func() { _ = rec.Close() }()
	require.NoError(t, rec.Record(context.Background(), llm.DatasetRecord{ID: "m3"}))

	records, err = rec.Read()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestRecorderSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"ok\"}\nnot json\n"), 0o600))

	rec, err := NewRecorder(path)
	require.NoError(t, err)
	defer func() { _ = rec.Close() }()

	records, err := rec.Read()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].ID)
}

func TestRecorderConcurrentWrites(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "dataset.jsonl"))
	require.NoError(t, err)
	defer func() { _ = rec.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, rec.Record(context.Background(), llm.DatasetRecord{ID: "m"}))
		}()
	}
	wg.Wait()

	records, err := rec.Read()
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

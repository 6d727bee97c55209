package worker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"elb-shipper/internal/metrics"
	"elb-shipper/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetter_DisabledWhenDirEmpty(t *testing.T) {
	d, err := NewDeadLetter("", 0, metrics.New())
	require.NoError(t, err)
	assert.Nil(t, d)

	assert.NoError(t, d.Record(model.NewJob("s3://b/k", time.Now()), errors.New("x")))
	days, err := d.Days()
	assert.NoError(t, err)
	assert.Empty(t, days)
}

func TestDeadLetter_RecordAndRead(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()
	d, err := NewDeadLetter(dir, 0, m)
	require.NoError(t, err)
	d.now = func() time.Time { return time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC) }

	j1 := model.NewJob("s3://b/one", time.Now())
	j1.Attempts = 16
	j2 := model.NewJob("s3://b/two", time.Now())
	j2.Attempts = 16

	require.NoError(t, d.Record(j1, &FetchError{URL: "s3://b/one", Status: 403, Code: "AccessDenied", Err: errors.New("denied")}))
	require.NoError(t, d.Record(j2, errors.New("other")))

	// unrelated files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	days, err := d.Days()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01"}, days)

	entries, err := d.Entries("2024-03-01")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, j1.ID, entries[0].JobID)
	assert.Equal(t, "s3://b/one", entries[0].SourceURL)
	assert.Equal(t, 16, entries[0].Attempts)
	assert.Equal(t, KindFetch, entries[0].Kind)
	assert.Contains(t, entries[0].Error, "AccessDenied")

	assert.Equal(t, KindOther, entries[1].Kind)
	assert.EqualValues(t, 2, m.DeadLettersWrittenTotal)
}

func TestDeadLetter_MaxSizeDropsEntries(t *testing.T) {
	d, err := NewDeadLetter(t.TempDir(), 10, metrics.New())
	require.NoError(t, err)

	require.NoError(t, d.Record(model.NewJob("s3://b/k", time.Now()), nil))

	days, err := d.Days()
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestDeadLetter_EntriesMissingDay(t *testing.T) {
	d, err := NewDeadLetter(t.TempDir(), 0, nil)
	require.NoError(t, err)

	entries, err := d.Entries("2020-01-01")
	assert.NoError(t, err)
	assert.Empty(t, entries)

	_, err = d.Entries("../etc")
	assert.Error(t, err)
}

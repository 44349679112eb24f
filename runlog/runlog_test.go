package runlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEntries(t *testing.T) {

	path := filepath.Join(t.TempDir(), "runs", "estep.db")

	l1, err := Open(path)
	require.NoError(t, err)
	ts := time.UnixMilli(1700000000123)
	require.NoError(t, l1.Record(Entry{Time: ts, Source: "a.gob.gz", NState: 2, NBlock: 10, NSig: 4,
		Loglik: -12.5, Q: -13.25, GradNorm: 0.5}))
	require.NoError(t, l1.Record(Entry{Source: "a.gob.gz", NState: 2, NBlock: 10, NSig: 4, Loglik: -12}))
	require.NoError(t, l1.Close())

	// A second run in the same database
	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()
	assert.NotEqual(t, l1.RunID, l2.RunID)
	require.NoError(t, l2.Record(Entry{Source: "b.gob.gz", NState: 3}))

	e1, err := l2.Entries(l1.RunID)
	require.NoError(t, err)
	require.Len(t, e1, 2)
	assert.Equal(t, l1.RunID, e1[0].RunID)
	assert.True(t, ts.Equal(e1[0].Time))
	assert.Equal(t, 10, e1[0].NBlock)
	assert.Equal(t, -13.25, e1[0].Q)
	assert.Equal(t, -12.0, e1[1].Loglik)
	assert.False(t, e1[1].Time.IsZero())

	e2, err := l2.Entries(l2.RunID)
	require.NoError(t, err)
	require.Len(t, e2, 1)
	assert.Equal(t, "b.gob.gz", e2[0].Source)

	none, err := l2.Entries("no-such-run")
	require.NoError(t, err)
	assert.Empty(t, none)
}

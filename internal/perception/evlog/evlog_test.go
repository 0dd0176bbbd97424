package evlog

import (
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/deviation.report/internal/fsutil"
	"github.com/banshee-data/deviation.report/internal/perception"
)

var logEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testBatch(sec float64, id string) perception.Batch {
	return perception.Batch{
		Stamp: logEpoch.Add(time.Duration(sec * float64(time.Second))),
		Objects: []perception.TrackedObject{{
			ObjectID: id,
			Class:    perception.ClassCar,
			Pose:     perception.Pose{X: 2 * sec, Y: 1},
			Twist:    perception.Twist{VX: 2},
		}},
	}
}

func assertSameBatch(t *testing.T, want, got perception.Batch) {
	t.Helper()
	wantJSON, err := json.Marshal(want)
	require.NoError(t, err)
	gotJSON, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(wantJSON), string(gotJSON))
}

func TestRecordAndReplay(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec, err := NewRecorder(fs, "/logs/run1", "tracker-a")
	require.NoError(t, err)
	assert.Equal(t, "/logs/run1", rec.Path())

	batches := []perception.Batch{
		testBatch(0, "obj-1"),
		testBatch(0.5, "obj-1"),
		testBatch(1.0, "obj-2"),
	}
	for _, b := range batches {
		require.NoError(t, rec.Record(b))
	}
	assert.Equal(t, uint64(3), rec.BatchCount())
	require.NoError(t, rec.Close())

	rep, err := NewReplayer(fs, "/logs/run1")
	require.NoError(t, err)

	header := rep.Header()
	assert.Equal(t, "tracker-a", header.Source)
	assert.Equal(t, uint64(3), header.TotalBatches)
	assert.Equal(t, batches[0].Stamp.UnixNano(), header.StartNs)
	assert.Equal(t, batches[2].Stamp.UnixNano(), header.EndNs)
	assert.Equal(t, "map", header.CoordinateFrame.FrameID)

	for i, want := range batches {
		assert.Equal(t, uint64(i), rep.CurrentBatch())
		got, err := rep.ReadBatch()
		require.NoError(t, err)
		assertSameBatch(t, want, got)
	}

	_, err = rep.ReadBatch()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecorderDefaultPath(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec, err := NewRecorder(fs, "", "tracker-a")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Path())
	assert.True(t, strings.Contains(rec.Path(), "dvlog_tracker-a_"))
}

func TestRecordAfterClose(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec, err := NewRecorder(fs, "/logs/run2", "tracker-a")
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	assert.Error(t, rec.Record(testBatch(0, "obj-1")))
	assert.NoError(t, rec.Close(), "closing twice is fine")
}

func TestSeek(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec, err := NewRecorder(fs, "/logs/run3", "tracker-a")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, rec.Record(testBatch(float64(i)*0.5, "obj-1")))
	}
	require.NoError(t, rec.Close())

	rep, err := NewReplayer(fs, "/logs/run3")
	require.NoError(t, err)

	require.NoError(t, rep.Seek(2))
	got, err := rep.ReadBatch()
	require.NoError(t, err)
	assert.True(t, got.Stamp.Equal(logEpoch.Add(time.Second)))

	assert.Error(t, rep.Seek(3), "seek past the end must fail")
}

func TestSeekToStamp(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec, err := NewRecorder(fs, "/logs/run4", "tracker-a")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, rec.Record(testBatch(float64(i)*0.5, "obj-1")))
	}
	require.NoError(t, rec.Close())

	rep, err := NewReplayer(fs, "/logs/run4")
	require.NoError(t, err)

	cases := []struct {
		name  string
		stamp time.Time
		want  uint64
	}{
		{"before first", logEpoch.Add(-time.Second), 0},
		{"exact", logEpoch.Add(500 * time.Millisecond), 1},
		{"between", logEpoch.Add(750 * time.Millisecond), 2},
		{"after last", logEpoch.Add(time.Minute), 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, rep.SeekToStamp(tc.stamp))
			assert.Equal(t, tc.want, rep.CurrentBatch())
		})
	}
}

func TestChunkRotation(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec, err := NewRecorder(fs, "/logs/run5", "tracker-a")
	require.NoError(t, err)

	total := ChunkSize + 5
	for i := 0; i < total; i++ {
		require.NoError(t, rec.Record(testBatch(float64(i)*0.1, "obj-1")))
	}
	require.NoError(t, rec.Close())

	assert.True(t, fs.Exists(filepath.Join("/logs/run5", "batches", "chunk_0000.bin")))
	assert.True(t, fs.Exists(filepath.Join("/logs/run5", "batches", "chunk_0001.bin")))

	rep, err := NewReplayer(fs, "/logs/run5")
	require.NoError(t, err)
	assert.Equal(t, uint64(total), rep.TotalBatches())

	// Read across the chunk boundary.
	require.NoError(t, rep.Seek(uint64(ChunkSize-1)))
	for i := ChunkSize - 1; i < ChunkSize+2; i++ {
		got, err := rep.ReadBatch()
		require.NoError(t, err)
		assertSameBatch(t, testBatch(float64(i)*0.1, "obj-1"), got)
	}
}

func TestReplayerMissingLog(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	_, err := NewReplayer(fs, "/logs/nope")
	assert.Error(t, err)
}

func TestSeekToStampEmptyLog(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec, err := NewRecorder(fs, "/logs/run6", "tracker-a")
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	rep, err := NewReplayer(fs, "/logs/run6")
	require.NoError(t, err)
	assert.Error(t, rep.SeekToStamp(logEpoch))
}

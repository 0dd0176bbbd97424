// Package evlog provides recording and replay of tracker batch logs.
package evlog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/deviation.report/internal/fsutil"
	"github.com/banshee-data/deviation.report/internal/perception"
	"github.com/banshee-data/deviation.report/internal/security"
)

// FileExtension is the extension for deviation.report log directories.
const FileExtension = ".dvlog"

// ChunkSize is the number of batches per chunk file.
const ChunkSize = 1000

// LogHeader contains metadata about a recorded log.
type LogHeader struct {
	Version         string `json:"version"`
	CreatedNs       int64  `json:"created_ns"`
	Source          string `json:"source"`
	TotalBatches    uint64 `json:"total_batches"`
	StartNs         int64  `json:"start_ns"`
	EndNs           int64  `json:"end_ns"`
	CoordinateFrame struct {
		FrameID        string `json:"frame_id"`
		ReferenceFrame string `json:"reference_frame"`
	} `json:"coordinate_frame"`
}

// IndexEntry is an entry in the seek index.
type IndexEntry struct {
	Seq         uint64
	TimestampNs int64
	ChunkID     uint32
	Offset      uint32
}

// Recorder writes tracker batches to a log directory.
type Recorder struct {
	fs       fsutil.FileSystem
	basePath string
	source   string

	header       LogHeader
	index        []IndexEntry
	currentChunk int
	chunkFile    io.WriteCloser
	chunkOffset  uint32

	batchCount uint64
	startNs    int64
	endNs      int64

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a Recorder that writes to the given directory. If path
// is empty, a timestamped directory is created in the system temp dir.
func NewRecorder(fs fsutil.FileSystem, basePath, source string) (*Recorder, error) {
	if basePath == "" {
		// The source tag becomes part of a directory name, so scrub it.
		name := fmt.Sprintf("dvlog_%s_%d", security.SanitizeFilename(source), time.Now().Unix())
		basePath = filepath.Join(os.TempDir(), name)
	}

	if err := fs.MkdirAll(filepath.Join(basePath, "batches"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r := &Recorder{
		fs:           fs,
		basePath:     basePath,
		source:       source,
		currentChunk: -1,
		index:        make([]IndexEntry, 0),
		header: LogHeader{
			Version:   "1.0",
			CreatedNs: time.Now().UnixNano(),
			Source:    source,
		},
	}

	r.header.CoordinateFrame.FrameID = "map"
	r.header.CoordinateFrame.ReferenceFrame = "ENU"

	return r, nil
}

// Record appends a batch to the log.
func (r *Recorder) Record(batch perception.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}

	stampNs := batch.Stamp.UnixNano()
	if r.startNs == 0 {
		r.startNs = stampNs
	}
	r.endNs = stampNs

	chunkIdx := int(r.batchCount / ChunkSize)
	if chunkIdx != r.currentChunk {
		if err := r.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to serialize batch: %w", err)
	}

	// Write length-prefixed batch
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := r.chunkFile.Write(lenBuf); err != nil {
		return fmt.Errorf("failed to write batch length: %w", err)
	}
	if _, err := r.chunkFile.Write(data); err != nil {
		return fmt.Errorf("failed to write batch data: %w", err)
	}

	r.index = append(r.index, IndexEntry{
		Seq:         r.batchCount,
		TimestampNs: stampNs,
		ChunkID:     uint32(chunkIdx),
		Offset:      r.chunkOffset,
	})

	r.chunkOffset += uint32(4 + len(data))
	r.batchCount++

	return nil
}

// rotateChunk closes the current chunk and opens a new one.
func (r *Recorder) rotateChunk(chunkIdx int) error {
	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return err
		}
	}

	chunkPath := filepath.Join(r.basePath, "batches", fmt.Sprintf("chunk_%04d.bin", chunkIdx))
	f, err := r.fs.Create(chunkPath)
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}

	r.chunkFile = f
	r.currentChunk = chunkIdx
	r.chunkOffset = 0

	return nil
}

// Close finalises the log and writes the header and index.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return err
		}
	}

	r.header.TotalBatches = r.batchCount
	r.header.StartNs = r.startNs
	r.header.EndNs = r.endNs

	headerData, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := r.fs.WriteFile(filepath.Join(r.basePath, "header.json"), headerData, 0644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	var indexBuf bytes.Buffer
	for _, entry := range r.index {
		if err := binary.Write(&indexBuf, binary.LittleEndian, entry.Seq); err != nil {
			return err
		}
		if err := binary.Write(&indexBuf, binary.LittleEndian, entry.TimestampNs); err != nil {
			return err
		}
		if err := binary.Write(&indexBuf, binary.LittleEndian, entry.ChunkID); err != nil {
			return err
		}
		if err := binary.Write(&indexBuf, binary.LittleEndian, entry.Offset); err != nil {
			return err
		}
	}
	if err := r.fs.WriteFile(filepath.Join(r.basePath, "index.bin"), indexBuf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	return nil
}

// Path returns the base path of the log.
func (r *Recorder) Path() string {
	return r.basePath
}

// BatchCount returns the number of batches recorded.
func (r *Recorder) BatchCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batchCount
}

// Replayer reads tracker batches back from a log directory.
type Replayer struct {
	fs       fsutil.FileSystem
	basePath string
	header   LogHeader
	index    []IndexEntry

	currentBatch uint64
	currentChunk int
	chunkData    []byte

	mu sync.Mutex
}

// NewReplayer opens a log for replay.
func NewReplayer(fs fsutil.FileSystem, basePath string) (*Replayer, error) {
	r := &Replayer{
		fs:           fs,
		basePath:     basePath,
		currentChunk: -1,
	}

	headerData, err := fs.ReadFile(filepath.Join(basePath, "header.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(headerData, &r.header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	indexData, err := fs.ReadFile(filepath.Join(basePath, "index.bin"))
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	rd := bytes.NewReader(indexData)
	r.index = make([]IndexEntry, 0, r.header.TotalBatches)
	for {
		var entry IndexEntry
		if err := binary.Read(rd, binary.LittleEndian, &entry.Seq); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if err := binary.Read(rd, binary.LittleEndian, &entry.TimestampNs); err != nil {
			return nil, err
		}
		if err := binary.Read(rd, binary.LittleEndian, &entry.ChunkID); err != nil {
			return nil, err
		}
		if err := binary.Read(rd, binary.LittleEndian, &entry.Offset); err != nil {
			return nil, err
		}
		r.index = append(r.index, entry)
	}

	return r, nil
}

// Header returns the log header.
func (r *Replayer) Header() LogHeader {
	return r.header
}

// TotalBatches returns the total number of batches in the log.
func (r *Replayer) TotalBatches() uint64 {
	return r.header.TotalBatches
}

// CurrentBatch returns the current batch index.
func (r *Replayer) CurrentBatch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentBatch
}

// Seek seeks to a specific batch by index.
func (r *Replayer) Seek(batchIdx uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if batchIdx >= uint64(len(r.index)) {
		return fmt.Errorf("batch index out of range: %d >= %d", batchIdx, len(r.index))
	}

	r.currentBatch = batchIdx
	return nil
}

// SeekToStamp seeks to the first batch at or after the given stamp, or to
// the last batch when the stamp is beyond the log.
func (r *Replayer) SeekToStamp(stamp time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.index) == 0 {
		return fmt.Errorf("log is empty")
	}

	ns := stamp.UnixNano()
	i := sort.Search(len(r.index), func(i int) bool {
		return r.index[i].TimestampNs >= ns
	})
	if i == len(r.index) {
		i = len(r.index) - 1
	}

	r.currentBatch = uint64(i)
	return nil
}

// ReadBatch reads the current batch and advances. io.EOF signals the end of
// the log.
func (r *Replayer) ReadBatch() (perception.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentBatch >= uint64(len(r.index)) {
		return perception.Batch{}, io.EOF
	}

	entry := r.index[r.currentBatch]

	if int(entry.ChunkID) != r.currentChunk {
		if err := r.loadChunk(int(entry.ChunkID)); err != nil {
			return perception.Batch{}, err
		}
	}

	offset := entry.Offset
	if offset+4 > uint32(len(r.chunkData)) {
		return perception.Batch{}, fmt.Errorf("invalid batch offset")
	}

	batchLen := binary.LittleEndian.Uint32(r.chunkData[offset:])
	offset += 4

	if offset+batchLen > uint32(len(r.chunkData)) {
		return perception.Batch{}, fmt.Errorf("invalid batch length")
	}

	var batch perception.Batch
	if err := json.Unmarshal(r.chunkData[offset:offset+batchLen], &batch); err != nil {
		return perception.Batch{}, fmt.Errorf("failed to deserialize batch: %w", err)
	}

	r.currentBatch++
	return batch, nil
}

// loadChunk loads a chunk file into memory.
func (r *Replayer) loadChunk(chunkIdx int) error {
	chunkPath := filepath.Join(r.basePath, "batches", fmt.Sprintf("chunk_%04d.bin", chunkIdx))
	data, err := r.fs.ReadFile(chunkPath)
	if err != nil {
		return fmt.Errorf("failed to read chunk: %w", err)
	}

	r.chunkData = data
	r.currentChunk = chunkIdx
	return nil
}

// Package assembly owns the on-disk side of a fetch: a sparse, pre-sized
// ".partial" file that chunks land into via positioned writes, a sidecar
// ".partial.meta" file recording resume state, and the final fsync +
// atomic rename into place. Grounded on the teacher's chunk.Download
// (open-seek-write loop against a per-chunk file), generalized to a single
// shared file addressed by offset, and filesystem.OSFileSystem's
// directory-creation convention. Preallocation uses golang.org/x/sys for
// a real fallocate syscall, falling back to Truncate where unsupported.
package assembly

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/NamanBalaji/fluxion/internal/ferrors"
)

const (
	partialSuffix = ".partial"
	metaSuffix    = ".partial.meta"
	dirMode       = 0o755
	fileMode      = 0o644
)

// Meta is the authoritative resume witness for a fetch, persisted
// alongside the partial file. A resumed fetch trusts this over any
// separately maintained resumestore entry.
type Meta struct {
	SourceURL    string    `json:"source_url"`
	TotalSize    int64     `json:"total_size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
	ChunkSize    int64     `json:"chunk_size"`
	LandedRanges []Range   `json:"landed_ranges"`
}

// Range is a half-open [Start, End) byte range that has landed on disk.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// File manages the partial file and its sidecar metadata for one fetch.
type File struct {
	outputPath  string
	partialPath string
	metaPath    string
	f           *os.File
	meta        Meta
}

// Open creates (or reopens) the partial file for outputPath, preallocated
// to totalSize when known (totalSize < 0 means unknown, e.g. STREAM mode).
func Open(outputPath string, totalSize int64) (*File, error) {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, ferrors.NewLocalIo(err, outputPath)
	}

	partialPath := outputPath + partialSuffix
	metaPath := outputPath + metaSuffix

	f, err := os.OpenFile(partialPath, os.O_RDWR|os.O_CREATE, fileMode)
	if err != nil {
		return nil, ferrors.NewLocalIo(err, outputPath)
	}

	if totalSize > 0 {
		if err := preallocate(f, totalSize); err != nil {
			f.Close()
			return nil, ferrors.NewLocalIo(err, outputPath)
		}
	}

	af := &File{
		outputPath:  outputPath,
		partialPath: partialPath,
		metaPath:    metaPath,
		f:           f,
		meta:        Meta{SourceURL: outputPath, TotalSize: totalSize},
	}

	if existing, err := loadMeta(metaPath); err == nil {
		af.meta = existing
	}

	return af, nil
}

func loadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// ResumeOffset returns the cumulative contiguous length of LandedRanges
// starting at zero, i.e. where a single-stream resume should restart from.
func (f *File) ResumeOffset() int64 {
	ranges := append([]Range(nil), f.meta.LandedRanges...)
	sortRanges(ranges)

	var cursor int64
	for _, r := range ranges {
		if r.Start > cursor {
			break
		}
		if r.End > cursor {
			cursor = r.End
		}
	}
	return cursor
}

func sortRanges(ranges []Range) {
	for i := 1; i < len(ranges); i++ {
		for j := i; j > 0 && ranges[j-1].Start > ranges[j].Start; j-- {
			ranges[j-1], ranges[j] = ranges[j], ranges[j-1]
		}
	}
}

// WriteChunk writes data at offset and records the range as landed. It
// does no hashing: the caller feeds the same bytes to the integrity
// verifier, which hashes them in offset order. WriteChunk itself never
// blocks on other chunks.
func (f *File) WriteChunk(offset int64, data []byte) error {
	if _, err := f.f.WriteAt(data, offset); err != nil {
		return ferrors.NewLocalIo(err, f.outputPath)
	}
	f.meta.LandedRanges = append(f.meta.LandedRanges, Range{Start: offset, End: offset + int64(len(data))})
	return nil
}

// SetResumeValidators records the ETag/Last-Modified a resumed fetch must
// match to trust the partial file's existing ranges.
func (f *File) SetResumeValidators(etag string, lastModified time.Time, chunkSize int64) {
	f.meta.ETag = etag
	f.meta.LastModified = lastModified
	f.meta.ChunkSize = chunkSize
}

// ValidatorsMatch reports whether a fresh probe's ETag/Last-Modified still
// matches what the partial file was started with; a mismatch means the
// remote object changed and the partial file must be discarded.
func (f *File) ValidatorsMatch(etag string, lastModified time.Time) bool {
	if f.meta.ETag != "" && etag != "" {
		return f.meta.ETag == etag
	}
	if !f.meta.LastModified.IsZero() && !lastModified.IsZero() {
		return f.meta.LastModified.Equal(lastModified)
	}
	return f.meta.ETag == "" && f.meta.LastModified.IsZero()
}

// PersistMeta fsyncs the partial file and writes the sidecar metadata.
func (f *File) PersistMeta() error {
	if err := f.f.Sync(); err != nil {
		return ferrors.NewLocalIo(err, f.outputPath)
	}
	data, err := json.Marshal(f.meta)
	if err != nil {
		return ferrors.NewLocalIo(err, f.outputPath)
	}
	if err := os.WriteFile(f.metaPath, data, fileMode); err != nil {
		return ferrors.NewLocalIo(err, f.outputPath)
	}
	return nil
}

// Finalize fsyncs, closes, and atomically renames the partial file into
// place, then removes the sidecar metadata.
func (f *File) Finalize() error {
	if err := f.f.Sync(); err != nil {
		return ferrors.NewLocalIo(err, f.outputPath)
	}
	if err := f.f.Close(); err != nil {
		return ferrors.NewLocalIo(err, f.outputPath)
	}
	if err := os.Rename(f.partialPath, f.outputPath); err != nil {
		return ferrors.NewLocalIo(err, f.outputPath)
	}
	_ = os.Remove(f.metaPath)
	return nil
}

// Abort persists metadata for a future resume and closes the file without
// renaming it into place.
func (f *File) Abort() error {
	if err := f.PersistMeta(); err != nil {
		return err
	}
	return f.f.Close()
}

// Close closes the underlying file descriptor without touching the
// sidecar metadata, e.g. immediately before Discard removes both files
// outright (an IntegrityMismatch leaves nothing worth resuming from).
func (f *File) Close() error {
	return f.f.Close()
}

// Discard removes the partial file and its metadata entirely, e.g. when
// resume validators no longer match.
func Discard(outputPath string) error {
	if err := os.Remove(outputPath + partialSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("assembly: discard partial: %w", err)
	}
	if err := os.Remove(outputPath + metaSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("assembly: discard meta: %w", err)
	}
	return nil
}

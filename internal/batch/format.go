package batch

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FormatVersion is the current file format version.
const FormatVersion = 1

// File kinds.
const (
	KindChunk = "chunk"
	KindRows  = "rows"
)

// MaxDecompressedSize is the maximum allowed size of a decompressed
// payload (512MB).
const MaxDecompressedSize = 512 * 1024 * 1024

// Header is the plain-text first line of a batch file. It can be read
// without touching the compressed payload that follows it.
type Header struct {
	Version   int       `json:"version"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"`
	BatchID   string    `json:"batch_id"`
	Index     int       `json:"index"`
	Count     int       `json:"count"`
}

// WriteChunk writes a chunk file: header line + gzip-compressed JSON.
func WriteChunk(path string, c *Chunk) error {
	return write(path, Header{Kind: KindChunk, BatchID: c.BatchID, Index: c.Index, Count: len(c.Sets)}, c)
}

// ReadChunk reads a chunk file and verifies its checksum.
func ReadChunk(path string) (*Chunk, error) {
	var c Chunk
	if _, err := read(path, KindChunk, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// WriteRows writes the result of a chunk.
func WriteRows(path string, r *ChunkResult) error {
	count := 0
	if r.Result != nil {
		count = len(r.Result.Rows)
	}
	return write(path, Header{Kind: KindRows, BatchID: r.BatchID, Index: r.Index, Count: count}, r)
}

// ReadRows reads a result file and verifies its checksum.
func ReadRows(path string) (*ChunkResult, error) {
	var r ChunkResult
	if _, err := read(path, KindRows, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReadHeader reads only the header line of a batch file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	return readHeader(bufio.NewReader(f))
}

func write(path string, header Header, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(data); err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	header.Version = FormatVersion
	header.CreatedAt = time.Now().UTC()
	header.Checksum = checksum(compressed.Bytes())
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(headerBytes, '\n')); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("writing compressed payload: %w", err)
	}
	return nil
}

func read(path, kind string, out any) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	header, err := readHeader(reader)
	if err != nil {
		return nil, err
	}
	if header.Kind != kind {
		return nil, fmt.Errorf("expected %s file, got %s", kind, header.Kind)
	}

	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	if actual := checksum(compressed); actual != header.Checksum {
		return nil, fmt.Errorf("checksum mismatch: expected %s, got %s", header.Checksum, actual)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	data, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(data)) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	return header, nil
}

func readHeader(r *bufio.Reader) (*Header, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported batch file version %d", header.Version)
	}
	return &header, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

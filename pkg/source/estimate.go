package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// ErrInputNotFound is returned when the input file does not exist. It is the
// only input condition that aborts a run before any processing.
var ErrInputNotFound = errors.New("input file not found")

// Estimate is an approximate row count derived from the header and a sample
// of leading lines. It drives progress output and validation sampling only.
type Estimate struct {
	FileSize     int64
	HeaderBytes  int64
	SampledLines int
	AvgRowBytes  float64
	Rows         int64
}

// Chunks returns the estimated number of chunks of the given size, at least 1.
func (e Estimate) Chunks(chunkSize int) int {
	if chunkSize <= 0 || e.Rows <= 0 {
		return 1
	}
	n := (e.Rows + int64(chunkSize) - 1) / int64(chunkSize)
	if n < 1 {
		return 1
	}
	return int(n)
}

// Offset returns the estimated byte offset where chunk index starts.
func (e Estimate) Offset(index, chunkSize int) int64 {
	if index <= 0 || e.AvgRowBytes <= 0 {
		return e.HeaderBytes
	}
	off := e.HeaderBytes + int64(float64(index)*float64(chunkSize)*e.AvgRowBytes)
	if off > e.FileSize {
		off = e.FileSize
	}
	return off
}

// Percent converts a processed row count into a progress percentage.
// Estimates can undershoot, so the result is capped at 100.
func (e Estimate) Percent(rows int64) float64 {
	if e.Rows <= 0 {
		return 0
	}
	p := float64(rows) / float64(e.Rows) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// EstimateRows approximates the number of data rows in the file at path:
// (file size - header size) / mean size of the first sampleLines rows.
func EstimateRows(path string, sampleLines int) (Estimate, error) {
	info, err := stat(path)
	if err != nil {
		return Estimate{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Estimate{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	est := Estimate{FileSize: info.Size()}
	r := bufio.NewReaderSize(f, 64*1024)

	header, err := r.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return est, fmt.Errorf("failed to read header: %w", err)
	}
	est.HeaderBytes = int64(len(header))

	var total int64
	for est.SampledLines < sampleLines {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			total += int64(len(line))
			est.SampledLines++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return est, fmt.Errorf("failed to sample rows: %w", err)
		}
	}

	if est.SampledLines == 0 {
		return est, nil
	}
	est.AvgRowBytes = float64(total) / float64(est.SampledLines)
	est.Rows = int64(float64(est.FileSize-est.HeaderBytes) / est.AvgRowBytes)
	return est, nil
}

// Check reports whether path is a readable input file. A missing file or a
// directory wraps ErrInputNotFound.
func Check(path string) error {
	_, err := stat(path)
	return err
}

func stat(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInputNotFound, path)
	}
	return info, nil
}

package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nicktill/biogas-etl/pkg/config"
)

// Chunk is a bounded batch of raw rows read from the input file.
type Chunk struct {
	Index int
	// FirstLine is the 1-based file line of the first row (header is line 1).
	// It is approximate for chunks read at an estimated offset.
	FirstLine int64
	Rows      [][]string
	// Malformed counts lines that were too long or that the CSV parser
	// rejected; they are not in Rows.
	Malformed int
	Bytes     int64
}

// Len returns the number of parsed rows in the chunk.
func (c *Chunk) Len() int {
	return len(c.Rows)
}

// Reader yields a file as a finite, forward-only sequence of chunks. It is
// not restartable: once Next returns io.EOF it keeps returning io.EOF, and
// reading the file again means opening a new Reader.
//
// Every physical line is one record. Quoted fields cannot span lines, so a
// stray quote costs one row rather than the rest of the file.
type Reader struct {
	path      string
	f         *os.File
	lines     *lineReader
	header    []string
	chunkSize int
	next      int
	line      int64
	done      bool
}

// Open opens path and reads its header row.
func Open(path string, chunkSize int) (*Reader, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if _, err := stat(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	r := &Reader{
		path:      path,
		f:         f,
		lines:     newLineReader(f, config.MaxLineBytes),
		chunkSize: chunkSize,
	}

	header, err := r.readHeader()
	if err != nil {
		f.Close()
		return nil, err
	}
	r.header = trimHeader(header)
	r.line = 1
	return r, nil
}

func (r *Reader) readHeader() ([]string, error) {
	for {
		line, tooLong, err := r.lines.next()
		if err == io.EOF {
			return nil, fmt.Errorf("%s is empty", r.path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		if tooLong {
			return nil, fmt.Errorf("header of %s is longer than %d bytes", r.path, r.lines.max)
		}
		record, err := parseLine(line)
		if err == io.EOF {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		return record, nil
	}
}

// Header returns the column names from the first row.
func (r *Reader) Header() []string {
	return r.header
}

// Path returns the file being read.
func (r *Reader) Path() string {
	return r.path
}

// BytesRead returns how many bytes of the file have been consumed so far.
func (r *Reader) BytesRead() int64 {
	return r.lines.n
}

// Next reads the next chunk. It returns io.EOF when the file is exhausted.
func (r *Reader) Next(ctx context.Context) (*Chunk, error) {
	if r.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := r.lines.n
	chunk := &Chunk{
		Index:     r.next,
		FirstLine: r.line + 1,
		Rows:      make([][]string, 0, min(r.chunkSize, 4096)),
	}
	r.next++

	if err := readRows(r.lines, chunk, r.chunkSize, &r.line); err != nil {
		if err != io.EOF {
			return nil, err
		}
		r.done = true
	}
	chunk.Bytes = r.lines.n - start

	if chunk.Len() == 0 && chunk.Malformed == 0 {
		r.done = true
		return nil, io.EOF
	}
	return chunk, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	r.done = true
	return r.f.Close()
}

// ReadChunkAt reads a single chunk starting at the estimated byte offset. The
// reader resynchronizes on the next line break, so the chunk starts on a row
// boundary even when the offset lands mid-row.
func ReadChunkAt(ctx context.Context, path string, offset int64, index, chunkSize int) (*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := stat(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	// Seek one byte early so an offset that already sits on a row start
	// only discards the preceding line break.
	seekTo := offset - 1
	if seekTo < 0 {
		seekTo = 0
	}
	if _, err := f.Seek(seekTo, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to %d: %w", seekTo, err)
	}

	lines := newLineReader(f, config.MaxLineBytes)
	if _, _, err := lines.next(); err != nil {
		if err == io.EOF {
			return &Chunk{Index: index}, nil
		}
		return nil, fmt.Errorf("failed to resync at offset %d: %w", offset, err)
	}

	chunk := &Chunk{Index: index, Rows: make([][]string, 0, min(chunkSize, 4096))}
	var line int64
	if err := readRows(lines, chunk, chunkSize, &line); err != nil && err != io.EOF {
		return nil, err
	}
	chunk.Bytes = lines.n
	return chunk, nil
}

// readRows appends up to n rows to chunk. Lines that are too long or that
// do not parse are counted as malformed and skipped; only I/O errors abort.
func readRows(lines *lineReader, chunk *Chunk, n int, line *int64) error {
	for chunk.Len()+chunk.Malformed < n {
		text, tooLong, err := lines.next()
		if err == io.EOF {
			return io.EOF
		}
		if err != nil {
			return fmt.Errorf("failed to read row near line %d: %w", *line+1, err)
		}
		*line++
		if tooLong {
			chunk.Malformed++
			continue
		}
		record, err := parseLine(text)
		if err == io.EOF {
			continue
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				chunk.Malformed++
				continue
			}
			return fmt.Errorf("failed to parse row at line %d: %w", *line, err)
		}
		chunk.Rows = append(chunk.Rows, record)
	}
	return nil
}

// parseLine splits one physical line into fields. A blank line yields
// io.EOF. An unbalanced quote is a *csv.ParseError.
func parseLine(line []byte) ([]string, error) {
	cr := csv.NewReader(bytes.NewReader(line))
	cr.FieldsPerRecord = -1
	return cr.Read()
}

func trimHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = h
	}
	return out
}

// lineReader returns one physical line at a time, without its line ending.
// Lines longer than max are consumed and reported as too long rather than
// buffered, so memory stays bounded by max.
type lineReader struct {
	br  *bufio.Reader
	max int
	buf []byte
	// n is the number of bytes consumed, line endings included.
	n int64
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{br: bufio.NewReaderSize(r, 256*1024), max: max}
}

func (l *lineReader) next() ([]byte, bool, error) {
	l.buf = l.buf[:0]
	tooLong := false
	read := 0
	for {
		frag, err := l.br.ReadSlice('\n')
		read += len(frag)
		l.n += int64(len(frag))
		if !tooLong {
			if len(l.buf)+len(frag) > l.max+2 {
				tooLong = true
				l.buf = l.buf[:0]
			} else {
				l.buf = append(l.buf, frag...)
			}
		}

		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF:
			if read == 0 {
				return nil, false, io.EOF
			}
		case err != nil:
			return nil, false, err
		}
		if tooLong {
			return nil, true, nil
		}
		return bytes.TrimRight(l.buf, "\r\n"), false, nil
	}
}

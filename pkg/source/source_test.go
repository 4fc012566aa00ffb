package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testHeader = "timestamp,a\n"

// writeRows writes n fixed-width rows ("2024-01-01 00:0i:00,i") after the header.
func writeRows(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(testHeader)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "2024-01-01 00:0%d:00,%d\n", i%10, i%10)
	}
	path := filepath.Join(t.TempDir(), "plant.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestEstimateRows_UniformWidth(t *testing.T) {
	path := writeRows(t, 10)

	est, err := EstimateRows(path, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(len(testHeader)), est.HeaderBytes)
	require.Equal(t, 10, est.SampledLines)
	require.Equal(t, int64(10), est.Rows)
	require.Equal(t, 4, est.Chunks(3))
	require.Equal(t, 100.0, est.Percent(25))
}

func TestEstimateRows_SampleSmallerThanFile(t *testing.T) {
	path := writeRows(t, 50)

	est, err := EstimateRows(path, 5)
	require.NoError(t, err)
	require.Equal(t, 5, est.SampledLines)
	require.Equal(t, int64(50), est.Rows)
}

func TestEstimateRows_HeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, []byte(testHeader), 0o644))

	est, err := EstimateRows(path, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(0), est.Rows)
	require.Equal(t, 1, est.Chunks(100))
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.csv"), 10)
	require.True(t, errors.Is(err, ErrInputNotFound))

	_, err = EstimateRows(filepath.Join(t.TempDir(), "nope.csv"), 10)
	require.True(t, errors.Is(err, ErrInputNotFound))
}

func TestReader_ChunkSizes(t *testing.T) {
	path := writeRows(t, 25)
	ctx := context.Background()

	for _, size := range []int{1, 3, 7, 25, 1000} {
		r, err := Open(path, size)
		require.NoError(t, err)
		require.Equal(t, []string{"timestamp", "a"}, r.Header())

		total, chunks := 0, 0
		for {
			c, err := r.Next(ctx)
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			require.LessOrEqual(t, c.Len(), size)
			require.Equal(t, chunks, c.Index)
			total += c.Len()
			chunks++
		}
		require.Equal(t, 25, total, "chunk size %d", size)
		require.Equal(t, (25+size-1)/size, chunks, "chunk size %d", size)

		// Exhausted readers stay exhausted.
		_, err = r.Next(ctx)
		require.Equal(t, io.EOF, err)
		require.NoError(t, r.Close())
	}
}

func TestReader_FirstLine(t *testing.T) {
	path := writeRows(t, 6)
	r, err := Open(path, 4)
	require.NoError(t, err)
	defer r.Close()

	c, err := r.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), c.FirstLine)

	c, err = r.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(6), c.FirstLine)
	require.Equal(t, 2, c.Len())
}

func TestReader_Cancelled(t *testing.T) {
	path := writeRows(t, 3)
	r, err := Open(path, 1)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReadChunkAt(t *testing.T) {
	path := writeRows(t, 10)
	est, err := EstimateRows(path, 1000)
	require.NoError(t, err)
	ctx := context.Background()

	// First chunk starts right after the header.
	c, err := ReadChunkAt(ctx, path, est.Offset(0, 3), 0, 3)
	require.NoError(t, err)
	require.Len(t, c.Rows, 3)
	require.Equal(t, "0", c.Rows[0][1])

	// An offset exactly on a row boundary keeps that row.
	c, err = ReadChunkAt(ctx, path, est.Offset(1, 3), 1, 3)
	require.NoError(t, err)
	require.Len(t, c.Rows, 3)
	require.Equal(t, "3", c.Rows[0][1])

	// An offset inside a row skips to the next one.
	c, err = ReadChunkAt(ctx, path, est.HeaderBytes+int64(est.AvgRowBytes)*2+5, 1, 3)
	require.NoError(t, err)
	require.Equal(t, "3", c.Rows[0][1])

	// The last chunk is short.
	c, err = ReadChunkAt(ctx, path, est.Offset(3, 3), 3, 3)
	require.NoError(t, err)
	require.Len(t, c.Rows, 1)
	require.Equal(t, "9", c.Rows[0][1])
}

func TestReader_StrayQuoteCostsOneRow(t *testing.T) {
	var b strings.Builder
	b.WriteString(testHeader)
	for i := 0; i < 1000; i++ {
		v := fmt.Sprint(i)
		if i == 10 {
			v = `"61`
		}
		fmt.Fprintf(&b, "2024-01-01 00:00:00,%s\n", v)
	}
	path := filepath.Join(t.TempDir(), "quote.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	r, err := Open(path, 300)
	require.NoError(t, err)
	defer r.Close()

	rows, malformed := 0, 0
	for {
		c, err := r.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		rows += c.Len()
		malformed += c.Malformed
		require.LessOrEqual(t, c.Len()+c.Malformed, 300)
	}
	require.Equal(t, 999, rows)
	require.Equal(t, 1, malformed)
	require.Equal(t, int64(b.Len()), r.BytesRead())
}

func TestReader_CRLF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crlf.csv")
	require.NoError(t, os.WriteFile(path, []byte("\ufefftimestamp,a\r\n2024-01-01 00:00:00,1\r\n\r\n2024-01-01 00:01:00,2"), 0o644))

	r, err := Open(path, 10)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, []string{"timestamp", "a"}, r.Header())

	c, err := r.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, [][]string{{"2024-01-01 00:00:00", "1"}, {"2024-01-01 00:01:00", "2"}}, c.Rows)
	require.Zero(t, c.Malformed)
}

func TestLineReader_SkipsOverlongLines(t *testing.T) {
	input := "short\n" + strings.Repeat("x", 5000) + "\nafter\n" + strings.Repeat("y", 5000)
	lines := newLineReader(strings.NewReader(input), 100)

	var got []string
	tooLongCount := 0
	for {
		line, tooLong, err := lines.next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if tooLong {
			tooLongCount++
			continue
		}
		got = append(got, string(line))
	}
	require.Equal(t, []string{"short", "after"}, got)
	require.Equal(t, 2, tooLongCount)
	require.Equal(t, int64(len(input)), lines.n)
}

func TestIsMissing(t *testing.T) {
	for _, s := range []string{"", " ", "NaN", "nan", "NULL", "None", "N/A", "NA"} {
		require.True(t, IsMissing(s), "%q", s)
	}
	for _, s := range []string{"0", "t", "F", "12.5", "none"} {
		require.False(t, IsMissing(s), "%q", s)
	}
}

func TestField_ShortRow(t *testing.T) {
	row := []string{"a", "b"}
	require.Equal(t, "b", Field(row, 1))
	require.Equal(t, "", Field(row, 5))
	require.Equal(t, "", Field(row, -1))
}

package iq

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const zstdSuffix = ".zst"

// Reader decodes complex samples from an underlying byte stream.
type Reader struct {
	r       io.Reader
	format  Format
	buf     []byte
	closers []func() error
}

func NewReader(r io.Reader, format Format) *Reader {
	return &Reader{r: r, format: format}
}

// Open opens an IQ capture for reading. Paths ending in ".zst" are
// decompressed on the fly.
func Open(path string, format Format) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	rd := &Reader{format: format, closers: []func() error{f.Close}}
	if !strings.HasSuffix(path, zstdSuffix) {
		rd.r = bufio.NewReader(f)
		return rd, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to open zstd stream %s: %w", path, err)
	}
	rd.r = dec
	rd.closers = append([]func() error{func() error { dec.Close(); return nil }}, rd.closers...)
	return rd, nil
}

// Read fills dst with up to len(dst) samples. A trailing partial sample at
// the end of the stream is discarded.
func (r *Reader) Read(dst []complex64) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	need := len(dst) * r.format.SampleSize()
	if cap(r.buf) < need {
		r.buf = make([]byte, need)
	}
	buf := r.buf[:need]

	n, err := io.ReadFull(r.r, buf)
	samples := r.format.Decode(dst, buf[:n])

	if errors.Is(err, io.ErrUnexpectedEOF) {
		if samples == 0 {
			return 0, io.EOF
		}
		return samples, nil
	}
	return samples, err
}

func (r *Reader) Close() error {
	return closeAll(r.closers)
}

// Writer encodes complex samples onto an underlying byte stream.
type Writer struct {
	w       *bufio.Writer
	format  Format
	buf     []byte
	closers []func() error
}

func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{w: bufio.NewWriter(w), format: format}
}

// Create truncates or creates path for writing. Paths ending in ".zst" are
// compressed with zstd.
func Create(path string, format Format) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	if !strings.HasSuffix(path, zstdSuffix) {
		return &Writer{w: bufio.NewWriter(f), format: format, closers: []func() error{f.Close}}, nil
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to create zstd stream %s: %w", path, err)
	}
	return &Writer{w: bufio.NewWriter(enc), format: format, closers: []func() error{enc.Close, f.Close}}, nil
}

func (w *Writer) Write(samples []complex64) error {
	w.buf = w.format.Encode(w.buf[:0], samples)
	_, err := w.w.Write(w.buf)
	return err
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Close flushes buffered samples and closes the underlying streams.
func (w *Writer) Close() error {
	err := w.w.Flush()
	if cerr := closeAll(w.closers); err == nil {
		err = cerr
	}
	return err
}

func closeAll(closers []func() error) error {
	var errs []error
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

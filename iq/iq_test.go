package iq

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rampSamples(n int) []complex64 {
	s := make([]complex64, n)
	for i := range s {
		v := float32(i%200)/100 - 1
		s[i] = complex(v, -v*0.5)
	}
	return s
}

func writeCapture(t *testing.T, path string, format Format, samples []complex64) {
	t.Helper()
	w, err := Create(path, format)
	require.NoError(t, err)
	require.NoError(t, w.Write(samples))
	require.NoError(t, w.Close())
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"cu8": CU8, "CS8": CS8, "cf32": CF32, "fc32": CF32} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("wav")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestDecode_CU8Scaling(t *testing.T) {
	dst := make([]complex64, 2)
	n := CU8.Decode(dst, []byte{0, 255, 127, 128})

	require.Equal(t, 2, n)
	assert.Equal(t, complex64(complex(-1, 1)), dst[0])
	assert.InDelta(t, 0, real(dst[1]), 0.004)
	assert.InDelta(t, 0, imag(dst[1]), 0.004)
}

func TestDecode_StopsAtDestination(t *testing.T) {
	dst := make([]complex64, 1)
	n := CS8.Decode(dst, []byte{0x80, 0x7f, 1, 2})

	require.Equal(t, 1, n)
	assert.Equal(t, complex64(complex(-1, 127.0/128)), dst[0])
}

func TestEncode_ClipsEightBit(t *testing.T) {
	b := CU8.Encode(nil, []complex64{complex(3, -3)})
	assert.Equal(t, []byte{255, 0}, b)

	b = CS8.Encode(nil, []complex64{complex(3, -3)})
	assert.Equal(t, []byte{0x7f, 0x80}, b)
}

func TestReader_CF32IsExact(t *testing.T) {
	want := rampSamples(100)
	raw := CF32.Encode(nil, want)

	rd := NewReader(bytes.NewReader(raw), CF32)
	got := make([]complex64, 128)
	n, err := rd.Read(got)

	require.NoError(t, err)
	assert.Equal(t, want, got[:n])

	n, err = rd.Read(got)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_DropsPartialTrailingSample(t *testing.T) {
	raw := append(CF32.Encode(nil, rampSamples(3)), 0x01, 0x02, 0x03)
	rd := NewReader(bytes.NewReader(raw), CF32)

	got := make([]complex64, 10)
	n, err := rd.Read(got)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = rd.Read(got)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCreateOpen_Zstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cf32.zst")
	want := rampSamples(5000)
	writeCapture(t, path, CF32, want)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Less(t, len(raw), len(want)*CF32.SampleSize(), "capture should be compressed")

	rd, err := Open(path, CF32)
	require.NoError(t, err)
	defer rd.Close()

	got := make([]complex64, len(want))
	n, err := rd.Read(got)
	require.NoError(t, err)
	assert.Equal(t, want, got[:n])
}

func TestFileSource_StreamsWholeCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cu8")
	want := rampSamples(1000)
	writeCapture(t, path, CU8, want)

	src := &FileSource{Path: path, Format: CU8, ChunkSize: 64}
	out := make(chan []complex64, 100)
	require.NoError(t, src.Stream(context.Background(), out))
	close(out)

	var got []complex64
	for chunk := range out {
		assert.LessOrEqual(t, len(chunk), 64)
		got = append(got, chunk...)
	}
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, real(want[i]), real(got[i]), 0.01)
		assert.InDelta(t, imag(want[i]), imag(got[i]), 0.01)
	}
}

func TestFileSource_LoopStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cf32")
	writeCapture(t, path, CF32, rampSamples(10))

	ctx, cancel := context.WithCancel(context.Background())
	src := &FileSource{Path: path, Format: CF32, ChunkSize: 4, Loop: true}
	out := make(chan []complex64)

	done := make(chan error, 1)
	go func() { done <- src.Stream(ctx, out) }()

	// several passes over a 10-sample file
	for i := 0; i < 12; i++ {
		<-out
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop after cancel")
	}
}

func TestFileSource_MissingFile(t *testing.T) {
	src := &FileSource{Path: filepath.Join(t.TempDir(), "nope.cf32"), Format: CF32}
	err := src.Stream(context.Background(), make(chan []complex64, 1))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

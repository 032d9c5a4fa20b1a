// Package iq reads and writes interleaved IQ sample streams in the formats
// produced by rtl_sdr and GNU Radio file sinks.
package iq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrUnknownFormat = errors.New("unknown IQ sample format")
)

// Format identifies the on-disk encoding of one complex sample.
type Format int

const (
	// CU8 is unsigned 8-bit interleaved I/Q, as written by rtl_sdr.
	CU8 Format = iota
	// CS8 is signed 8-bit interleaved I/Q (HackRF).
	CS8
	// CF32 is little-endian float32 interleaved I/Q (GNU Radio gr_complex).
	CF32
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "cu8", "u8":
		return CU8, nil
	case "cs8", "s8":
		return CS8, nil
	case "cf32", "fc32", "c64":
		return CF32, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) String() string {
	switch f {
	case CU8:
		return "cu8"
	case CS8:
		return "cs8"
	case CF32:
		return "cf32"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// SampleSize is the number of bytes one complex sample occupies.
func (f Format) SampleSize() int {
	if f == CF32 {
		return 8
	}
	return 2
}

// Decode converts as many whole samples of src as fit in dst and returns the
// number decoded. 8-bit formats are scaled into [-1, 1].
func (f Format) Decode(dst []complex64, src []byte) int {
	size := f.SampleSize()
	n := len(src) / size
	if n > len(dst) {
		n = len(dst)
	}

	switch f {
	case CU8:
		for i := 0; i < n; i++ {
			dst[i] = complex(u8ToFloat(src[2*i]), u8ToFloat(src[2*i+1]))
		}
	case CS8:
		for i := 0; i < n; i++ {
			dst[i] = complex(float32(int8(src[2*i]))/128, float32(int8(src[2*i+1]))/128)
		}
	case CF32:
		for i := 0; i < n; i++ {
			re := math.Float32frombits(binary.LittleEndian.Uint32(src[8*i:]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(src[8*i+4:]))
			dst[i] = complex(re, im)
		}
	}
	return n
}

// Encode appends the encoding of src to dst. 8-bit formats clip to their
// representable range.
func (f Format) Encode(dst []byte, src []complex64) []byte {
	switch f {
	case CU8:
		for _, s := range src {
			dst = append(dst, floatToU8(real(s)), floatToU8(imag(s)))
		}
	case CS8:
		for _, s := range src {
			dst = append(dst, byte(floatToS8(real(s))), byte(floatToS8(imag(s))))
		}
	case CF32:
		var b [8]byte
		for _, s := range src {
			binary.LittleEndian.PutUint32(b[:4], math.Float32bits(real(s)))
			binary.LittleEndian.PutUint32(b[4:], math.Float32bits(imag(s)))
			dst = append(dst, b[:]...)
		}
	}
	return dst
}

func u8ToFloat(b byte) float32 {
	return (float32(b) - 127.5) / 127.5
}

func floatToU8(v float32) byte {
	x := math.Round(float64(v)*127.5 + 127.5)
	return byte(math.Max(0, math.Min(255, x)))
}

func floatToS8(v float32) int8 {
	x := math.Round(float64(v) * 128)
	return int8(math.Max(-128, math.Min(127, x)))
}

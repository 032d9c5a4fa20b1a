package iq

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

const DefaultChunkSize = 16384

// FileSource streams a capture file as sample chunks. Each chunk sent is a
// fresh slice owned by the receiver.
type FileSource struct {
	Path      string
	Format    Format
	ChunkSize int
	// Loop restarts the capture from the beginning at end of file.
	Loop   bool
	Logger *slog.Logger
}

// Stream sends the file's samples to out until the file is exhausted (and
// Loop is false) or ctx is cancelled. It does not close out.
func (s *FileSource) Stream(ctx context.Context, out chan<- []complex64) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	for pass := 1; ; pass++ {
		logger.Debug("opening capture", "path", s.Path, "format", s.Format, "pass", pass)
		sent, err := s.streamOnce(ctx, out, chunkSize)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		logger.Info("capture exhausted", "path", s.Path, "samples", sent)
		if !s.Loop || sent == 0 {
			return nil
		}
	}
}

func (s *FileSource) streamOnce(ctx context.Context, out chan<- []complex64, chunkSize int) (int, error) {
	rd, err := Open(s.Path, s.Format)
	if err != nil {
		return 0, err
	}
	defer rd.Close()

	var sent int
	for {
		chunk := make([]complex64, chunkSize)
		n, err := rd.Read(chunk)
		if n > 0 {
			select {
			case out <- chunk[:n]:
				sent += n
			case <-ctx.Done():
				return sent, nil
			}
		}

		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
	}
}

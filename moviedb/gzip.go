/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package moviedb

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"time"
)

const (
	gzipID1     = 0x1f
	gzipID2     = 0x8b
	gzipDeflate = 8

	flagHCRC    = 1 << 1
	flagExtra   = 1 << 2
	flagName    = 1 << 3
	flagComment = 1 << 4

	headerSize  = 10
	trailerSize = 8
	chunkSize   = 64 << 10
)

// payloadOffset walks the optional gzip header fields, each gated by its own
// flag bit, and returns the offset of the first byte of the deflate stream.
func payloadOffset(data []byte) (int, error) {
	if len(data) < 2 || data[0] != gzipID1 || data[1] != gzipID2 {
		return 0, fmt.Errorf("%w: bad magic number", ErrInvalidContainer)
	}

	if len(data) < headerSize+trailerSize {
		return 0, fmt.Errorf("%w: truncated header", ErrInvalidContainer)
	}

	if data[2] != gzipDeflate {
		return 0, fmt.Errorf("%w: unsupported compression method %d", ErrInvalidContainer, data[2])
	}

	flags := data[3]
	off := headerSize

	if flags&flagExtra != 0 {
		if off+2 > len(data) {
			return 0, fmt.Errorf("%w: truncated extra field", ErrInvalidContainer)
		}
		off += 2 + int(binary.LittleEndian.Uint16(data[off:]))
	}

	var err error

	if flags&flagName != 0 {
		off, err = skipCString(data, off, "file name")
		if err != nil {
			return 0, err
		}
	}

	if flags&flagComment != 0 {
		off, err = skipCString(data, off, "comment")
		if err != nil {
			return 0, err
		}
	}

	if flags&flagHCRC != 0 {
		off += 2
	}

	if off >= len(data)-trailerSize {
		return 0, fmt.Errorf("%w: no compressed payload", ErrInvalidContainer)
	}

	return off, nil
}

func skipCString(data []byte, off int, field string) (int, error) {
	if off >= len(data) {
		return 0, fmt.Errorf("%w: truncated %s", ErrInvalidContainer, field)
	}

	i := bytes.IndexByte(data[off:], 0)
	if i < 0 {
		return 0, fmt.Errorf("%w: unterminated %s", ErrInvalidContainer, field)
	}

	return off + i + 1, nil
}

// Inflate decodes a gzip container held in memory and streams the payload to
// w in bounded chunks. After every chunk progress receives the fraction of the
// compressed payload consumed so far; the reported values never decrease and
// end at exactly 1 on success.
func Inflate(data []byte, w io.Writer, progress func(float64)) (int64, error) {
	off, err := payloadOffset(data)
	if err != nil {
		return 0, err
	}

	payload := data[off : len(data)-trailerSize]
	trailer := data[len(data)-trailerSize:]

	// bytes.Reader is an io.ByteReader, so flate reads from it directly and
	// src.Len() is exactly the unconsumed input.
	src := bytes.NewReader(payload)
	fr := flate.NewReader(src)
	defer fr.Close()

	total := float64(len(payload))
	last := -1.0
	report := func(f float64) {
		if progress == nil || f <= last {
			return
		}
		last = f
		progress(f)
	}

	sum := crc32.NewIEEE()
	buf := make([]byte, chunkSize)

	var written int64

	for {
		n, rerr := readChunk(fr, buf)
		if n > 0 {
			sum.Write(buf[:n])

			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("%w: %w", ErrDecompressionFailed, werr)
			}
			written += int64(n)

			report(min(float64(len(payload)-src.Len())/total, 1))
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, fmt.Errorf("%w: %w", ErrDecompressionFailed, rerr)
		}
	}

	if src.Len() != 0 {
		return written, fmt.Errorf("%w: %d bytes of trailing data", ErrDecompressionFailed, src.Len())
	}

	if got, want := sum.Sum32(), binary.LittleEndian.Uint32(trailer[:4]); got != want {
		return written, fmt.Errorf("%w: checksum mismatch (got %08x, want %08x)", ErrDecompressionFailed, got, want)
	}

	if got, want := uint32(written), binary.LittleEndian.Uint32(trailer[4:]); got != want {
		return written, fmt.Errorf("%w: size mismatch (got %d, want %d)", ErrDecompressionFailed, got, want)
	}

	report(1)

	return written, nil
}

func readChunk(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}

	return n, nil
}

// Compress writes src to dst as a single-member gzip container, recording
// name in the header's file name field.
func Compress(dst io.Writer, src io.Reader, name string) error {
	zw, err := gzip.NewWriterLevel(dst, gzip.BestCompression)
	if err != nil {
		return err
	}

	zw.Name = name
	zw.ModTime = time.Now()

	if _, err := io.Copy(zw, src); err != nil {
		_ = zw.Close()
		return err
	}

	return zw.Close()
}

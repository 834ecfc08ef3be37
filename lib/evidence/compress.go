// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is the compression applied to a stored payload.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

// ParseCodec parses a codec name. The empty string is CodecNone.
func ParseCodec(name string) (Codec, error) {
	switch Codec(name) {
	case "", CodecNone:
		return CodecNone, nil
	case CodecZstd, CodecLZ4:
		return Codec(name), nil
	}
	return "", fmt.Errorf("evidence: unknown compression %q (want none, zstd, or lz4)", name)
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("evidence: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("evidence: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns data compressed with codec, or data itself and
// CodecNone when compression would not shrink it.
func compress(data []byte, codec Codec) ([]byte, Codec, error) {
	switch codec {
	case CodecNone:
		return data, CodecNone, nil
	case CodecZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return data, CodecNone, nil
		}
		return compressed, CodecZstd, nil
	case CodecLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, "", fmt.Errorf("evidence: lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return data, CodecNone, nil
		}
		return destination[:written], CodecLZ4, nil
	}
	return nil, "", fmt.Errorf("evidence: unsupported codec %q", codec)
}

// decompress reverses compress. rawSize is the uncompressed length.
func decompress(data []byte, codec Codec, rawSize int) ([]byte, error) {
	var result []byte
	switch codec {
	case CodecNone, "":
		result = data
	case CodecZstd:
		var err error
		result, err = zstdDecoder.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("evidence: zstd decompress: %w", err)
		}
	case CodecLZ4:
		result = make([]byte, rawSize)
		read, err := lz4.UncompressBlock(data, result)
		if err != nil {
			return nil, fmt.Errorf("evidence: lz4 decompress: %w", err)
		}
		result = result[:read]
	default:
		return nil, fmt.Errorf("evidence: unsupported codec %q", codec)
	}
	if len(result) != rawSize {
		return nil, fmt.Errorf("evidence: %s payload is %d bytes, expected %d", codec, len(result), rawSize)
	}
	return result, nil
}

// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package codecutil wraps klauspost/compress/zstd for the file-to-file
// compress/decompress operations the snapshot engine needs: volume
// archives are tar streams compressed at level 3 with all cores, and
// restored archives are verified by their frame magic before being
// untarred.
package codecutil

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// ZstdMagic is the frame magic bytes every zstd stream starts with.
var ZstdMagic = [4]byte{0x28, 0xB5, 0x2F, 0xFD}

// VerifyZstdMagic reads just enough of path to confirm it is a zstd
// stream, without decompressing it.
func VerifyZstdMagic(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var buf [4]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return false, fmt.Errorf("read magic from %s: %w", path, err)
	}
	return buf == ZstdMagic, nil
}

// ZstdCompressLevel compresses src into dst at the given level, using all
// available cores (klauspost's default concurrency). The snapshot engine's
// volume archives use level 3, matching `zstd -3 -T0`.
func ZstdCompressLevel(src, dst string, level zstd.EncoderLevel) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dstFile.Close()

	encoder, err := zstd.NewWriter(dstFile, zstd.WithEncoderLevel(level))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer encoder.Close()

	if _, err := io.Copy(encoder, srcFile); err != nil {
		return fmt.Errorf("failed to compress file: %w", err)
	}
	return nil
}

func ZstdCompress(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dstFile.Close()

	encoder, err := zstd.NewWriter(dstFile)
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer encoder.Close()

	_, err = io.Copy(encoder, srcFile)
	if err != nil {
		return fmt.Errorf("failed to compress file: %w", err)
	}

	return nil
}

func ZstdDecompress(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dstFile.Close()

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()

	err = decoder.Reset(srcFile)
	if err != nil {
		return fmt.Errorf("failed to reset decoder: %w", err)
	}

	_, err = decoder.WriteTo(dstFile)
	if err != nil {
		return fmt.Errorf("failed to decompress file: %w", err)
	}

	return nil
}

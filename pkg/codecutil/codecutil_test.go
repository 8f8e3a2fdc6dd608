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

package codecutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("hello snapshot archive"), 0644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	compressed := filepath.Join(dir, "out.zst")
	if err := ZstdCompressLevel(src, compressed, zstd.SpeedDefault); err != nil {
		t.Fatalf("compress: %v", err)
	}

	ok, err := VerifyZstdMagic(compressed)
	if err != nil {
		t.Fatalf("verify magic: %v", err)
	}
	if !ok {
		t.Errorf("expected valid zstd magic")
	}

	decompressed := filepath.Join(dir, "roundtrip.txt")
	if err := ZstdDecompress(compressed, decompressed); err != nil {
		t.Fatalf("decompress: %v", err)
	}
	got, err := os.ReadFile(decompressed)
	if err != nil {
		t.Fatalf("read decompressed: %v", err)
	}
	if string(got) != "hello snapshot archive" {
		t.Errorf("got %q", got)
	}
}

func TestVerifyZstdMagicRejectsPlainFile(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(plain, []byte("not zstd"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ok, err := VerifyZstdMagic(plain)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Errorf("expected magic mismatch")
	}
}

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

package lockfile

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWithLockSerializesConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".test.lock")

	var mu sync.Mutex
	counter := 0
	inside, maxInside := 0, 0
	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = WithLock(path, func() error {
				mu.Lock()
				counter++
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("WithLock: %v", err)
		}
	}
	if counter != n {
		t.Errorf("counter = %d, want %d", counter, n)
	}
	if maxInside != 1 {
		t.Errorf("at most one holder inside the lock at a time, saw %d", maxInside)
	}
}

func TestAcquireCreatesLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".lock")
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

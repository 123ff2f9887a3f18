// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the HTTP handlers for the assistant service.
//
// This file implements the secure response accumulator. A validated model
// response is held in mlocked memory between validation and transmission
// so it never reaches swap, and is wiped once the SSE stream has drained.
package handlers

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

const (
	// ResponseBufferSize is the size of the mlocked buffer holding one
	// response. 256 KB covers the largest completion the pipeline allows
	// with generous headroom.
	ResponseBufferSize = 256 * 1024

	// minMlockLimitKB is the minimum RLIMIT_MEMLOCK required, in KB.
	minMlockLimitKB = 256

	// insecureMemoryEnv opts into plain-memory buffering when the mlock
	// limit is too low to allocate a locked buffer.
	insecureMemoryEnv = "ASSIST_INSECURE_MEMORY"
)

var (
	memguardInitOnce sync.Once
	mlockSufficient  bool
	mlockLimitKB     int64
)

// ResponseAccumulator buffers a complete response before it is streamed
// to the client.
//
// # Description
//
// The accumulator is the hand-off point between the pipeline and the SSE
// writer. The pipeline's validated output is written in, the stream
// writer drains it in delta-sized pieces, and Destroy wipes the backing
// memory. Secure instances keep the buffer mlocked with guard pages via
// memguard; the insecure fallback uses ordinary memory.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
//
// # Limitations
//
//   - Fixed capacity; writes past ResponseBufferSize fail
//   - Unusable after Destroy
type ResponseAccumulator interface {
	// Write appends text to the buffer. Returns an error on overflow or
	// after Destroy.
	Write(text string) error

	// Len returns the number of buffered bytes.
	Len() int

	// Bytes returns a view of the buffered content. The view is only
	// valid until Destroy; callers must not retain it.
	Bytes() []byte

	// Destroy wipes the buffer. Idempotent.
	Destroy()
}

// NewResponseAccumulator allocates an accumulator for one response.
//
// # Description
//
// Prefers an mlocked memguard buffer. When RLIMIT_MEMLOCK is below
// minMlockLimitKB the secure path cannot allocate; with
// ASSIST_INSECURE_MEMORY=true the plain-memory fallback is used instead,
// otherwise an error is returned so the operator has to choose.
//
// # Outputs
//
//   - ResponseAccumulator: Ready for use.
//   - error: Non-nil when secure memory is unavailable and the fallback
//     was not enabled.
func NewResponseAccumulator() (ResponseAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		if os.Getenv(insecureMemoryEnv) == "true" {
			slog.Warn("Using insecure response buffer, mlock limit too low",
				"limit_kb", mlockLimitKB, "required_kb", minMlockLimitKB)
			return &plainAccumulator{data: make([]byte, 0, ResponseBufferSize)}, nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB; raise the limit or set %s=true",
			mlockLimitKB, minMlockLimitKB, insecureMemoryEnv)
	}

	buf := memguard.NewBuffer(ResponseBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", ResponseBufferSize)
	}
	buf.Melt()
	return &secureAccumulator{buffer: buf}, nil
}

// PurgeSecureMemory wipes all memguard-allocated memory. Called during
// graceful shutdown; also triggered on SIGINT by memguard itself.
func PurgeSecureMemory() {
	memguard.Purge()
	slog.Info("Purged secure memory")
}

// initMemguard performs one-time memguard setup and checks the mlock
// resource limit.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, mlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure memory initialized", "mlock_limit_kb", mlockLimitKB)
		} else {
			slog.Error("mlock limit insufficient for secure response buffering",
				"limit_kb", mlockLimitKB, "required_kb", minMlockLimitKB)
		}
	})
}

// checkMlockLimit reports whether RLIMIT_MEMLOCK allows the buffer size.
// The limit is -1 when unlimited.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= minMlockLimitKB, limitKB
}

// =============================================================================
// Secure Implementation
// =============================================================================

// secureAccumulator holds the response in an mlocked memguard buffer.
// Guard pages catch overruns and Destroy zeroes the memory.
type secureAccumulator struct {
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	destroyed bool
}

func (a *secureAccumulator) Write(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.offset+len(text) > ResponseBufferSize {
		return fmt.Errorf("response buffer overflow: need %d bytes, have %d remaining",
			len(text), ResponseBufferSize-a.offset)
	}
	copy(a.buffer.Bytes()[a.offset:], text)
	a.offset += len(text)
	return nil
}

func (a *secureAccumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset
}

func (a *secureAccumulator) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return nil
	}
	return a.buffer.Bytes()[:a.offset]
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.buffer.Destroy()
	a.destroyed = true
}

// =============================================================================
// Plain-Memory Fallback
// =============================================================================

// plainAccumulator is the fallback when mlock is unavailable. Zeroing on
// Destroy is best effort; the GC may have copied the data.
type plainAccumulator struct {
	mu        sync.Mutex
	data      []byte
	destroyed bool
}

func (a *plainAccumulator) Write(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if len(a.data)+len(text) > ResponseBufferSize {
		return fmt.Errorf("response buffer overflow: need %d bytes, have %d remaining",
			len(text), ResponseBufferSize-len(a.data))
	}
	a.data = append(a.data, text...)
	return nil
}

func (a *plainAccumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}

func (a *plainAccumulator) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return nil
	}
	return a.data
}

func (a *plainAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var (
	_ ResponseAccumulator = (*secureAccumulator)(nil)
	_ ResponseAccumulator = (*plainAccumulator)(nil)
)

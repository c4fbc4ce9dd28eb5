// Package mmap provides read-only memory-mapped file access. Annotation
// payload blobs are read whole; mapping them avoids a copy through kernel
// buffers before decoding.
//
// Unix (Linux, macOS, BSD) uses mmap(2) with madvise(2) hints; Windows uses
// CreateFileMapping/MapViewOfFile and treats hints as a no-op.
package mmap

import (
	"errors"
	"sync/atomic"
)

// AccessPattern hints how the mapped data will be read.
type AccessPattern int

const (
	// AccessDefault gives no specific advice.
	AccessDefault AccessPattern = iota
	// AccessSequential expects a front-to-back read.
	AccessSequential
	// AccessRandom expects scattered reads.
	AccessRandom
)

// ErrInvalidSize is returned when the file size is invalid.
var ErrInvalidSize = errors.New("mmap: invalid file size")

// Mapping is a read-only memory-mapped file. It owns the underlying byte
// slice and unmaps it on Close.
//
// Safe for concurrent reads; callers must ensure no goroutine touches
// Bytes() after Close returns.
type Mapping struct {
	data   []byte
	closed atomic.Bool
	unmap  func([]byte) error
}

// Bytes returns the mapped content. The slice is valid only until Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the mapping size in bytes.
func (m *Mapping) Size() int { return len(m.data) }

// Advise passes an access-pattern hint to the kernel. Advisory only; errors
// from unsupported platforms are suppressed.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() || len(m.data) == 0 {
		return nil
	}
	return osAdvise(m.data, pattern)
}

// Close unmaps the memory. Idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

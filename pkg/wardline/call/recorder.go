package call

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// recorder appends raw µ-law bytes to a temporary WAV file. One recorder
// per direction (caller audio, synthesized audio); the finalizer closes
// them, uploads the files, then removes the temps.
type recorder struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	bytes  uint32
	closed bool
}

// wavHeaderSize is the fixed G.711 µ-law WAV preamble: RIFF header, 18-byte
// fmt chunk (format 7, 8 kHz mono, 8-bit), fact chunk, data chunk header.
const wavHeaderSize = 58

// newRecorder creates a temp WAV file in dir with a placeholder header.
func newRecorder(dir, pattern string) (*recorder, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("recorder: create temp: %w", err)
	}
	r := &recorder{f: f, path: f.Name()}
	if err := r.writeHeader(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return r, nil
}

// Write appends µ-law audio. Safe to call concurrently with Close; writes
// after close are dropped.
func (r *recorder) Write(mulaw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(mulaw) == 0 {
		return
	}
	if _, err := r.f.Write(mulaw); err == nil {
		r.bytes += uint32(len(mulaw))
	}
}

// Close patches the header sizes and closes the file.
func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.writeHeader(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}

// Path returns the temp file location.
func (r *recorder) Path() string { return r.path }

// Remove deletes the temp file. Call after Close.
func (r *recorder) Remove() {
	os.Remove(r.path)
}

// writeHeader writes the WAV preamble at offset 0 with current sizes.
func (r *recorder) writeHeader() error {
	var h [wavHeaderSize]byte
	le := binary.LittleEndian

	copy(h[0:4], "RIFF")
	le.PutUint32(h[4:8], wavHeaderSize-8+r.bytes)
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	le.PutUint32(h[16:20], 18)
	le.PutUint16(h[20:22], 7) // G.711 µ-law
	le.PutUint16(h[22:24], 1)
	le.PutUint32(h[24:28], 8000)
	le.PutUint32(h[28:32], 8000)
	le.PutUint16(h[32:34], 1)
	le.PutUint16(h[34:36], 8)
	le.PutUint16(h[36:38], 0) // no extra format bytes

	copy(h[38:42], "fact")
	le.PutUint32(h[42:46], 4)
	le.PutUint32(h[46:50], r.bytes) // one sample per byte

	copy(h[50:54], "data")
	le.PutUint32(h[54:58], r.bytes)

	if _, err := r.f.WriteAt(h[:], 0); err != nil {
		return fmt.Errorf("recorder: write header: %w", err)
	}
	// Keep the append position past the header for the first write.
	if r.bytes == 0 {
		if _, err := r.f.Seek(wavHeaderSize, 0); err != nil {
			return fmt.Errorf("recorder: seek: %w", err)
		}
	}
	return nil
}

package call

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
)

func TestRecorderWAVHeader(t *testing.T) {
	r, err := newRecorder(t.TempDir(), "caller-*.wav")
	if err != nil {
		t.Fatalf("newRecorder failed: %v", err)
	}
	defer r.Remove()

	audio := bytes.Repeat([]byte{0x7F}, 1600) // 200ms of µ-law at 8kHz
	r.Write(audio)
	r.Write(audio)
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(r.Path())
	if err != nil {
		t.Fatalf("reading recording: %v", err)
	}
	if len(data) != wavHeaderSize+2*len(audio) {
		t.Fatalf("file size: got %d want %d", len(data), wavHeaderSize+2*len(audio))
	}

	le := binary.LittleEndian
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if got := le.Uint32(data[4:8]); got != uint32(len(data)-8) {
		t.Errorf("RIFF size: got %d want %d", got, len(data)-8)
	}
	if got := le.Uint16(data[20:22]); got != 7 {
		t.Errorf("format tag: got %d want 7 (mu-law)", got)
	}
	if got := le.Uint32(data[24:28]); got != 8000 {
		t.Errorf("sample rate: got %d want 8000", got)
	}
	if string(data[38:42]) != "fact" {
		t.Error("missing fact chunk")
	}
	if got := le.Uint32(data[46:50]); got != uint32(2*len(audio)) {
		t.Errorf("fact sample count: got %d want %d", got, 2*len(audio))
	}
	if string(data[50:54]) != "data" {
		t.Error("missing data chunk")
	}
	if got := le.Uint32(data[54:58]); got != uint32(2*len(audio)) {
		t.Errorf("data size: got %d want %d", got, 2*len(audio))
	}
	if !bytes.Equal(data[wavHeaderSize:wavHeaderSize+4], []byte{0x7F, 0x7F, 0x7F, 0x7F}) {
		t.Error("audio payload corrupted")
	}
}

func TestRecorderWriteAfterClose(t *testing.T) {
	r, err := newRecorder(t.TempDir(), "agent-*.wav")
	if err != nil {
		t.Fatalf("newRecorder failed: %v", err)
	}
	defer r.Remove()

	r.Write([]byte{1, 2, 3})
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	r.Write([]byte{4, 5, 6}) // dropped
	if err := r.Close(); err != nil {
		t.Errorf("second Close errored: %v", err)
	}

	data, _ := os.ReadFile(r.Path())
	if len(data) != wavHeaderSize+3 {
		t.Errorf("write after close landed: size %d", len(data))
	}
}

func TestRecorderEmptyFile(t *testing.T) {
	r, err := newRecorder(t.TempDir(), "caller-*.wav")
	if err != nil {
		t.Fatalf("newRecorder failed: %v", err)
	}
	defer r.Remove()
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, _ := os.ReadFile(r.Path())
	if len(data) != wavHeaderSize {
		t.Fatalf("empty recording size: got %d want %d", len(data), wavHeaderSize)
	}
	if got := binary.LittleEndian.Uint32(data[54:58]); got != 0 {
		t.Errorf("data size: got %d want 0", got)
	}
}

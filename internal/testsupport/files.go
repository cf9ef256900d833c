package testsupport

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"scribe/internal/workitem"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// WriteWAV writes a PCM WAV file with the given layout. Sample values encode
// the channel index so split outputs can be told apart: every sample of
// channel c holds the byte value c+1 in each of its bytes.
func WriteWAV(t testing.TB, path string, channels, sampleRate, bits, frames int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	sampleBytes := bits / 8
	dataBytes := int64(frames * channels * sampleBytes)
	if err := workitem.WriteWAVHeader(w, channels, sampleRate, bits, dataBytes); err != nil {
		t.Fatalf("write header %s: %v", path, err)
	}
	sample := make([]byte, sampleBytes)
	for frame := 0; frame < frames; frame++ {
		for ch := 0; ch < channels; ch++ {
			for i := range sample {
				sample[i] = byte(ch + 1)
			}
			if _, err := w.Write(sample); err != nil {
				t.Fatalf("write samples %s: %v", path, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush %s: %v", path, err)
	}
}

// WriteMonoWAV writes a short 16-bit 16 kHz mono recording.
func WriteMonoWAV(t testing.TB, path string) {
	t.Helper()
	WriteWAV(t, path, 1, 16000, 16, 1600)
}

// WriteStereoWAV writes a short 16-bit 16 kHz stereo recording.
func WriteStereoWAV(t testing.TB, path string) {
	t.Helper()
	WriteWAV(t, path, 2, 16000, 16, 1600)
}

// WriteTranscript writes a plain-text transcript.
func WriteTranscript(t testing.TB, path, text string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// PutUint32 overwrites four little-endian bytes at offset in the file at path.
// Tests use it to corrupt headers.
func PutUint32(t testing.TB, path string, offset int64, value uint32) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if _, err := f.WriteAt(buf[:], offset); err != nil {
		t.Fatalf("patch %s: %v", path, err)
	}
}

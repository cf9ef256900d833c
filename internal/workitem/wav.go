package workitem

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	wavFormatPCM        = 0x0001
	wavFormatExtensible = 0xFFFE
)

// pcmSubFormat is the KSDATAFORMAT_SUBTYPE_PCM GUID prefix.
var pcmSubFormat = []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}

var errNotWAV = errors.New("not a RIFF/WAVE file")

// wavLayout is the parsed header plus the location of the sample data.
type wavLayout struct {
	info       AudioInfo
	blockAlign int
	dataOffset int64
}

// ProbeWAV validates the WAV file at path and returns its audio parameters.
func ProbeWAV(path string) (AudioInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return AudioInfo{}, err
	}
	defer f.Close()
	layout, err := readWAV(f)
	if err != nil {
		return AudioInfo{}, err
	}
	return layout.info, nil
}

func readWAV(r io.ReadSeeker) (wavLayout, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return wavLayout{}, errNotWAV
	}
	if !bytes.Equal(riff[0:4], []byte("RIFF")) || !bytes.Equal(riff[8:12], []byte("WAVE")) {
		return wavLayout{}, errNotWAV
	}

	var (
		layout  wavLayout
		haveFmt bool
		offset  int64 = 12
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if haveFmt {
				return wavLayout{}, errors.New("missing data chunk")
			}
			return wavLayout{}, errors.New("missing fmt chunk")
		}
		offset += 8
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return wavLayout{}, fmt.Errorf("fmt chunk too short (%d bytes)", size)
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil {
				return wavLayout{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if err := parseFmt(buf, &layout); err != nil {
				return wavLayout{}, err
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return wavLayout{}, errors.New("data chunk precedes fmt chunk")
			}
			if size%int64(layout.blockAlign) != 0 {
				return wavLayout{}, fmt.Errorf("data chunk size %d is not a multiple of block align %d", size, layout.blockAlign)
			}
			end, err := r.Seek(0, io.SeekEnd)
			if err != nil {
				return wavLayout{}, fmt.Errorf("measure file: %w", err)
			}
			if offset+size > end {
				return wavLayout{}, fmt.Errorf("data chunk claims %d bytes but only %d remain", size, end-offset)
			}
			if _, err := r.Seek(offset, io.SeekStart); err != nil {
				return wavLayout{}, err
			}
			layout.dataOffset = offset
			layout.info.DataBytes = size
			frames := size / int64(layout.blockAlign)
			layout.info.Duration = time.Duration(frames) * time.Second / time.Duration(layout.info.SampleRate)
			return layout, nil
		default:
			if _, err := r.Seek(size, io.SeekCurrent); err != nil {
				return wavLayout{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
		// RIFF chunks are word aligned.
		if size%2 == 1 {
			if _, err := r.Seek(1, io.SeekCurrent); err != nil {
				return wavLayout{}, err
			}
			size++
		}
		offset += size
	}
}

func parseFmt(buf []byte, layout *wavLayout) error {
	format := binary.LittleEndian.Uint16(buf[0:2])
	channels := int(binary.LittleEndian.Uint16(buf[2:4]))
	sampleRate := int(binary.LittleEndian.Uint32(buf[4:8]))
	blockAlign := int(binary.LittleEndian.Uint16(buf[12:14]))
	bits := int(binary.LittleEndian.Uint16(buf[14:16]))

	switch format {
	case wavFormatPCM:
	case wavFormatExtensible:
		if len(buf) < 40 {
			return errors.New("extensible fmt chunk too short")
		}
		if !bytes.Equal(buf[24:40], pcmSubFormat) {
			return errors.New("unsupported extensible sub-format (only PCM is accepted)")
		}
	default:
		return fmt.Errorf("unsupported audio format 0x%04x (only PCM is accepted)", format)
	}
	switch bits {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth %d", bits)
	}
	if channels < 1 {
		return errors.New("channel count must be positive")
	}
	if sampleRate <= 0 {
		return errors.New("sample rate must be positive")
	}
	if blockAlign != channels*bits/8 {
		return fmt.Errorf("block align %d does not match %d channels of %d bits", blockAlign, channels, bits)
	}
	layout.blockAlign = blockAlign
	layout.info.Channels = channels
	layout.info.SampleRate = sampleRate
	layout.info.BitsPerSample = bits
	layout.info.Format = format
	return nil
}

// WriteWAVHeader writes a canonical 44-byte PCM header.
func WriteWAVHeader(w io.Writer, channels, sampleRate, bits int, dataBytes int64) error {
	blockAlign := channels * bits / 8
	hdr := make([]byte, 44)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataBytes))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(bits))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataBytes))
	_, err := w.Write(hdr)
	return err
}

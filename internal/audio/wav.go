package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

// WAVInfo describes the PCM stream of a RIFF/WAVE file.
type WAVInfo struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// Frames is the number of sample frames (one sample per channel).
func (i WAVInfo) Frames() int64 {
	frameSize := int64(i.Channels) * int64(i.BitsPerSample/8)
	if frameSize <= 0 {
		return 0
	}
	return int64(i.DataSize) / frameSize
}

func (i WAVInfo) Duration() time.Duration {
	if i.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(i.Frames()) / float64(i.SampleRate) * float64(time.Second))
}

// ProbeWAV reads the header chunks of a WAV file without loading its samples.
func ProbeWAV(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	info, _, err := readHeader(f)
	return info, err
}

// readHeader walks the RIFF chunks and returns the format plus the offset of
// the data chunk.
func readHeader(f io.ReadSeeker) (WAVInfo, int64, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return WAVInfo{}, 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return WAVInfo{}, 0, fmt.Errorf("read wav header: %w", err)
	}

	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAVInfo{}, 0, ErrInvalidWAV
	}

	var (
		info       WAVInfo
		dataOffset int64
		hasFmt     bool
		hasData    bool
	)

	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(f, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return WAVInfo{}, 0, fmt.Errorf("read wav chunk header: %w", err)
		}

		chunkID := string(chunkHeader[:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		chunkStart, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return WAVInfo{}, 0, fmt.Errorf("seek wav chunk start: %w", err)
		}

		// chunks are word aligned
		skip := int64(chunkSize)
		if chunkSize%2 != 0 {
			skip++
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return WAVInfo{}, 0, ErrInvalidWAV
			}

			buf := make([]byte, 16)
			if _, err := io.ReadFull(f, buf); err != nil {
				return WAVInfo{}, 0, fmt.Errorf("read wav fmt chunk: %w", err)
			}

			info.AudioFormat = binary.LittleEndian.Uint16(buf[0:2])
			info.Channels = binary.LittleEndian.Uint16(buf[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(buf[4:8])
			info.BitsPerSample = binary.LittleEndian.Uint16(buf[14:16])
			hasFmt = true
		case "data":
			dataOffset = chunkStart
			info.DataSize = chunkSize
			hasData = true
		}

		if _, err := f.Seek(chunkStart+skip, io.SeekStart); err != nil {
			return WAVInfo{}, 0, fmt.Errorf("seek past wav chunk %q: %w", chunkID, err)
		}
	}

	if !hasFmt || !hasData {
		return WAVInfo{}, 0, ErrInvalidWAV
	}

	if err := validateFormat(info.AudioFormat, info.BitsPerSample); err != nil {
		return WAVInfo{}, 0, err
	}

	return info, dataOffset, nil
}

func validateFormat(audioFormat, bitsPerSample uint16) error {
	switch audioFormat {
	case 1:
		switch bitsPerSample {
		case 8, 16, 24, 32:
			return nil
		}
	case 3:
		switch bitsPerSample {
		case 32, 64:
			return nil
		}
	}
	return ErrUnsupportedWAV
}

// EncodePCM16 wraps little-endian signed 16-bit samples in a WAV container.
func EncodePCM16(samples []int16, sampleRate, channels int) []byte {
	const bytesPerSample = 2
	dataSize := len(samples) * bytesPerSample

	out := make([]byte, 44+dataSize)
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(sampleRate*channels*bytesPerSample))
	binary.LittleEndian.PutUint16(out[32:], uint16(channels*bytesPerSample))
	binary.LittleEndian.PutUint16(out[34:], 16)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))

	off := 44
	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}
	return out
}

package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Encoding tags used on AUDIO_CHUNK frames.
const (
	EncodingOggOpus  = "OGG_OPUS"
	EncodingWebmOpus = "WEBM_OPUS"
	EncodingMP3      = "MP3"
	EncodingLinear16 = "LINEAR16"
	EncodingPCM      = "PCM"
	EncodingPCMS16LE = "PCM_S16LE"
)

// Raw PCM narration format.
const (
	PCMSampleRate    = 24000
	PCMBitsPerSample = 16
	PCMChannels      = 1
)

var (
	ErrUnsupportedEncoding = errors.New("unsupported audio encoding")
	ErrEmptyChunk          = errors.New("audio chunk is empty")
)

// Buffer is one decoded chunk ready for a pipeline. Standalone buffers are
// complete playable units (WAV-wrapped PCM); the rest are fragments of one
// progressive container stream.
type Buffer struct {
	Data       []byte
	Standalone bool
}

// Decoder turns chunk payloads into playable buffers.
type Decoder struct{}

// NormalizeEncoding maps a wire tag to its canonical form. Empty means OGG_OPUS.
func NormalizeEncoding(encoding string) string {
	e := strings.ToUpper(strings.TrimSpace(encoding))
	if e == "" {
		return EncodingOggOpus
	}
	return e
}

// IsPCM reports whether encoding is raw 16-bit PCM.
func IsPCM(encoding string) bool {
	switch NormalizeEncoding(encoding) {
	case EncodingLinear16, EncodingPCM, EncodingPCMS16LE:
		return true
	}
	return false
}

// Decode base64-decodes payload and tags it with the normalized encoding.
func (Decoder) Decode(payload, encoding string) (Buffer, error) {
	raw, err := decodeBase64(payload)
	if err != nil {
		return Buffer{}, fmt.Errorf("decode audio payload: %w", err)
	}
	if len(raw) == 0 {
		return Buffer{}, ErrEmptyChunk
	}
	switch enc := NormalizeEncoding(encoding); enc {
	case EncodingOggOpus, EncodingWebmOpus, EncodingMP3:
		return Buffer{Data: raw}, nil
	case EncodingLinear16, EncodingPCM, EncodingPCMS16LE:
		return Buffer{Data: PCMToWAV(raw, PCMSampleRate, PCMBitsPerSample, PCMChannels), Standalone: true}, nil
	default:
		return Buffer{}, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc)
	}
}

func decodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if out, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return out, nil
	}
	if out, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); err == nil {
		return out, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(payload, "="))
}

// Extension returns the file extension for a stream of the given encoding.
func Extension(encoding string) string {
	switch NormalizeEncoding(encoding) {
	case EncodingWebmOpus:
		return "webm"
	case EncodingMP3:
		return "mp3"
	case EncodingLinear16, EncodingPCM, EncodingPCMS16LE:
		return "wav"
	default:
		return "ogg"
	}
}

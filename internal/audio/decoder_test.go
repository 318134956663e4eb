package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"
)

func TestDecodeEncodings(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0x04}
	std := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name           string
		payload        string
		encoding       string
		wantStandalone bool
		wantErr        error
	}{
		{"ogg opus", std, EncodingOggOpus, false, nil},
		{"empty means ogg", std, "", false, nil},
		{"lower case tag", std, "webm_opus", false, nil},
		{"mp3", std, EncodingMP3, false, nil},
		{"linear16 wrapped", std, EncodingLinear16, true, nil},
		{"pcm wrapped", std, EncodingPCM, true, nil},
		{"pcm_s16le wrapped", std, EncodingPCMS16LE, true, nil},
		{"unpadded base64", base64.RawStdEncoding.EncodeToString(raw), EncodingOggOpus, false, nil},
		{"unknown encoding", std, "FLAC", false, ErrUnsupportedEncoding},
		{"empty payload", "", EncodingOggOpus, false, ErrEmptyChunk},
	}

	var d Decoder
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := d.Decode(tt.payload, tt.encoding)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err=%v want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if buf.Standalone != tt.wantStandalone {
				t.Fatalf("standalone=%v want=%v", buf.Standalone, tt.wantStandalone)
			}
			if !buf.Standalone && !bytes.Equal(buf.Data, raw) {
				t.Fatalf("data=%v want=%v", buf.Data, raw)
			}
			if buf.Standalone && !bytes.Equal(buf.Data[wavHeaderSize:], raw) {
				t.Fatalf("wav body=%v want=%v", buf.Data[wavHeaderSize:], raw)
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := (Decoder{}).Decode("not base64 at all!", EncodingOggOpus); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
}

func TestPCMToWAVHeader(t *testing.T) {
	pcm := make([]byte, 480)
	wav := PCMToWAV(pcm, PCMSampleRate, PCMBitsPerSample, PCMChannels)

	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("len=%d want=%d", len(wav), wavHeaderSize+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q", wav[:44])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Fatalf("riff size=%d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[20:22]); got != 1 {
		t.Fatalf("format=%d want=1", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Fatalf("channels=%d want=1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Fatalf("sample rate=%d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 48000 {
		t.Fatalf("byte rate=%d want=48000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[32:34]); got != 2 {
		t.Fatalf("block align=%d want=2", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size=%d", got)
	}
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"":               "ogg",
		EncodingOggOpus:  "ogg",
		EncodingWebmOpus: "webm",
		EncodingMP3:      "mp3",
		EncodingPCM:      "wav",
		EncodingLinear16: "wav",
	}
	for enc, want := range cases {
		if got := Extension(enc); got != want {
			t.Errorf("Extension(%q)=%q want=%q", enc, got, want)
		}
	}
}

package audio

import (
	"bytes"
	"testing"
)

func TestEncodeThenParse(t *testing.T) {
	pcm := PCMBytes([]int16{0, 100, -100, 32767, -32768})
	wav := EncodeWAV(pcm, 16000, 1)

	info, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 {
		t.Errorf("format = %d Hz %d ch", info.SampleRate, info.Channels)
	}
	if !bytes.Equal(wav[info.DataOffset:], pcm) {
		t.Error("PCM payload mismatch")
	}
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	for _, in := range [][]byte{
		nil,
		[]byte("short"),
		[]byte("NOTARIFFFILE................."),
		append([]byte("RIFF\x00\x00\x00\x00WAVE"), []byte("junkchunkwithoutdata")...),
	} {
		if _, err := ParseWAV(in); err == nil {
			t.Errorf("ParseWAV(%q) accepted", in)
		}
	}
}

func TestParseWAVNonCanonicalHeader(t *testing.T) {
	// An extra chunk between fmt and data must be skipped.
	pcm := []byte{1, 2, 3, 4}
	wav := EncodeWAV(pcm, 22050, 2)
	// Splice a LIST chunk before data.
	list := append([]byte("LIST\x04\x00\x00\x00"), []byte("INFO")...)
	spliced := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	info, err := ParseWAV(spliced)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.SampleRate != 22050 || info.Channels != 2 {
		t.Errorf("format = %d Hz %d ch", info.SampleRate, info.Channels)
	}
	if !bytes.Equal(spliced[info.DataOffset:], pcm) {
		t.Error("PCM payload mismatch after splice")
	}
}

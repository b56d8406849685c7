package piper

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// buildWAV assembles a minimal RIFF/WAVE container around pcm.
func buildWAV(t *testing.T, pcm []byte, sampleRate, channels int) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(buildWAV(t, pcm, 22050, 1))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audio, err := p.Synthesize(context.Background(), "Hello there.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotBody != "Hello there." {
		t.Errorf("request body = %q, want %q", gotBody, "Hello there.")
	}
	if !bytes.Equal(audio.PCM, pcm) {
		t.Errorf("PCM = %v, want %v", audio.PCM, pcm)
	}
	if audio.SampleRate != 22050 || audio.Channels != 1 {
		t.Errorf("format = %d Hz / %d ch, want 22050 / 1", audio.SampleRate, audio.Channels)
	}
}

func TestSynthesizeIgnoresTrailingChunks(t *testing.T) {
	t.Parallel()

	// Some encoders append a LIST/INFO metadata chunk after data; it must not
	// end up in the returned PCM.
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wav := buildWAV(t, pcm, 22050, 1)
		var list bytes.Buffer
		list.WriteString("LIST")
		meta := []byte("INFOISFT" + "test encoder\x00\x00")
		binary.Write(&list, binary.LittleEndian, uint32(len(meta)))
		list.Write(meta)
		w.Write(append(wav, list.Bytes()...))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	audio, err := p.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(audio.PCM, pcm) {
		t.Errorf("PCM = %v, want %v (trailing chunk leaked into audio)", audio.PCM, pcm)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	t.Parallel()

	p, err := New("http://localhost:5000")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "   "); err == nil {
		t.Error("Synthesize(blank): got nil error")
	}
}

func TestSynthesizeServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "hi"); err == nil {
		t.Error("Synthesize with 500 response: got nil error")
	}
}

func TestSynthesizeResamples(t *testing.T) {
	t.Parallel()

	// 100 samples at 44100 -> ~50 samples at 22050.
	pcm := make([]byte, 200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buildWAV(t, pcm, 44100, 1))
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithOutputSampleRate(22050))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	audio, err := p.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio.SampleRate != 22050 {
		t.Errorf("SampleRate = %d, want 22050", audio.SampleRate)
	}
	if len(audio.PCM) != 100 {
		t.Errorf("resampled PCM length = %d, want 100", len(audio.PCM))
	}
}

func TestNewRejectsEmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("New(\"\"): got nil error")
	}
}

func TestParseWAVErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		wav  []byte
	}{
		{"too short", []byte("RIFF")},
		{"not riff", append([]byte("JUNK"), make([]byte, 40)...)},
		{"no data chunk", buildWAV(t, nil, 22050, 1)[:20]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := parseWAV(tt.wav); err == nil {
				t.Error("parseWAV: got nil error")
			}
		})
	}
}

func TestResampleMono16Identity(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 2, 3, 4}
	if got := resampleMono16(pcm, 22050, 22050); !bytes.Equal(got, pcm) {
		t.Errorf("same-rate resample changed data: %v", got)
	}
}

// Package piper provides a tts.Provider backed by a locally-running Piper
// HTTP server (https://github.com/rhasspy/piper). Piper operates in batch
// mode: one HTTP call per sentence returning a WAV file, whose header is
// stripped to yield raw PCM.
//
// Typical usage:
//
//	p, err := piper.New("http://localhost:5000",
//	    piper.WithTimeout(15*time.Second),
//	    piper.WithOutputSampleRate(22050),
//	)
//	audio, err := p.Synthesize(ctx, "Hello there.")
package piper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beakylabs/beaky/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second

	// maxWAVResponse caps how much of a synthesis response is read. A single
	// sentence at 22.05 kHz mono is well under this.
	maxWAVResponse = 32 << 20
)

// Option is a functional option for configuring a Piper Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout for calls to the Piper server.
// Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithVoice sets the voice/model name sent to multi-voice Piper servers.
// Empty (default) uses the server's loaded model.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithOutputSampleRate configures the provider to resample synthesised PCM to
// the given sample rate. When 0 (default), PCM is emitted at the model's
// native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider implements tts.Provider backed by a Piper HTTP server. It is safe
// for concurrent use; multiple Synthesize calls may run in parallel.
type Provider struct {
	serverURL  string
	voice      string
	httpClient *http.Client
	outputRate int // target sample rate; 0 = no resampling
}

// New creates a Provider targeting the Piper server at serverURL
// (e.g., "http://localhost:5000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("piper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider. It POSTs the text to the Piper server,
// parses the WAV response, and returns raw PCM.
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("piper: text must not be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/", strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("piper: create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "audio/wav")
	if p.voice != "" {
		q := req.URL.Query()
		q.Set("voice", p.voice)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("piper: POST /: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("piper: POST / returned status %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(io.LimitReader(resp.Body, maxWAVResponse))
	if err != nil {
		return nil, fmt.Errorf("piper: read WAV response: %w", err)
	}

	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}

	pcm := wav[info.DataOffset : info.DataOffset+info.DataSize]
	rate := info.SampleRate
	if p.outputRate > 0 && info.SampleRate != p.outputRate && info.Channels == 1 {
		pcm = resampleMono16(pcm, info.SampleRate, p.outputRate)
		rate = p.outputRate
	}

	return &tts.Audio{
		PCM:        pcm,
		SampleRate: rate,
		Channels:   info.Channels,
	}, nil
}

// ---- WAV parsing ----

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int // byte offset of the first PCM sample
	DataSize   int // byte length of the data chunk, clamped to the buffer
	SampleRate int // samples per second
	Channels   int // 1 = mono, 2 = stereo
}

// parseWAV scans the RIFF/WAVE container in wav and returns the data offset
// and audio format from the "fmt " sub-chunk. This is more robust than
// hardcoding a fixed 44-byte offset because the fmt chunk size may vary.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("piper: WAV response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("piper: WAV response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("piper: WAV response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			info.DataSize = chunkSize
			// A trailing LIST/INFO chunk may follow data; anything past the
			// declared size is metadata, not PCM.
			if info.DataOffset+info.DataSize > len(wav) {
				info.DataSize = len(wav) - info.DataOffset
			}
			if !foundFmt {
				// fmt should appear before data; fall back to Piper defaults.
				info.SampleRate = 22050
				info.Channels = 1
			}
			return info, nil
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd size).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("piper: WAV response missing data chunk")
}

// resampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate, the input is returned unchanged.
func resampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

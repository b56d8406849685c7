package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/beakylabs/beaky/internal/kiosk"
	"github.com/beakylabs/beaky/internal/vision"
	"github.com/beakylabs/beaky/pkg/provider/caption"
)

// Compile-time assertion that Perceptor satisfies the orchestrator contract.
var _ kiosk.Perceptor = (*Perceptor)(nil)

// Perceptor interprets a single camera frame: a scene caption for the prompt
// and a face embedding for identity. Either half may be absent (nil
// captioner, nil embedder); only the camera itself is mandatory.
type Perceptor struct {
	camera    *vision.Camera
	embedder  *vision.FaceEmbedder
	captioner caption.Captioner
}

// NewPerceptor wires a camera to the optional captioner and face embedder.
func NewPerceptor(camera *vision.Camera, embedder *vision.FaceEmbedder, captioner caption.Captioner) *Perceptor {
	return &Perceptor{
		camera:    camera,
		embedder:  embedder,
		captioner: captioner,
	}
}

// Perceive captures one frame and runs captioning and face embedding on it.
// A camera failure is returned to the caller; caption and embedding failures
// degrade to an empty field so a turn never dies on perception alone.
func (p *Perceptor) Perceive(ctx context.Context) (kiosk.Perception, error) {
	snap, err := p.camera.Snapshot(ctx)
	if err != nil {
		return kiosk.Perception{}, err
	}
	defer snap.Close()

	per := kiosk.Perception{At: time.Now()}

	if p.captioner != nil {
		text, err := p.captioner.Caption(ctx, snap.JPEG)
		if err != nil {
			slog.Warn("scene captioning failed", "err", err)
		} else {
			per.Caption = text
		}
	}

	if p.embedder != nil {
		emb, err := p.embedder.Embed(snap.Mat())
		switch {
		case errors.Is(err, vision.ErrNoFace):
			// Nobody in frame; identity stays anonymous for this turn.
		case err != nil:
			slog.Warn("face embedding failed", "err", err)
		default:
			per.Embedding = emb
		}
	}

	return per, nil
}

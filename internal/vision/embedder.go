package vision

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// EmbeddingDim is the length of an SFace feature vector.
const EmbeddingDim = 128

const (
	detectScoreThreshold = 0.7
	detectNMSThreshold   = 0.3
	detectTopK           = 200
	detectInputSize      = 320
)

// ErrNoFace is returned by Embed when no face clears the detection threshold.
var ErrNoFace = fmt.Errorf("vision: no face detected")

// FaceEmbedder turns a frame into a face embedding: YuNet locates the largest
// confident face, SFace extracts its feature vector. One lock serialises
// inference; the OpenCV handles are not goroutine safe.
type FaceEmbedder struct {
	mu         sync.Mutex
	detector   gocv.FaceDetectorYN
	recognizer gocv.FaceRecognizerSF
}

// NewFaceEmbedder loads both ONNX models. A missing model file is an error;
// the caller treats it as the camera-identity capability being absent rather
// than a fatal condition.
func NewFaceEmbedder(detectorModel, recognizerModel string) (*FaceEmbedder, error) {
	if _, err := os.Stat(detectorModel); err != nil {
		return nil, fmt.Errorf("vision: face detector model: %w", err)
	}
	if _, err := os.Stat(recognizerModel); err != nil {
		return nil, fmt.Errorf("vision: face recognizer model: %w", err)
	}

	detector := gocv.NewFaceDetectorYNWithParams(
		detectorModel,
		"",
		image.Pt(detectInputSize, detectInputSize),
		detectScoreThreshold,
		detectNMSThreshold,
		detectTopK,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)
	recognizer := gocv.NewFaceRecognizerSF(recognizerModel, "")

	return &FaceEmbedder{detector: detector, recognizer: recognizer}, nil
}

// Embed detects the most confident face in img and returns its SFace feature
// vector. Returns ErrNoFace when the frame contains no usable face.
func (e *FaceEmbedder) Embed(img gocv.Mat) ([]float32, error) {
	if img.Empty() {
		return nil, fmt.Errorf("vision: empty frame")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	e.detector.Detect(img, &faces)

	best := bestFaceRow(&faces)
	if best < 0 {
		return nil, ErrNoFace
	}

	// YuNet row layout: x, y, w, h, 10 landmark coords, score.
	faceBox := faces.RowRange(best, best+1)
	defer faceBox.Close()

	aligned := gocv.NewMat()
	defer aligned.Close()
	e.recognizer.AlignCrop(img, faceBox, &aligned)
	if aligned.Empty() {
		return nil, fmt.Errorf("vision: face alignment failed")
	}

	feature := gocv.NewMat()
	defer feature.Close()
	e.recognizer.Feature(aligned, &feature)
	if feature.Empty() || feature.Cols() == 0 {
		return nil, fmt.Errorf("vision: feature extraction failed")
	}

	emb := make([]float32, feature.Cols())
	for i := range emb {
		emb[i] = feature.GetFloatAt(0, i)
	}
	return emb, nil
}

// bestFaceRow returns the row index with the highest detection score, or -1
// when the detector found nothing.
func bestFaceRow(faces *gocv.Mat) int {
	best := -1
	var bestScore float32
	for r := 0; r < faces.Rows(); r++ {
		score := faces.GetFloatAt(r, 14)
		if best < 0 || score > bestScore {
			best = r
			bestScore = score
		}
	}
	return best
}

// Close releases both model handles.
func (e *FaceEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detector.Close()
	e.recognizer.Close()
	return nil
}

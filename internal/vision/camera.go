// Package vision captures camera frames and extracts face embeddings for the
// identity store. Both capabilities are optional: a kiosk without a camera (or
// without the face models on disk) runs in degraded mode and simply skips
// scene captions and identity.
package vision

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Snapshot is one captured frame. JPEG holds the encoded image for the
// captioner; Mat exposes the raw frame for face embedding. Close releases the
// underlying matrix and must be called.
type Snapshot struct {
	JPEG []byte

	mat gocv.Mat
}

// Mat returns the decoded frame. Valid until Close.
func (s *Snapshot) Mat() gocv.Mat { return s.mat }

// Close releases the frame's native memory.
func (s *Snapshot) Close() {
	if !s.mat.Empty() {
		s.mat.Close()
	}
}

// Camera reads single frames from a video device. The device is opened lazily
// on the first Snapshot and kept open between turns; a failed read closes it
// so the next turn retries from scratch.
type Camera struct {
	mu       sync.Mutex
	deviceID int
	cap      *gocv.VideoCapture
}

// NewCamera creates a Camera for the given device index. The device is not
// touched until the first Snapshot.
func NewCamera(deviceID int) *Camera {
	return &Camera{deviceID: deviceID}
}

// Snapshot captures one frame and encodes it as JPEG. The caller owns the
// returned Snapshot and must Close it.
func (c *Camera) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cap == nil {
		cap, err := gocv.OpenVideoCapture(c.deviceID)
		if err != nil {
			return nil, fmt.Errorf("vision: open camera %d: %w", c.deviceID, err)
		}
		c.cap = cap
	}

	img := gocv.NewMat()
	if ok := c.cap.Read(&img); !ok || img.Empty() {
		img.Close()
		c.cap.Close()
		c.cap = nil
		return nil, fmt.Errorf("vision: camera %d read failed", c.deviceID)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		img.Close()
		return nil, fmt.Errorf("vision: encode frame: %w", err)
	}
	defer buf.Close()

	jpeg := make([]byte, len(buf.GetBytes()))
	copy(jpeg, buf.GetBytes())

	return &Snapshot{JPEG: jpeg, mat: img}, nil
}

// Close releases the capture device if it was opened.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil
	}
	err := c.cap.Close()
	c.cap = nil
	return err
}

// Package mock provides a test double for the caption.Captioner interface.
package mock

import (
	"context"
	"sync"

	"github.com/beakylabs/beaky/pkg/provider/caption"
)

// Captioner is a mock implementation of caption.Captioner.
type Captioner struct {
	mu sync.Mutex

	// Text is returned from every Caption call.
	Text string

	// Err, if non-nil, is returned instead.
	Err error

	// Calls records the image payload of every Caption invocation.
	Calls [][]byte
}

// Caption records the call and returns Text, Err.
func (c *Captioner) Caption(ctx context.Context, jpeg []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cp := make([]byte, len(jpeg))
	copy(cp, jpeg)
	c.mu.Lock()
	c.Calls = append(c.Calls, cp)
	c.mu.Unlock()
	return c.Text, c.Err
}

// CallCount reports how many times Caption was called.
func (c *Captioner) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

var _ caption.Captioner = (*Captioner)(nil)

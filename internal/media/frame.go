package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one JPEG image handed from an engine to the UI side.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Data      []byte
}

// FrameCell is a single-slot, swap-on-write handoff between the engine's
// frame callback (producer) and the UI (consumer). Store never blocks; Load
// always returns the newest frame.
type FrameCell struct {
	seq    atomic.Uint64
	latest atomic.Pointer[Frame]
}

// NewFrameCell returns a cell holding the placeholder frame.
func NewFrameCell() *FrameCell {
	c := &FrameCell{}
	c.Reset()
	return c
}

// Store publishes data as the newest frame. It is safe to use as a FrameFunc.
func (c *FrameCell) Store(data []byte) {
	c.latest.Store(&Frame{
		Seq:       c.seq.Add(1),
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Load returns the newest frame.
func (c *FrameCell) Load() *Frame {
	return c.latest.Load()
}

// Reset replaces the current frame with the black placeholder.
func (c *FrameCell) Reset() {
	c.latest.Store(&Frame{
		Seq:       c.seq.Add(1),
		Timestamp: time.Now(),
		Data:      Placeholder(),
	})
}

var (
	placeholderOnce sync.Once
	placeholder     []byte
)

// Placeholder returns a 200x200 black JPEG shown while nothing is streaming.
func Placeholder() []byte {
	placeholderOnce.Do(func() {
		placeholder = EncodeSolid(200, 200, color.Black)
	})
	return placeholder
}

// EncodeSolid encodes a w x h image filled with c as JPEG.
func EncodeSolid(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	// Encoding an in-memory RGBA image cannot fail.
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80})
	return buf.Bytes()
}

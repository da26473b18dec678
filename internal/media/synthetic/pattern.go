package synthetic

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/babelcloud/gbox/packages/caster/internal/media"
)

const (
	fullWidth  = 640
	fullHeight = 360
	maxWidth   = 1280
	maxHeight  = 720
)

var bars = [][3]uint8{
	{235, 235, 235},
	{235, 235, 16},
	{16, 235, 235},
	{16, 235, 16},
	{235, 16, 235},
	{235, 16, 16},
	{16, 16, 235},
}

// frameSize maps a capture region to output dimensions, halving until the
// frame fits maxWidth x maxHeight.
func frameSize(region media.Region) (int, int) {
	if region.IsFullScreen() {
		return fullWidth, fullHeight
	}
	w, h := int(region.Width()), int(region.Height())
	for w > maxWidth || h > maxHeight {
		w, h = (w+1)/2, (h+1)/2
	}
	return max(w, 1), max(h, 1)
}

// renderPattern draws scrolling color bars, or black when blank is set.
func renderPattern(w, h int, tick uint64, blank bool) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if !blank {
		shift := int(tick % uint64(w))
		for y := 0; y < h; y++ {
			row := img.Pix[y*img.Stride:]
			for x := 0; x < w; x++ {
				c := bars[((x+shift)%w)*len(bars)/w]
				i := x * 4
				row[i], row[i+1], row[i+2] = c[0], c[1], c[2]
				row[i+3] = 0xff
			}
		}
	} else {
		for i := 3; i < len(img.Pix); i += 4 {
			img.Pix[i] = 0xff
		}
	}

	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70})
	return buf.Bytes()
}

// jpegPayloader splits an encoded frame into MTU sized fragments. It
// implements rtp.Payloader.
type jpegPayloader struct{}

func (jpegPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if mtu == 0 || len(payload) == 0 {
		return nil
	}
	var out [][]byte
	for len(payload) > 0 {
		n := min(int(mtu), len(payload))
		frag := make([]byte, n)
		copy(frag, payload[:n])
		out = append(out, frag)
		payload = payload[n:]
	}
	return out
}

// isJPEGStart reports whether p begins with a JPEG start-of-image marker.
func isJPEGStart(p []byte) bool {
	return len(p) >= 2 && p[0] == 0xff && p[1] == 0xd8
}

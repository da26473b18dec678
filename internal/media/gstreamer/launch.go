package gstreamer

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/babelcloud/gbox/packages/caster/internal/media"
)

// Element names looked up after parsing.
const (
	sourceName  = "source"
	balanceName = "balance"
	fanoutName  = "fanout"
	previewName = "preview"
	framesName  = "frames"
)

// casterLaunch describes the send pipeline:
//
//	screen source -> capsfilter(framerate) -> videobalance -> tee
//	  tee -> queue -> videoconvert -> x264enc -> rtph264pay -> multiudpsink
//	  tee -> queue -> videoconvert -> jpegenc -> appsink (preview)
func casterLaunch(opts media.BuildOptions) (string, error) {
	source, err := sourceLaunch(opts.Region)
	if err != nil {
		return "", err
	}
	capture := strings.Join([]string{
		source,
		fmt.Sprintf("video/x-raw,framerate=%d/1", opts.Framerate),
		"videobalance name=" + balanceName,
		"tee name=t",
	}, " ! ")
	stream := "t. ! queue ! videoconvert ! x264enc tune=zerolatency ! rtph264pay config-interval=1 pt=96 ! multiudpsink name=" + fanoutName
	preview := "t. ! queue leaky=downstream max-size-buffers=1 ! videoconvert ! jpegenc ! appsink name=" + previewName +
		" max-buffers=1 drop=true sync=false caps=image/jpeg"

	return capture + " " + stream + " " + preview, nil
}

// receiverLaunch describes the receive pipeline:
//
//	udpsrc -> rtph264depay -> decodebin -> videoconvert -> jpegenc -> appsink
func receiverLaunch(opts media.BuildOptions) string {
	return strings.Join([]string{
		fmt.Sprintf("udpsrc port=%d caps=\"application/x-rtp,media=video,clock-rate=90000,encoding-name=H264,payload=96\"", opts.MediaPort),
		"rtph264depay",
		"decodebin",
		"videoconvert",
		"jpegenc",
		"appsink name=" + framesName + " max-buffers=3 drop=true sync=false caps=image/jpeg",
	}, " ! ")
}

func sourceLaunch(region media.Region) (string, error) {
	switch runtime.GOOS {
	case "linux":
		return fmt.Sprintf("ximagesrc name=%s use-damage=false startx=%d starty=%d endx=%d endy=%d",
			sourceName, region.X0, region.Y0, endCoord(region.X1), endCoord(region.Y1)), nil
	case "windows":
		return fmt.Sprintf("d3d11screencapturesrc name=%s show-cursor=true crop-x=%d crop-y=%d crop-width=%d crop-height=%d",
			sourceName, region.X0, region.Y0, region.Width(), region.Height()), nil
	default:
		return "", fmt.Errorf("screen capture is not supported on %s", runtime.GOOS)
	}
}

// endCoord converts an exclusive region edge to ximagesrc's inclusive end
// coordinate. Zero keeps the full screen meaning.
func endCoord(v uint32) uint32 {
	if v == 0 {
		return 0
	}
	return v - 1
}

// sourceProperties lists the live properties that move the capture region.
func sourceProperties(region media.Region) map[string]uint {
	if runtime.GOOS == "windows" {
		return map[string]uint{
			"crop-x":      uint(region.X0),
			"crop-y":      uint(region.Y0),
			"crop-width":  uint(region.Width()),
			"crop-height": uint(region.Height()),
		}
	}
	return map[string]uint{
		"startx": uint(region.X0),
		"starty": uint(region.Y0),
		"endx":   uint(endCoord(region.X1)),
		"endy":   uint(endCoord(region.Y1)),
	}
}

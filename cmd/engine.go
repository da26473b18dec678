package cmd

import (
	"strings"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/babelcloud/gbox/packages/caster/internal/media/gstreamer"
	"github.com/babelcloud/gbox/packages/caster/internal/media/synthetic"
)

// Engine names accepted by NewEngine.
const (
	EngineGStreamer = "gstreamer"
	EngineSynthetic = "synthetic"
)

// NewEngine returns the media engine registered under name.
func NewEngine(name string) (media.Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case EngineGStreamer, "":
		return gstreamer.NewEngine(), nil
	case EngineSynthetic:
		return synthetic.NewEngine(), nil
	default:
		return nil, errdefs.Validation("media engine", name, "expected gstreamer or synthetic")
	}
}

package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	d := viper.New()
	setDefaults(d)

	assert.Equal(t, 9000, d.GetInt("control.port"))
	assert.Equal(t, 9001, d.GetInt("media.port"))
	assert.Equal(t, "gstreamer", d.GetString("media.engine"))
	assert.Equal(t, 30, d.GetInt("media.framerate"))
	assert.Equal(t, 5*time.Second, d.GetDuration("signal.connect_timeout"))
	assert.Equal(t, "127.0.0.1:29900", d.GetString("api.address"))
	assert.NotEmpty(t, d.GetString("caster.home"))
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("CASTER_CONTROL_PORT", "9100")
	t.Setenv("CASTER_MEDIA_ENGINE", "synthetic")

	assert.Equal(t, 9100, GetControlPort())
	assert.Equal(t, "synthetic", GetMediaEngine())
}

func TestStopTimeoutOverride(t *testing.T) {
	t.Setenv("CASTER_STOP_TIMEOUT", "7s")
	assert.Equal(t, 7*time.Second, GetStopTimeout())
}

func TestCasterHomeOverride(t *testing.T) {
	t.Setenv("CASTER_HOME", "/tmp/caster-home")
	assert.Equal(t, "/tmp/caster-home", GetCasterHome())
}

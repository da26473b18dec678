package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultControlPort is the caster's signaling endpoint.
	DefaultControlPort = 9000
	// DefaultMediaPort is where receivers listen for the RTP stream.
	DefaultMediaPort = 9001
)

var v *viper.Viper

func init() {
	v = viper.New()
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("CASTER")
	v.AutomaticEnv()
	v.BindEnv("control.port", "CASTER_CONTROL_PORT")
	v.BindEnv("media.port", "CASTER_MEDIA_PORT")
	v.BindEnv("media.engine", "CASTER_MEDIA_ENGINE")
	v.BindEnv("media.framerate", "CASTER_MEDIA_FRAMERATE")
	v.BindEnv("signal.connect_timeout", "CASTER_CONNECT_TIMEOUT")
	v.BindEnv("signal.keepalive", "CASTER_KEEPALIVE")
	v.BindEnv("session.stop_timeout", "CASTER_STOP_TIMEOUT")
	v.BindEnv("api.enabled", "CASTER_API_ENABLED")
	v.BindEnv("api.address", "CASTER_API_ADDRESS")
	v.BindEnv("caster.home", "CASTER_HOME")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths := []string{
		".",
		v.GetString("caster.home"),
		"/etc/caster",
	}

	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("control.port", DefaultControlPort)
	v.SetDefault("media.port", DefaultMediaPort)
	v.SetDefault("media.engine", "gstreamer")
	v.SetDefault("media.framerate", 30)
	v.SetDefault("signal.connect_timeout", 5*time.Second)
	v.SetDefault("signal.keepalive", 5*time.Second)
	v.SetDefault("session.stop_timeout", 3*time.Second)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.address", "127.0.0.1:29900")
	v.SetDefault("caster.home", filepath.Join(xdg.Home, ".caster"))
}

// BindFlag lets a command line flag override a config key.
func BindFlag(key string, flag *pflag.Flag) {
	if flag == nil {
		return
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s to %s: %v", flag.Name, key, err))
	}
}

// Set overrides a key for the lifetime of the process.
func Set(key string, value interface{}) {
	v.Set(key, value)
}

// GetControlPort returns the TCP port of the signaling endpoint
func GetControlPort() int {
	return v.GetInt("control.port")
}

// GetMediaPort returns the UDP port receivers consume media on
func GetMediaPort() int {
	return v.GetInt("media.port")
}

// GetMediaEngine returns the configured media engine name
func GetMediaEngine() string {
	return v.GetString("media.engine")
}

// GetFramerate returns the capture framerate
func GetFramerate() int {
	return v.GetInt("media.framerate")
}

// GetConnectTimeout bounds dialing the caster's control endpoint
func GetConnectTimeout() time.Duration {
	return v.GetDuration("signal.connect_timeout")
}

// GetKeepalive returns the control channel ping interval
func GetKeepalive() time.Duration {
	return v.GetDuration("signal.keepalive")
}

// GetStopTimeout bounds a session teardown
func GetStopTimeout() time.Duration {
	return v.GetDuration("session.stop_timeout")
}

// IsAPIEnabled reports whether the local control API is served
func IsAPIEnabled() bool {
	return v.GetBool("api.enabled")
}

// GetAPIAddress returns the listen address of the local control API
func GetAPIAddress() string {
	return v.GetString("api.address")
}

// GetCasterHome returns the caster home directory
func GetCasterHome() string {
	return v.GetString("caster.home")
}

package pansdk

import (
	"log/slog"
	"time"
)

const (
	DefaultXpanURL = "https://pan.baidu.com/rest/2.0/xpan"
	DefaultPcsURL  = "https://pcs.baidu.com/rest/2.0/pcs"
	DefaultAppID   = "778750"
	DefaultTimeout = 5 * time.Minute
)

// Config is the configuration of the pan HTTP client
type Config struct {
	XpanURL     string // metadata API, defaults to DefaultXpanURL
	PcsURL      string // content API, defaults to DefaultPcsURL
	AccessToken string // required
	AppID       string
	DeviceID    string // sent as HeaderDeviceID when set
	Timeout     time.Duration
	Logger      *slog.Logger
}

func (c *Config) Validate() error {
	if c.AccessToken == "" {
		return ErrNoAccessToken
	}
	if c.XpanURL == "" || c.PcsURL == "" {
		return ErrNoServerURL
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.XpanURL == "" {
		c.XpanURL = DefaultXpanURL
	}
	if c.PcsURL == "" {
		c.PcsURL = DefaultPcsURL
	}
	if c.AppID == "" {
		c.AppID = DefaultAppID
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

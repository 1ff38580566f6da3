// Package camera captures JPEG frames from a V4L2/USB camera through OpenCV.
package camera

// Config holds capture settings. They can be changed at runtime
// through the Manager.
type Config struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Framerate  int     `json:"framerate"`
	Quality    int     `json:"quality"`    // JPEG quality 1-100
	Brightness float64 `json:"brightness"` // -1.0 to +1.0, 0 leaves the driver default
	FlipV      bool    `json:"flip_v"`     // camera mounted upside down
}

// DefaultConfig is 640x480, matching the detector's input scale.
func DefaultConfig() Config {
	return Config{
		Width:     640,
		Height:    480,
		Framerate: 15,
		Quality:   85,
	}
}

// Validate returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errs []string
	if c.Width < 160 || c.Width > 1920 {
		errs = append(errs, "width must be between 160 and 1920")
	}
	if c.Height < 120 || c.Height > 1080 {
		errs = append(errs, "height must be between 120 and 1080")
	}
	if c.Framerate < 1 || c.Framerate > 60 {
		errs = append(errs, "framerate must be between 1 and 60")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, "quality must be between 1 and 100")
	}
	if c.Brightness < -1.0 || c.Brightness > 1.0 {
		errs = append(errs, "brightness must be between -1.0 and 1.0")
	}
	return errs
}

// Presets returns the named configurations selectable from the dashboard.
func Presets() map[string]Config {
	low := DefaultConfig()
	low.Width, low.Height, low.Quality = 320, 240, 70

	hd := DefaultConfig()
	hd.Width, hd.Height = 1280, 720

	night := DefaultConfig()
	night.Framerate = 5
	night.Brightness = 0.4

	return map[string]Config{
		"default": DefaultConfig(),
		"low":     low,
		"hd":      hd,
		"night":   night,
	}
}

package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// ErrNotOpen is returned when reading from a closed device.
var ErrNotOpen = errors.New("camera: device is not open")

// Device is an OpenCV video capture that yields JPEG frames.
// It is safe for concurrent use; reads are serialized.
type Device struct {
	id  int
	mu  sync.Mutex
	cap *gocv.VideoCapture
	cfg Config
	img gocv.Mat
}

// Open opens device id with cfg applied.
func Open(id int, cfg Config) (*Device, error) {
	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("camera: open device %d: %w", id, err)
	}
	d := &Device{id: id, cap: vc, img: gocv.NewMat()}
	d.apply(cfg)
	return d, nil
}

func (d *Device) apply(cfg Config) {
	d.cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	d.cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	d.cap.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	if cfg.Brightness != 0 {
		d.cap.Set(gocv.VideoCaptureBrightness, cfg.Brightness)
	}
	d.cfg = cfg
}

// Apply reconfigures the open device. Used as Manager.OnConfigChange.
func (d *Device) Apply(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap == nil {
		return ErrNotOpen
	}
	d.apply(cfg)
	return nil
}

// CaptureFrame reads one frame and encodes it as JPEG.
func (d *Device) CaptureFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap == nil {
		return nil, ErrNotOpen
	}
	if ok := d.cap.Read(&d.img); !ok || d.img.Empty() {
		return nil, fmt.Errorf("camera: device %d returned no frame", d.id)
	}
	if d.cfg.FlipV {
		gocv.Flip(d.img, &d.img, 0)
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, d.img, []int{gocv.IMWriteJpegQuality, d.cfg.Quality})
	if err != nil {
		return nil, fmt.Errorf("camera: encode: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Close releases the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap == nil {
		return nil
	}
	err := d.cap.Close()
	d.img.Close()
	d.cap = nil
	return err
}

package scanner

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// SnapshotCamera reads frames from a camera that serves its current picture
// over HTTP, as most IP and USB-bridge door cameras do.
type SnapshotCamera struct {
	url string
	hc  *http.Client
}

func NewSnapshotCamera(url string) *SnapshotCamera {
	return &SnapshotCamera{
		url: url,
		hc: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Open probes the camera once so an unreachable or locked camera is reported
// before the operator is told scanning has started.
func (c *SnapshotCamera) Open(ctx context.Context) (Device, error) {
	dev := &snapshotDevice{camera: c}
	if _, err := dev.Frame(ctx); err != nil {
		return nil, err
	}
	return dev, nil
}

type snapshotDevice struct {
	camera *SnapshotCamera
}

func (d *snapshotDevice) Frame(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.camera.url, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: http.NewRequest: %w", err)
	}

	resp, err := d.camera.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("snapshot: status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	return img, nil
}

func (d *snapshotDevice) Close() error {
	d.camera.hc.CloseIdleConnections()
	return nil
}

// QRDecoder decodes QR codes with zxing.
type QRDecoder struct {
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

func NewQRDecoder() *QRDecoder {
	return &QRDecoder{
		reader: qrcode.NewQRCodeReader(),
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

func (d *QRDecoder) Decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}

	result, err := d.reader.Decode(bmp, d.hints)
	if err != nil {
		return "", err
	}
	return result.GetText(), nil
}

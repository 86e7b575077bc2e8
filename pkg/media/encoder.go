package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// EncodeOptions controls JPEG re-encoding before an image is sent to the
// inference server.
type EncodeOptions struct {
	// Quality is the JPEG quality (1-100).
	Quality int
	// MaxDimension downscales images whose longest side exceeds it.
	// Zero disables resizing.
	MaxDimension int
}

// DefaultEncodeOptions returns options that keep the image at its original size.
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{Quality: 90, MaxDimension: 0}
}

// Load decodes an image file as RGB, applying EXIF orientation.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	return img, nil
}

// FromRGB reinterprets a raw 3-bytes-per-pixel buffer as an image.
func FromRGB(pix []byte, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}
	if len(pix) != width*height*3 {
		return nil, fmt.Errorf("pixel buffer length %d does not match %dx%d RGB image", len(pix), width, height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		img.Pix[i*4] = pix[i*3]
		img.Pix[i*4+1] = pix[i*3+1]
		img.Pix[i*4+2] = pix[i*3+2]
		img.Pix[i*4+3] = 0xff
	}
	return img, nil
}

// EncodeJPEG re-encodes an image as JPEG, downscaling first when the options
// set a maximum dimension.
func EncodeJPEG(img image.Image, opts EncodeOptions) ([]byte, error) {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultEncodeOptions().Quality
	}
	if opts.MaxDimension > 0 {
		img = downscale(img, opts.MaxDimension)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeDataURL converts an image into a self-contained JPEG data URL suitable
// for embedding in a chat message.
func EncodeDataURL(img image.Image, opts EncodeOptions) (string, error) {
	data, err := EncodeJPEG(img, opts)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}

func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxDim && height <= maxDim {
		return img
	}

	if width >= height {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos)
}

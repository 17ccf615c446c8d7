package detector

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/facetrack/internal/constants"
)

const jpegQuality = 85

// PrepareFrame decodes a captured frame and returns JPEG bytes whose longest
// edge does not exceed the frame size cap, keeping aspect ratio. The detector
// downsizes internally anyway, so larger frames only cost upload time. Bytes
// that do not decode as an image are an error.
func PrepareFrame(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not decode frame: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= constants.MaxFrameSize && height <= constants.MaxFrameSize {
		// Re-encode as JPEG so the detector always sees one format.
		return encodeJPEG(img)
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = constants.MaxFrameSize
		newHeight = int(float64(height) * float64(constants.MaxFrameSize) / float64(width))
	} else {
		newHeight = constants.MaxFrameSize
		newWidth = int(float64(width) * float64(constants.MaxFrameSize) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	return encodeJPEG(resized)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("could not encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// internal/pipeline/artifact.go
package pipeline

import (
	"bytes"
	"fmt"
	"image"
	// Decoders for the formats an inline or fetched table image may use.
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
)

// FormatPNG is the only format an Artifact is handed out in.
const FormatPNG = "png"

// Artifact is the rendered table. Ownership passes to the caller; the
// pipeline keeps no reference to it.
type Artifact struct {
	Data         []byte
	Format       string
	Strategy     string
	StyleApplied bool
	RequestID    string
}

// Size is the byte length of the image.
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// checkImage confirms data is a decodable raster image and returns its
// format name and dimensions.
func checkImage(data []byte) (string, image.Point, error) {
	if len(data) == 0 {
		return "", image.Point{}, fmt.Errorf("image data is empty")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", image.Point{}, fmt.Errorf("not a supported image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", image.Point{}, fmt.Errorf("image has empty bounds %dx%d", cfg.Width, cfg.Height)
	}
	return format, image.Pt(cfg.Width, cfg.Height), nil
}

// toPNG returns data unchanged when it is already a PNG and re-encodes it
// otherwise.
func toPNG(data []byte) ([]byte, error) {
	format, _, err := checkImage(data)
	if err != nil {
		return nil, err
	}
	if format == FormatPNG {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s image: %w", format, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

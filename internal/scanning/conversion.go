package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
)

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Receipts are single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// decodeImage decodes any supported format into an image
func decodeImage(imageData []byte, mimeType string) (image.Image, error) {
	if mimeType == "application/pdf" {
		return pdfToImage(imageData)
	}

	// Go's standard image package doesn't support HEIC (common on iPhones)
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// isHEICFormat checks for the ftyp box with a HEIC-related brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// exifOrientation reads the EXIF orientation tag, defaulting to 1
func exifOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// applyOrientation rotates/flips img so it displays upright for the given EXIF orientation
func applyOrientation(img image.Image, orientation int) image.Image {
	if orientation < 2 || orientation > 8 {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dw, dh := w, h
	if orientation >= 5 {
		dw, dh = h, w
	}

	out := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch orientation {
			case 2: // flip horizontal
				dx, dy = w-1-x, y
			case 3: // rotate 180
				dx, dy = w-1-x, h-1-y
			case 4: // flip vertical
				dx, dy = x, h-1-y
			case 5: // transpose
				dx, dy = y, x
			case 6: // rotate 90 clockwise
				dx, dy = h-1-y, x
			case 7: // transverse
				dx, dy = h-1-y, w-1-x
			case 8: // rotate 90 counter-clockwise
				dx, dy = y, w-1-x
			}
			out.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// downscale shrinks img so its longest side is at most maxSide, keeping the aspect ratio
func downscale(img image.Image, maxSide int) (image.Image, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if maxSide <= 0 || longest <= maxSide {
		return img, false
	}

	scale := float64(maxSide) / float64(longest)
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst, true
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// prepareImageData normalizes an upload into PNG bytes the models accept.
// PDFs are rendered, EXIF orientation is applied and images larger than
// maxSide are downscaled. Returns the image data and its MIME type.
func prepareImageData(imageData []byte, contentType string, maxSide int) ([]byte, string, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	img, err := decodeImage(imageData, mimeType)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrUnreadableImage, err)
	}

	changed := false
	if orientation := exifOrientation(imageData); orientation != 1 {
		img = applyOrientation(img, orientation)
		changed = true
	}

	var resized bool
	img, resized = downscale(img, maxSide)
	changed = changed || resized

	// PNGs that need no rotation or resizing go through untouched
	if !changed && bytes.HasPrefix(imageData, pngSignature) {
		return imageData, "image/png", nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), "image/png", nil
}

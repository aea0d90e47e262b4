// Package imaging normalizes uploaded receipt files to PNG so the OCR and AI
// collaborators only ever see one format.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimePDF  = "application/pdf"
)

// NormalizeMime lowercases a content type, drops parameters and defaults to
// JPEG.
func NormalizeMime(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		return MimeJPEG
	}
	return mimeType
}

// MimeByExtension guesses a receipt file's content type from its name. It
// returns "" for extensions that are not receipt formats.
func MimeByExtension(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return MimeJPEG
	case ".png":
		return MimePNG
	case ".pdf":
		return MimePDF
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return ""
}

// ToPNG converts a PDF (first page) or any supported image to PNG. PNG input
// is returned unchanged.
func ToPNG(data []byte, contentType string) ([]byte, error) {
	mimeType := NormalizeMime(contentType)
	switch {
	case mimeType == MimePDF || isPDF(data):
		out, err := pdfToPNG(data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return out, nil
	case mimeType == MimePNG && isPNG(data):
		return data, nil
	default:
		out, err := imageToPNG(data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("converting image to PNG: %w", err)
		}
		return out, nil
	}
}

// pdfToPNG renders the first page; receipts are single page.
func pdfToPNG(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encode(img)
}

func imageToPNG(data []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// Go's image package has no HEIC decoder (iPhone photos).
	if isHEIC(data) || isHEICMime(mimeType) {
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("unsupported image format (want JPEG, PNG, GIF, HEIC, PDF): %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}
	return encode(img)
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func isPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngMagic)
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// isHEIC looks for an ftyp box with a HEIF family brand at offset 4.
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMime(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	// extra upload formats
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	ErrNoFrame      = errors.New("no frame provided")
	ErrInvalidImage = errors.New("failed to decode image")
)

// frameFields are the multipart field names accepted for the upload, in order.
var frameFields = []string{"frame", "file", "image"}

// readImageBytes extracts the uploaded image from a multipart form, a JSON
// body with a base64 "image" field, or a raw body.
func readImageBytes(r *http.Request, maxBytes int64) ([]byte, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	switch {
	case mediaType == "multipart/form-data":
		return handleMultipartRequest(r, maxBytes)
	case mediaType == "application/json":
		return handleJSONRequest(r)
	default:
		return handleRawRequest(r)
	}
}

func handleMultipartRequest(r *http.Request, maxBytes int64) ([]byte, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, errors.Wrap(err, "parse multipart form")
	}

	for _, field := range frameFields {
		file, _, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read form file %q", field)
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return nil, ErrNoFrame
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Wrap(err, "decode JSON body")
	}
	if req.Image == "" {
		return nil, ErrNoFrame
	}

	// accept data URLs as sent by canvas.toDataURL
	payload := req.Image
	if i := strings.Index(payload, ","); strings.HasPrefix(payload, "data:") && i >= 0 {
		payload = payload[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.Wrap(err, "decode base64 image")
	}
	return data, nil
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		return nil, ErrNoFrame
	}
	return data, nil
}

// decodeImage decodes any registered format and applies EXIF orientation.
func decodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidImage, err.Error())
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.Wrap(ErrInvalidImage, "image is empty")
	}
	return img, nil
}

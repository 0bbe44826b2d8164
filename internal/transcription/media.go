package transcription

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// supportedMedia lists the containers the vendors accept.
var supportedMedia = []string{
	"audio/mpeg",
	"audio/wav",
	"audio/flac",
	"audio/ogg",
	"audio/aac",
	"audio/x-m4a",
	"audio/mp4",
	"audio/amr",
	"audio/webm",
	"video/mp4",
	"video/webm",
}

var supportedExtensions = func() map[string]bool {
	exts := map[string]bool{".wav": true, ".mp3": true, ".m4a": true}
	for _, m := range supportedMedia {
		if mt := mimetype.Lookup(m); mt != nil && mt.Extension() != "" {
			exts[mt.Extension()] = true
		}
	}
	return exts
}()

// ValidateAsset sniffs the asset and returns its media type, or an error if
// it is not a supported recording format.
func ValidateAsset(a Asset) (string, error) {
	if len(a.Data) > 0 {
		mt := mimetype.Detect(a.Data)
		for m := mt; m != nil; m = m.Parent() {
			if m.Is("application/octet-stream") {
				break
			}
			for _, s := range supportedMedia {
				if m.Is(s) {
					return mt.String(), nil
				}
			}
		}
		return "", fmt.Errorf("unsupported media type %s", mt.String())
	}

	if a.URL == "" {
		return "", fmt.Errorf("asset has neither data nor url")
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return "", fmt.Errorf("parse asset url: %w", err)
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if !supportedExtensions[ext] {
		return "", fmt.Errorf("unsupported media extension %q", ext)
	}
	return ext, nil
}

package llm

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
)

// ImageDataURL reads an image into a data URL for vision input. HEIC must be converted first.
func ImageDataURL(path string, maxMB int) (string, error) {
	if constants.IsHEICExt(filepath.Ext(path)) {
		return "", fmt.Errorf("unsupported format: heic must be converted before upload")
	}
	if maxMB <= 0 {
		maxMB = constants.MaxVisionMBDefault
	}
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if st.Size() > int64(maxMB)*1024*1024 {
		return "", fmt.Errorf("image too large: %d bytes (max %d MB)", st.Size(), maxMB)
	}
	return readAsDataURL(path)
}

func readAsDataURL(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	mt := mime.TypeByExtension("." + ext)
	if mt == "" {
		switch ext {
		case "jpg", "jpeg":
			mt = "image/jpeg"
		case "png":
			mt = "image/png"
		case "webp":
			mt = "image/webp"
		default:
			mt = "application/octet-stream"
		}
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}

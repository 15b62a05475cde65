package runner

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"strings"

	"github.com/richinsley/comfytryon/client"
	"github.com/vincent-petithory/dataurl"
)

// resolveImage makes the subject photo available in the server's input folder
// and returns the name LoadImage should use
func (r *Runner) resolveImage(image string) (string, error) {
	var name string
	switch {
	case strings.HasPrefix(image, "data:"):
		du, err := dataurl.DecodeString(image)
		if err != nil {
			return "", fmt.Errorf("failed to decode data url: %w", err)
		}
		if du.MediaType.Type != "image" {
			return "", fmt.Errorf("data url holds %s, not an image", du.ContentType())
		}
		// identical uploads map to the same name
		sum := sha256.Sum256(du.Data)
		filename := "tryon-" + hex.EncodeToString(sum[:8]) + imageExtension(du.ContentType())
		name, err = r.Client.UploadFileFromReader(bytes.NewReader(du.Data), filename, true, client.InputImageType, "")
		if err != nil {
			return "", err
		}
		slog.Info("Uploaded input image", "name", name, "bytes", len(du.Data))
	case isFile(image):
		var err error
		name, err = r.Client.UploadFileFromPath(image, false, client.InputImageType, "")
		if err != nil {
			return "", err
		}
		slog.Info("Uploaded input image", "path", image, "name", name)
	default:
		// already on the server
		return image, nil
	}

	// the registry was fetched before the upload
	if err := r.Client.NodeObjects().AppendComboValue("LoadImage", "image", name); err != nil {
		return "", err
	}
	return name, nil
}

func imageExtension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// uploadable reports whether resolveImage would upload image rather than expect
// it on the server
func uploadable(image string) bool {
	return strings.HasPrefix(image, "data:") || isFile(image)
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

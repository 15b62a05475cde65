package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

type ImageType string

const (
	InputImageType  ImageType = "input"
	TempImageType   ImageType = "temp"
	OutputImageType ImageType = "output"
)

// UploadFileFromReader uploads an image to the server's image store.  It returns the
// name the server stored the file under, which may differ from filename.
func (c *ComfyClient) UploadFileFromReader(r io.Reader, filename string, overwrite bool, filetype ImageType, subfolder string) (string, error) {
	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	formFile, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(formFile, r); err != nil {
		return "", err
	}

	_ = writer.WriteField("overwrite", strconv.FormatBool(overwrite))
	_ = writer.WriteField("type", string(filetype))
	if subfolder != "" {
		_ = writer.WriteField("subfolder", subfolder)
	}

	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL()+"/upload/image", &requestBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload %s: %s", filename, resp.Status)
	}

	// {"name": "photo (1).jpg", "subfolder": "", "type": "input"}
	var data struct {
		Name      string `json:"name"`
		Subfolder string `json:"subfolder"`
		Type      string `json:"type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	if data.Name == "" {
		return "", fmt.Errorf("upload %s: invalid response format", filename)
	}
	if data.Subfolder != "" {
		return data.Subfolder + "/" + data.Name, nil
	}
	return data.Name, nil
}

func (c *ComfyClient) UploadFileFromPath(filePath string, overwrite bool, filetype ImageType, subfolder string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return c.UploadFileFromReader(file, filepath.Base(filePath), overwrite, filetype, subfolder)
}

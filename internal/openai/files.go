package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// File is an uploaded raw file.
type File struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Status    string `json:"status"`
}

// UploadFile uploads the local file at path with purpose "assistants".
// A path that is missing, a directory or unreadable yields *NotFoundError
// without contacting the API.
func (c *Client) UploadFile(ctx context.Context, path string) (File, error) {
	body, contentType, err := multipartBody(path)
	if err != nil {
		return File{}, err
	}

	r := request{
		op:          "upload file",
		method:      http.MethodPost,
		path:        "/files",
		body:        body,
		contentType: contentType,
	}
	var f File
	if err := c.call(ctx, r, &f); err != nil {
		return File{}, err
	}
	if strings.TrimSpace(f.ID) == "" {
		return File{}, fmt.Errorf("openai: upload file: response carried no file id")
	}
	return f, nil
}

// DeleteFile deletes an uploaded raw file.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	r := request{op: "delete file", method: http.MethodDelete, path: "/files/" + url.PathEscape(fileID)}
	return c.call(ctx, r, nil)
}

// multipartBody reads path into an in-memory multipart form so the request
// can be replayed on retry.
func multipartBody(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", &NotFoundError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, "", &NotFoundError{Path: path, Err: errors.New("not a regular file")}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", &NotFoundError{Path: path, Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", "assistants"); err != nil {
		return nil, "", fmt.Errorf("openai: upload file: %w", err)
	}

	name := filepath.Base(path)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", contentTypeFor(name))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("openai: upload file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", &NotFoundError{Path: path, Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("openai: upload file: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

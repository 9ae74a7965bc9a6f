package domjudge

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
)

// formFile is one file part of a multipart upload.
type formFile struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

// multipartBody encodes fields and files as multipart/form-data and returns
// the body with its content type. The body is buffered so retries can resend it.
func multipartBody(fields map[string]string, files ...formFile) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.field, f.filename))
		ct := f.contentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create part %s: %w", f.field, err)
		}
		if _, err := part.Write(f.content); err != nil {
			return nil, "", fmt.Errorf("failed to write part %s: %w", f.field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

package state

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"strings"
)

// multipartBody collects form fields and files.  Files are read when the
// body is encoded, so a multipartBody can only be sent once.
type multipartBody struct {
	parts []part
	ctype string
}

type part struct {
	name   string
	value  string
	upload *Upload
}

func (m *multipartBody) field(name, value string) {
	m.parts = append(m.parts, part{name: name, value: value})
}

func (m *multipartBody) file(name string, u *Upload) {
	if u == nil || u.Reader == nil {
		return
	}
	m.parts = append(m.parts, part{name: name, upload: u})
}

func (m *multipartBody) contentType() string {
	return m.ctype
}

func (m *multipartBody) reader() (io.Reader, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, p := range m.parts {
		if p.upload == nil {
			if err := w.WriteField(p.name, p.value); err != nil {
				return nil, err
			}
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(p.name), escapeQuotes(filepath.Base(p.upload.Name))))
		h.Set("Content-Type", UploadContentType(p.upload))
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(pw, p.upload.Reader); err != nil {
			return nil, fmt.Errorf("can't read %s: %w", p.upload.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	m.ctype = w.FormDataContentType()
	return buf, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// UploadContentType is the upload's declared type, else a guess from its
// file name.
func UploadContentType(u *Upload) string {
	if u.ContentType != "" {
		return u.ContentType
	}
	ext := strings.ToLower(filepath.Ext(u.Name))
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	// The builtin table has no video types and /etc/mime.types isn't
	// everywhere.
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	return "application/octet-stream"
}

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".ogv":  "video/ogg",
}

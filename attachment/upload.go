package attachment

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// Upload is the contract any assignable value must satisfy: an original
// filename, a content type, a byte size, and a readable stream.
type Upload interface {
	Filename() string
	ContentType() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type fileUpload struct {
	path        string
	contentType string
	size        int64
}

// FromPath adapts a file on disk into an Upload. The content type is sniffed
// from the leading bytes.
func FromPath(path string) (Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	sniff := make([]byte, 512)
	n, err := f.Read(sniff)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return &fileUpload{
		path:        path,
		contentType: http.DetectContentType(sniff[:n]),
		size:        info.Size(),
	}, nil
}

func (u *fileUpload) Filename() string    { return filepath.Base(u.path) }
func (u *fileUpload) ContentType() string { return u.contentType }
func (u *fileUpload) Size() int64         { return u.size }
func (u *fileUpload) Open() (io.ReadCloser, error) {
	return os.Open(u.path)
}

type bytesUpload struct {
	name        string
	contentType string
	data        []byte
}

// FromBytes adapts an in-memory blob into an Upload. An empty contentType is
// sniffed from the data.
func FromBytes(name, contentType string, data []byte) Upload {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &bytesUpload{name: name, contentType: contentType, data: data}
}

func (u *bytesUpload) Filename() string    { return u.name }
func (u *bytesUpload) ContentType() string { return u.contentType }
func (u *bytesUpload) Size() int64         { return int64(len(u.data)) }
func (u *bytesUpload) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(u.data)), nil
}

type multipartUpload struct {
	header *multipart.FileHeader
}

// FromMultipart adapts a parsed multipart form file into an Upload.
func FromMultipart(header *multipart.FileHeader) Upload {
	return &multipartUpload{header: header}
}

func (u *multipartUpload) Filename() string { return filepath.Base(u.header.Filename) }
func (u *multipartUpload) ContentType() string {
	if ct := u.header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
func (u *multipartUpload) Size() int64 { return u.header.Size }
func (u *multipartUpload) Open() (io.ReadCloser, error) {
	return u.header.Open()
}

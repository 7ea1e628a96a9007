package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// ErrCaptureFailed is returned when no image could be acquired from a source
var ErrCaptureFailed = errors.New("capture failed")

// RawImage is a decoded still image waiting to be preprocessed
type RawImage struct {
	Image  image.Image
	Origin string // filename or device the image came from
}

// Width returns the pixel width, or 0 for an empty buffer
func (r *RawImage) Width() int {
	if r == nil || r.Image == nil {
		return 0
	}
	return r.Image.Bounds().Dx()
}

// Height returns the pixel height, or 0 for an empty buffer
func (r *RawImage) Height() int {
	if r == nil || r.Image == nil {
		return 0
	}
	return r.Image.Bounds().Dy()
}

// Source acquires a still image from a camera feed or a file picker
type Source interface {
	// Acquire blocks until an image is available or ctx is done
	Acquire(ctx context.Context) (*RawImage, error)
	// Close releases anything the source holds open. Safe to call more than once.
	Close() error
}

// FileSource reads a bill image from disk (the gallery/file picker case)
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for the given path
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Acquire reads and decodes the file
func (f *FileSource) Acquire(ctx context.Context) (*RawImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading file: %v", ErrCaptureFailed, err)
	}
	return decodeRaw(data, contentTypeFromName(f.path), filepath.Base(f.path))
}

// Close is a no-op for files
func (f *FileSource) Close() error {
	return nil
}

// UploadSource wraps image bytes that were already picked by the user, e.g. a multipart upload
type UploadSource struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Acquire decodes the uploaded bytes
func (u *UploadSource) Acquire(ctx context.Context) (*RawImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	contentType := u.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromName(u.Filename)
	}
	return decodeRaw(u.Data, contentType, u.Filename)
}

// Close drops the reference to the uploaded bytes
func (u *UploadSource) Close() error {
	u.Data = nil
	return nil
}

// CameraSource grabs a single frame from a live camera by running an external capture
// command that writes one JPEG or PNG frame to stdout, for example
// "ffmpeg -loglevel error -f v4l2 -i /dev/video0 -frames:v 1 -f image2pipe -vcodec mjpeg -".
type CameraSource struct {
	command string

	mu     sync.Mutex
	cmd    *exec.Cmd
	closed bool
}

// NewCameraSource creates a CameraSource for the given capture command
func NewCameraSource(command string) *CameraSource {
	return &CameraSource{command: command}
}

// Acquire starts the capture command and waits for the frame
func (c *CameraSource) Acquire(ctx context.Context) (*RawImage, error) {
	args := strings.Fields(c.command)
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: no camera command configured", ErrCaptureFailed)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: camera already released", ErrCaptureFailed)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: starting camera: %v", ErrCaptureFailed, err)
	}
	c.cmd = cmd
	c.mu.Unlock()

	err := cmd.Wait()

	c.mu.Lock()
	c.cmd = nil
	c.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: camera command: %v: %s", ErrCaptureFailed, err, strings.TrimSpace(stderr.String()))
	}
	return decodeRaw(stdout.Bytes(), "", "camera")
}

// Close stops a capture that is still running and marks the camera released
func (c *CameraSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cmd != nil && c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("stopping camera: %w", err)
		}
	}
	return nil
}

func decodeRaw(data []byte, contentType, origin string) (*RawImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrCaptureFailed)
	}
	img, err := decodeImage(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	return &RawImage{Image: img, Origin: origin}, nil
}

// readAllLimited reads at most limit bytes and fails if r holds more
func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("image exceeds %d bytes", limit)
	}
	return data, nil
}

// NewUploadSource reads a picked file from r, refusing anything larger than limit bytes
func NewUploadSource(filename, contentType string, r io.Reader, limit int64) (*UploadSource, error) {
	data, err := readAllLimited(r, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: reading upload: %v", ErrCaptureFailed, err)
	}
	return &UploadSource{Filename: filename, ContentType: contentType, Data: data}, nil
}

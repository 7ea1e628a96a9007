package scanning

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func pngBytes(w, h int) []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, testImage(w, h))).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("FileSource", func() {
	var (
		dir  string
		path string
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "bill.png")
		Expect(os.WriteFile(path, pngBytes(30, 20), 0600)).To(Succeed())
	})

	It("should decode the file", func() {
		src := NewFileSource(path)
		raw, err := src.Acquire(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(raw.Width()).To(Equal(30))
		Expect(raw.Height()).To(Equal(20))
		Expect(raw.Origin).To(Equal("bill.png"))
		Expect(src.Close()).To(Succeed())
	})

	When("the file does not exist", func() {
		It("should fail with ErrCaptureFailed", func() {
			_, err := NewFileSource(filepath.Join(dir, "missing.png")).Acquire(context.Background())
			Expect(err).To(MatchError(ErrCaptureFailed))
		})
	})

	When("the context is already cancelled", func() {
		It("should return the context error", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := NewFileSource(path).Acquire(ctx)
			Expect(err).To(MatchError(context.Canceled))
		})
	})
})

var _ = Describe("UploadSource", func() {
	It("should decode uploaded bytes", func() {
		src, err := NewUploadSource("bill.png", "image/png", bytes.NewReader(pngBytes(12, 8)), 1<<20)
		Expect(err).NotTo(HaveOccurred())
		raw, err := src.Acquire(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(raw.Width()).To(Equal(12))
		Expect(raw.Height()).To(Equal(8))
	})

	It("should refuse uploads over the limit", func() {
		_, err := NewUploadSource("bill.png", "image/png", bytes.NewReader(pngBytes(12, 8)), 10)
		Expect(err).To(MatchError(ErrCaptureFailed))
	})

	It("should fail on an empty upload", func() {
		src, err := NewUploadSource("bill.png", "image/png", bytes.NewReader(nil), 1<<20)
		Expect(err).NotTo(HaveOccurred())
		_, err = src.Acquire(context.Background())
		Expect(err).To(MatchError(ErrCaptureFailed))
	})

	It("should fail on bytes that are not an image", func() {
		src := &UploadSource{Filename: "notes.txt", Data: []byte("hello there")}
		_, err := src.Acquire(context.Background())
		Expect(err).To(MatchError(ErrCaptureFailed))
	})

	It("should drop the data on Close", func() {
		src := &UploadSource{Filename: "bill.png", Data: pngBytes(4, 4)}
		Expect(src.Close()).To(Succeed())
		Expect(src.Data).To(BeNil())
		Expect(src.Close()).To(Succeed())
	})
})

var _ = Describe("CameraSource", func() {
	var framePath string

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		if strings.ContainsAny(dir, " \t") {
			Skip("temp dir contains whitespace")
		}
		framePath = filepath.Join(dir, "frame.png")
		Expect(os.WriteFile(framePath, pngBytes(16, 9), 0600)).To(Succeed())
	})

	It("should read a frame from the capture command", func() {
		cam := NewCameraSource("cat " + framePath)
		raw, err := cam.Acquire(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(raw.Width()).To(Equal(16))
		Expect(raw.Height()).To(Equal(9))
		Expect(raw.Origin).To(Equal("camera"))
	})

	When("no command is configured", func() {
		It("should fail with ErrCaptureFailed", func() {
			_, err := NewCameraSource("  ").Acquire(context.Background())
			Expect(err).To(MatchError(ErrCaptureFailed))
		})
	})

	When("the command fails", func() {
		It("should fail with ErrCaptureFailed", func() {
			_, err := NewCameraSource("cat " + framePath + ".missing").Acquire(context.Background())
			Expect(err).To(MatchError(ErrCaptureFailed))
		})
	})

	When("the camera was released", func() {
		It("should refuse to capture", func() {
			cam := NewCameraSource("cat " + framePath)
			Expect(cam.Close()).To(Succeed())
			Expect(cam.Close()).To(Succeed())
			_, err := cam.Acquire(context.Background())
			Expect(err).To(MatchError(ErrCaptureFailed))
		})
	})

	When("the capture is cancelled", func() {
		It("should stop waiting for the frame", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			start := time.Now()
			_, err := NewCameraSource("sleep 5").Acquire(ctx)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(time.Since(start)).To(BeNumerically("<", 3*time.Second))
		})
	})
})

var _ = Describe("format detection", func() {
	It("should recognize HEIC headers", func() {
		heicHeader := append([]byte{0, 0, 0, 0x18}, []byte("ftypheic")...)
		Expect(isHEICFormat(heicHeader)).To(BeTrue())
		Expect(isHEICFormat(pngBytes(2, 2))).To(BeFalse())
		Expect(isHEICFormat([]byte("short"))).To(BeFalse())
	})

	It("should recognize HEIC MIME types", func() {
		Expect(isHEICMimeType("image/HEIC")).To(BeTrue())
		Expect(isHEICMimeType("image/heif")).To(BeTrue())
		Expect(isHEICMimeType("image/jpeg")).To(BeFalse())
	})

	It("should recognize PDFs", func() {
		Expect(isPDFFormat([]byte("%PDF-1.7\n..."))).To(BeTrue())
		Expect(isPDFFormat(pngBytes(2, 2))).To(BeFalse())
	})

	DescribeTable("contentTypeFromName",
		func(name, want string) {
			Expect(contentTypeFromName(name)).To(Equal(want))
		},
		Entry("jpg", "IMG_0001.JPG", "image/jpeg"),
		Entry("png", "bill.png", "image/png"),
		Entry("pdf", "invoice.pdf", "application/pdf"),
		Entry("heic", "photo.heic", "image/heic"),
		Entry("unknown", "notes.txt", ""),
	)
})

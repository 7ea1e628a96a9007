package analysis

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/ecologic/internal/scanning"
)

var _ = Describe("Backend", func() {
	var (
		server  *ghttp.Server
		cfg     BackendConfig
		backend *Backend
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		cfg = BackendConfig{
			BaseURL:       server.URL() + "/",
			APIKey:        "secret-key",
			ProbeTimeout:  time.Second,
			UploadTimeout: time.Second,
		}
	})

	JustBeforeEach(func() {
		backend = NewBackend(cfg, nil, nil)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Probe", func() {
		When("the backend answers 200", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/ping"),
					ghttp.VerifyHeaderKV("X-API-KEY", "secret-key"),
					ghttp.RespondWith(http.StatusOK, "pong"),
				))
			})

			It("should succeed", func() {
				Expect(backend.Probe(context.Background())).To(Succeed())
				Expect(server.ReceivedRequests()).To(HaveLen(1))
			})
		})

		When("the backend answers another 2xx", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusNoContent, nil))
			})

			It("should report it unreachable", func() {
				Expect(backend.Probe(context.Background())).To(MatchError(ErrUnreachable))
			})
		})

		When("the backend answers 500", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "down"))
			})

			It("should report it unreachable", func() {
				Expect(backend.Probe(context.Background())).To(MatchError(ErrUnreachable))
			})
		})

		When("nothing is listening", func() {
			BeforeEach(func() {
				cfg.BaseURL = "http://127.0.0.1:1"
			})

			It("should report it unreachable", func() {
				Expect(backend.Probe(context.Background())).To(MatchError(ErrUnreachable))
			})
		})

		When("the backend is too slow", func() {
			BeforeEach(func() {
				cfg.ProbeTimeout = 50 * time.Millisecond
				server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
					time.Sleep(300 * time.Millisecond)
				})
			})

			It("should time out", func() {
				Expect(backend.Probe(context.Background())).To(MatchError(ErrTimeout))
			})
		})

		When("the caller cancels", func() {
			It("should return the cancellation untouched", func() {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				Expect(backend.Probe(ctx)).To(MatchError(context.Canceled))
			})
		})

		When("no API key is configured", func() {
			BeforeEach(func() {
				cfg.APIKey = ""
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "pong"))
			})

			It("should not send the header", func() {
				Expect(backend.Probe(context.Background())).To(Succeed())
				Expect(server.ReceivedRequests()[0].Header).NotTo(HaveKey("X-Api-Key"))
			})
		})
	})

	Describe("Upload", func() {
		var (
			payload scanning.EncodedPayload
			body    []byte
			err     error

			gotFilename    string
			gotContentType string
			gotData        []byte
		)

		captureFile := func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			f, header, err := r.FormFile("file")
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()
			gotFilename = header.Filename
			gotContentType = header.Header.Get("Content-Type")
			gotData, _ = io.ReadAll(f)
		}

		BeforeEach(func() {
			payload = scanning.EncodedPayload{
				Data:     []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3},
				MIMEType: "image/jpeg",
				Filename: "bill.jpg",
				Width:    10,
				Height:   10,
			}
		})

		JustBeforeEach(func() {
			body, err = backend.Upload(context.Background(), payload)
		})

		When("the backend accepts the bill", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/parse-invoice"),
					ghttp.VerifyHeaderKV("X-API-KEY", "secret-key"),
					captureFile,
					ghttp.RespondWith(http.StatusOK, `{"total_amount": 12}`),
				))
			})

			It("should return the raw response body", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal(`{"total_amount": 12}`))
			})

			It("should send the image as the file field", func() {
				Expect(gotFilename).To(Equal("bill.jpg"))
				Expect(gotContentType).To(Equal("image/jpeg"))
				Expect(gotData).To(Equal(payload.Data))
			})
		})

		When("the backend rejects the bill", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model crashed"))
			})

			It("should return a RejectedError with status and body", func() {
				var rejected *RejectedError
				Expect(errors.As(err, &rejected)).To(BeTrue())
				Expect(rejected.Status).To(Equal(http.StatusInternalServerError))
				Expect(rejected.Body).To(Equal("model crashed"))
			})
		})

		When("the backend returns a body that is not JSON", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "not json"))
			})

			It("should hand it back for the parser to judge", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal("not json"))
			})
		})

		When("the upload takes too long", func() {
			BeforeEach(func() {
				cfg.UploadTimeout = 50 * time.Millisecond
				server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
					time.Sleep(300 * time.Millisecond)
				})
			})

			It("should time out", func() {
				Expect(err).To(MatchError(ErrTimeout))
			})
		})
	})

	Describe("Analyze", func() {
		When("given a parsed invoice", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/analyze"),
					ghttp.VerifyHeaderKV("X-API-KEY", "secret-key"),
					ghttp.VerifyJSON(`{"invoice_json": {"total_amount": 12, "provider": "ASKI"}}`),
					ghttp.RespondWith(http.StatusOK, `{"analysis": {"advice": "ok"}}`),
				))
			})

			It("should wrap it as invoice_json", func() {
				body, err := backend.Analyze(context.Background(), []byte(`{"total_amount": 12, "provider": "ASKI"}`))
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("advice"))
			})
		})

		When("the invoice is not a JSON object", func() {
			It("should fail without calling the backend", func() {
				_, err := backend.Analyze(context.Background(), []byte("nope"))
				Expect(err).To(MatchError(ErrMalformedResponse))
				Expect(server.ReceivedRequests()).To(BeEmpty())
			})
		})
	})
})

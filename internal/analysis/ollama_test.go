package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/ecologic/internal/scanning"
)

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		ollama *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		ollama = NewOllama(server.URL(), "llava", 50*time.Millisecond, time.Second)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Probe", func() {
		It("should succeed when the server answers", func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/"),
				ghttp.RespondWith(http.StatusOK, "Ollama is running"),
			))
			Expect(ollama.Probe(context.Background())).To(Succeed())
		})

		It("should report an error status as unreachable", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusBadGateway, nil))
			Expect(ollama.Probe(context.Background())).To(MatchError(ErrUnreachable))
		})

		It("should use the probe timeout rather than the upload timeout", func() {
			server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(300 * time.Millisecond)
			})
			Expect(ollama.Probe(context.Background())).To(MatchError(ErrTimeout))
		})
	})

	Describe("Upload", func() {
		var (
			payload scanning.EncodedPayload
			sent    ollamaChatRequest
		)

		captureRequest := func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			data, err := io.ReadAll(r.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(json.Unmarshal(data, &sent)).To(Succeed())
		}

		BeforeEach(func() {
			sent = ollamaChatRequest{}
			payload = scanning.EncodedPayload{Data: []byte("jpeg bytes"), MIMEType: "image/jpeg", Filename: "bill.jpg"}
		})

		When("the model answers", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
					captureRequest,
					ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
						Message: ollamaMessage{Role: "assistant", Content: `{"provider": "ASKI"}`},
						Done:    true,
					}),
				))
			})

			It("should return the message content", func() {
				body, err := ollama.Upload(context.Background(), payload)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal(`{"provider": "ASKI"}`))
			})

			It("should send the image base64 encoded with JSON output requested", func() {
				_, err := ollama.Upload(context.Background(), payload)
				Expect(err).NotTo(HaveOccurred())
				Expect(sent.Model).To(Equal("llava"))
				Expect(sent.Format).To(Equal("json"))
				Expect(sent.Stream).To(BeFalse())
				Expect(sent.Messages).To(HaveLen(2))
				Expect(sent.Messages[1].Images).To(ConsistOf(base64.StdEncoding.EncodeToString(payload.Data)))
			})
		})

		When("the server fails", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not found"))
			})

			It("should return a RejectedError", func() {
				_, err := ollama.Upload(context.Background(), payload)
				var rejected *RejectedError
				Expect(errors.As(err, &rejected)).To(BeTrue())
				Expect(rejected.Status).To(Equal(http.StatusInternalServerError))
				Expect(rejected.Body).To(Equal("model not found"))
			})
		})

		When("the server returns garbage", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "<<<"))
			})

			It("should fail with ErrMalformedResponse", func() {
				_, err := ollama.Upload(context.Background(), payload)
				Expect(err).To(MatchError(ErrMalformedResponse))
			})
		})
	})
})

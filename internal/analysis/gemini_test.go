package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"
)

var _ = Describe("classifyGemini", func() {
	DescribeTable("API errors are rejections",
		func(code int) {
			apiErr := &googleapi.Error{Code: code, Message: "API key not valid"}
			err := classifyGemini(fmt.Errorf("generating content: %w", apiErr))

			var rejected *RejectedError
			Expect(errors.As(err, &rejected)).To(BeTrue())
			Expect(rejected.Status).To(Equal(code))
			Expect(rejected.Body).To(Equal("API key not valid"))
			Expect(err).NotTo(MatchError(ErrUnreachable))
		},
		Entry("bad request", http.StatusBadRequest),
		Entry("forbidden key", http.StatusForbidden),
		Entry("quota", http.StatusTooManyRequests),
		Entry("server error", http.StatusServiceUnavailable),
	)

	It("should fall back to the raw body and cap it", func() {
		err := classifyGemini(&googleapi.Error{Code: http.StatusInternalServerError, Body: strings.Repeat("x", maxErrorBody+10)})
		var rejected *RejectedError
		Expect(errors.As(err, &rejected)).To(BeTrue())
		Expect(rejected.Body).To(HaveLen(maxErrorBody))
	})

	It("should treat other failures as transport errors", func() {
		Expect(classifyGemini(errors.New("connection refused"))).To(MatchError(ErrUnreachable))
		Expect(classifyGemini(context.DeadlineExceeded)).To(MatchError(ErrTimeout))
	})

	It("should pass cancellation through", func() {
		Expect(classifyGemini(context.Canceled)).To(MatchError(context.Canceled))
	})
})

package scanning

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeModel returns a canned response and records the request it was given
type fakeModel struct {
	response string
	err      error
	delay    time.Duration
	requests []Request
	closed   bool
}

func (m *fakeModel) Generate(ctx context.Context, req Request) (string, error) {
	m.requests = append(m.requests, req)
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.delay):
		}
	}
	return m.response, m.err
}

func (m *fakeModel) Close() error {
	m.closed = true
	return nil
}

var _ = Describe("VisionScanner", func() {
	var (
		model   *fakeModel
		cfg     Config
		scanner *VisionScanner
		image   []byte
	)

	BeforeEach(func() {
		model = &fakeModel{}
		cfg = DefaultConfig()
		image = encodePNG(4, 4)
	})

	JustBeforeEach(func() {
		scanner = NewVisionScanner(model, cfg)
	})

	Describe("ScanReceipt", func() {
		var (
			result *ReceiptExtraction
			err    error
		)

		JustBeforeEach(func() {
			result, err = scanner.ScanReceipt(context.Background(), image, "image/png")
		})

		When("the model answers in the line format", func() {
			BeforeEach(func() {
				model.response = "*Roma Tomato | Purchase Date: 03/15/2025 | Shelf Life: 5 days | Expiration Date: n/a\n*TOTAL: $3.10"
			})

			It("parses and normalizes the items", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Items).To(Equal([]ExtractedItem{{
					FullName:       "Roma Tomato",
					PurchaseDate:   "03/15/2025",
					ShelfLife:      "5 days",
					ExpirationDate: "03/20/2025",
				}}))
				Expect(result.Total).To(Equal("$3.10"))
			})

			It("sends the item prompt with the prepared image", func() {
				Expect(model.requests).To(HaveLen(1))
				Expect(model.requests[0].Prompt).To(Equal(receiptItemsPrompt))
				Expect(model.requests[0].System).To(Equal(receiptItemsSystemPrompt))
				Expect(model.requests[0].MimeType).To(Equal("image/png"))
				Expect(model.requests[0].Image).To(Equal(image))
			})
		})

		When("the model answers with prose", func() {
			BeforeEach(func() {
				model.response = "I cannot read this receipt."
			})

			It("returns an empty extraction", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Items).To(BeEmpty())
				Expect(result.Total).To(Equal(NotFound))
			})
		})

		When("the model fails", func() {
			BeforeEach(func() {
				model.err = errors.New("connection refused")
			})

			It("wraps the error as a model invocation failure", func() {
				Expect(err).To(MatchError(ErrModelInvocation))
				Expect(err.Error()).To(ContainSubstring("connection refused"))
			})
		})

		When("the model takes longer than the timeout", func() {
			BeforeEach(func() {
				cfg.Timeout = 20 * time.Millisecond
				model.delay = time.Second
			})

			It("fails with a model invocation error", func() {
				Expect(err).To(MatchError(ErrModelInvocation))
				Expect(err).To(MatchError(context.DeadlineExceeded))
			})
		})

		When("the image cannot be decoded", func() {
			BeforeEach(func() {
				image = []byte("garbage")
			})

			It("fails without calling the model", func() {
				Expect(err).To(MatchError(ErrUnreadableImage))
				Expect(model.requests).To(BeEmpty())
			})
		})
	})

	Describe("ProbeImage", func() {
		var (
			result *ImageProbeResult
			err    error
		)

		JustBeforeEach(func() {
			result, err = scanner.ProbeImage(context.Background(), image, "image/png")
		})

		When("the model answers with JSON", func() {
			BeforeEach(func() {
				model.response = `{"is_receipt": true, "vendor": "Kroger", "date": null, "total": "$25.52", "notes": null}`
			})

			It("returns the probe result", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.IsReceipt).To(BeTrue())
				Expect(result.Vendor).To(Equal(strPtr("Kroger")))
			})

			It("sends the probe prompts", func() {
				Expect(model.requests[0].System).To(Equal(probeSystemPrompt))
				Expect(model.requests[0].Prompt).To(Equal(probeUserPrompt))
			})
		})

		When("the model answers with free text", func() {
			BeforeEach(func() {
				model.response = "This is not a receipt, it's a dog."
			})

			It("falls back to heuristics", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.IsReceipt).To(BeFalse())
				Expect(*result.Notes).To(Equal("This is not a receipt, it's a dog."))
			})
		})
	})

	It("closes the model", func() {
		Expect(scanner.Close()).To(Succeed())
		Expect(model.closed).To(BeTrue())
	})
})

package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func encodePNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

func encodeJPEG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("prepareImageData", func() {
	var (
		input       []byte
		contentType string
		maxSide     int

		data     []byte
		mimeType string
		err      error
	)

	BeforeEach(func() {
		contentType = "image/png"
		maxSide = 2200
	})

	JustBeforeEach(func() {
		data, mimeType, err = prepareImageData(input, contentType, maxSide)
	})

	When("a small PNG needs no changes", func() {
		BeforeEach(func() {
			input = encodePNG(10, 10)
		})

		It("passes the bytes through", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(mimeType).To(Equal("image/png"))
			Expect(data).To(Equal(input))
		})
	})

	When("the image is a JPEG", func() {
		BeforeEach(func() {
			input = encodeJPEG(20, 10)
			contentType = "image/jpeg"
		})

		It("re-encodes it as PNG", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(mimeType).To(Equal("image/png"))
			Expect(bytes.HasPrefix(data, pngSignature)).To(BeTrue())
		})
	})

	When("no content type is given", func() {
		BeforeEach(func() {
			input = encodeJPEG(20, 10)
			contentType = ""
		})

		It("sniffs the format", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(mimeType).To(Equal("image/png"))
		})
	})

	When("the image is larger than the max side", func() {
		BeforeEach(func() {
			input = encodePNG(3000, 1000)
		})

		It("downscales it keeping the aspect ratio", func() {
			Expect(err).NotTo(HaveOccurred())
			img, err := png.Decode(bytes.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(2200))
			Expect(img.Bounds().Dy()).To(Equal(733))
		})
	})

	When("the data is not an image", func() {
		BeforeEach(func() {
			input = []byte("definitely not an image")
		})

		It("returns ErrUnreadableImage", func() {
			Expect(err).To(MatchError(ErrUnreadableImage))
		})
	})
})

var _ = Describe("downscale", func() {
	It("leaves images within the limit alone", func() {
		img := image.NewRGBA(image.Rect(0, 0, 100, 50))
		out, changed := downscale(img, 2200)
		Expect(changed).To(BeFalse())
		Expect(out).To(BeIdenticalTo(img))
	})

	It("scales tall images by their height", func() {
		img := image.NewRGBA(image.Rect(0, 0, 3000, 4000))
		out, changed := downscale(img, 2200)
		Expect(changed).To(BeTrue())
		Expect(out.Bounds().Dx()).To(Equal(1650))
		Expect(out.Bounds().Dy()).To(Equal(2200))
	})

	It("treats a non-positive max side as unlimited", func() {
		img := image.NewRGBA(image.Rect(0, 0, 5000, 5000))
		_, changed := downscale(img, 0)
		Expect(changed).To(BeFalse())
	})
})

var _ = Describe("applyOrientation", func() {
	var (
		red  = color.RGBA{R: 255, A: 255}
		blue = color.RGBA{B: 255, A: 255}
		img  *image.RGBA
	)

	BeforeEach(func() {
		img = image.NewRGBA(image.Rect(0, 0, 2, 1))
		img.Set(0, 0, red)
		img.Set(1, 0, blue)
	})

	It("rotates 90 degrees clockwise for orientation 6", func() {
		out := applyOrientation(img, 6)
		Expect(out.Bounds().Dx()).To(Equal(1))
		Expect(out.Bounds().Dy()).To(Equal(2))
		Expect(out.At(0, 0)).To(Equal(red))
		Expect(out.At(0, 1)).To(Equal(blue))
	})

	It("rotates 180 degrees for orientation 3", func() {
		out := applyOrientation(img, 3)
		Expect(out.At(0, 0)).To(Equal(blue))
		Expect(out.At(1, 0)).To(Equal(red))
	})

	It("ignores the normal orientation", func() {
		Expect(applyOrientation(img, 1)).To(BeIdenticalTo(img))
	})
})

var _ = Describe("isHEICFormat", func() {
	It("recognizes the ftyp heic brand", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(isHEICFormat(data)).To(BeTrue())
	})

	It("rejects other data", func() {
		Expect(isHEICFormat(encodePNG(1, 1))).To(BeFalse())
	})
})

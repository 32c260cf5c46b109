package pantry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/expiry-tracker/internal/pantry"
	"github.com/zombor/expiry-tracker/internal/scanning"
)

// stubModel answers every prompt with a canned line-format response
type stubModel struct {
	response string
}

func (m *stubModel) Generate(ctx context.Context, req scanning.Request) (string, error) {
	return m.response, nil
}

func (m *stubModel) Close() error {
	return nil
}

const integrationResponse = `Here are the items I found:
* Kroger Whole Milk 1 Gal | Purchase Date: 01/15/2024 | Shelf Life: 7 days | Expiration Date: 01/22/2024
* Bananas | Purchase Date: NOT FOUND | Shelf Life: 5 days | Expiration Date: NOT FOUND
* Dry Pasta | Purchase Date: 01/15/2024 | Shelf Life: unlimited | Expiration Date: unlimited
*TOTAL: $12.34`

func encodeTestPNG(w io.Writer) error {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return png.Encode(w, img)
}

var _ = Describe("Integration", func() {
	var (
		tempDir  string
		db       *pantry.BoltDB
		store    *pantry.LocalStorage
		server   *pantry.Server
		ghServer *ghttp.Server
		err      error
	)

	BeforeEach(func() {
		tempDir, err = os.MkdirTemp("", "expiry-tracker-test-*")
		Expect(err).NotTo(HaveOccurred())

		db, err = pantry.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = pantry.NewLocalStorage(filepath.Join(tempDir, "receipts"))
		Expect(err).NotTo(HaveOccurred())

		scanner := scanning.NewVisionScanner(&stubModel{response: integrationResponse}, scanning.DefaultConfig())
		service := pantry.NewService(db, scanner, store)
		server = pantry.NewServer(service, pantry.BasicAuth{})

		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if db != nil {
			db.Close()
		}
		if tempDir != "" {
			os.RemoveAll(tempDir)
		}
	})

	It("scans a receipt, saves the reviewed draft and tracks its items", func() {
		ghServer.AppendHandlers(
			server.ServeHTTP, // scan
			server.ServeHTTP, // save
			server.ServeHTTP, // list
			server.ServeHTTP, // delete
			server.ServeHTTP, // list again
		)

		// A real PNG so the image pipeline runs end to end
		var upload bytes.Buffer
		Expect(encodeTestPNG(&upload)).To(Succeed())

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "receipt.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(upload.Bytes())
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.WriteField("store_name", "Kroger")).To(Succeed())
		Expect(writer.WriteField("purchase_date", "01/14/2024")).To(Succeed())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", ghServer.URL()+"/api/receipts/scan", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var draft pantry.Draft
		respBody, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(respBody, &draft)).To(Succeed())

		Expect(draft.Total).To(Equal("$12.34"))
		Expect(draft.PurchaseDate).To(Equal("01/15/2024"))
		Expect(draft.Items).To(HaveLen(3))
		// The fallback date fills in the missing purchase date and drives the expiration
		Expect(draft.Items[1]).To(Equal(scanning.ExtractedItem{
			FullName:       "Bananas",
			PurchaseDate:   "01/14/2024",
			ShelfLife:      "5 days",
			ExpirationDate: "01/19/2024",
		}))

		receipts, err := db.ListReceipts()
		Expect(err).NotTo(HaveOccurred())
		Expect(receipts).To(BeEmpty())

		// Save the reviewed draft
		saveBody, err := json.Marshal(draft)
		Expect(err).NotTo(HaveOccurred())
		saveResp, err := http.Post(ghServer.URL()+"/api/receipts", "application/json", bytes.NewReader(saveBody))
		Expect(err).NotTo(HaveOccurred())
		defer saveResp.Body.Close()
		Expect(saveResp.StatusCode).To(Equal(http.StatusCreated))

		var created struct {
			Receipt *pantry.Receipt   `json:"receipt"`
			Items   []pantry.ItemView `json:"items"`
		}
		respBody, err = io.ReadAll(saveResp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(respBody, &created)).To(Succeed())
		Expect(created.Receipt.TotalCents).To(Equal(int64(1234)))
		Expect(created.Items).To(HaveLen(3))

		saved, err := db.GetReceipt(created.Receipt.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.StoreName).To(Equal("Kroger"))
		Expect(saved.ItemIDs).To(HaveLen(3))

		pasta, err := db.GetItem(saved.ItemIDs[2])
		Expect(err).NotTo(HaveOccurred())
		Expect(pasta.ProductName).To(Equal("Dry Pasta"))
		Expect(pasta.ExpirationDate).To(BeNil())

		milk, err := db.GetItem(saved.ItemIDs[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(*milk.ExpirationDate).To(Equal(time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC)))

		// Items list ordered by expiration, never-expiring last
		listResp, err := http.Get(ghServer.URL() + "/api/items")
		Expect(err).NotTo(HaveOccurred())
		defer listResp.Body.Close()
		var views []pantry.ItemView
		respBody, err = io.ReadAll(listResp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(respBody, &views)).To(Succeed())
		Expect(views).To(HaveLen(3))
		Expect(views[0].ProductName).To(Equal("Bananas"))
		Expect(views[2].ProductName).To(Equal("Dry Pasta"))
		Expect(views[2].Status).To(Equal(pantry.StatusNoExpiration))

		// Deleting the receipt removes its items
		delReq, err := http.NewRequest("DELETE", ghServer.URL()+"/api/receipts/"+created.Receipt.ID, nil)
		Expect(err).NotTo(HaveOccurred())
		delResp, err := http.DefaultClient.Do(delReq)
		Expect(err).NotTo(HaveOccurred())
		delResp.Body.Close()
		Expect(delResp.StatusCode).To(Equal(http.StatusNoContent))

		listResp, err = http.Get(ghServer.URL() + "/api/items")
		Expect(err).NotTo(HaveOccurred())
		defer listResp.Body.Close()
		respBody, err = io.ReadAll(listResp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(respBody, &views)).To(Succeed())
		Expect(views).To(BeEmpty())
	})

	It("keeps the uploaded file when processing in one step", func() {
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP)

		var upload bytes.Buffer
		Expect(encodeTestPNG(&upload)).To(Succeed())

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "My Receipt!.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(upload.Bytes())
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghServer.URL()+"/api/receipts", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var created struct {
			Receipt *pantry.Receipt `json:"receipt"`
		}
		respBody, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(respBody, &created)).To(Succeed())
		Expect(created.Receipt.Filename).To(HaveSuffix("_My Receipt.png"))

		stored, err := store.Get(created.Receipt.Filename)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(Equal(upload.Bytes()))

		fileResp, err := http.Get(ghServer.URL() + "/api/receipts/" + created.Receipt.ID + "/file")
		Expect(err).NotTo(HaveOccurred())
		defer fileResp.Body.Close()
		Expect(fileResp.StatusCode).To(Equal(http.StatusOK))
		Expect(fileResp.Header.Get("Content-Type")).To(Equal("image/png"))
	})
})

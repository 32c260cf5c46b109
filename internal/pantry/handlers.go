package pantry

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/expiry-tracker/internal/scanning"
)

// maxUploadSize handles high-resolution phone photos
const maxUploadSize = int64(50 << 20)

const defaultExpiringDays = 7

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body with CORS headers set
func writeError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps service errors onto HTTP status codes
func writeServiceError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, notFound, http.StatusNotFound)
	case errors.Is(err, ErrInvalidInput):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, scanning.ErrUnreadableImage):
		writeError(w, "The file could not be read as an image. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF.", http.StatusBadRequest)
	case errors.Is(err, scanning.ErrModelInvocation):
		writeError(w, "The vision model failed. Please try again.", http.StatusBadGateway)
	default:
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// contentTypeFor determines the upload's content type from its header or extension
func contentTypeFor(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// readUpload reads the multipart "file" field and the optional store_name and
// purchase_date fields. It writes the error response itself and returns false on failure.
func readUpload(w http.ResponseWriter, r *http.Request) (Upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return Upload{}, false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return Upload{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return Upload{}, false
	}

	return Upload{
		Filename:     header.Filename,
		Data:         data,
		ContentType:  contentTypeFor(header.Header.Get("Content-Type"), header.Filename),
		StoreName:    r.FormValue("store_name"),
		PurchaseDate: r.FormValue("purchase_date"),
	}, true
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleHealth reports that the process is up
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScanReceipt scans an upload and returns a draft without saving anything
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	upload, ok := readUpload(w, r)
	if !ok {
		return
	}

	draft, err := s.service.ScanReceipt(r.Context(), upload)
	if err != nil {
		slog.Error("Error scanning receipt", "filename", upload.Filename, "error", err)
		writeServiceError(w, err, "Receipt not found")
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleCreateReceipt saves a receipt. A multipart upload is stored, scanned
// and saved in one step. A JSON body is treated as a reviewed draft.
func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var (
		receipt *Receipt
		items   []*Item
		err     error
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		upload, ok := readUpload(w, r)
		if !ok {
			return
		}
		receipt, items, err = s.service.ProcessReceipt(r.Context(), upload)
	} else {
		var draft Draft
		if decodeErr := json.NewDecoder(r.Body).Decode(&draft); decodeErr != nil {
			writeError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		receipt, items, err = s.service.SaveReceipt(&draft)
	}
	if err != nil {
		slog.Error("Error saving receipt", "error", err)
		writeServiceError(w, err, "Receipt not found")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"receipt": receipt,
		"items":   s.service.Views(items),
	})
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a receipt with its items
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, items, err := s.service.GetReceiptWithItems(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "Receipt not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receipt": receipt,
		"items":   s.service.Views(items),
	})
}

// handleGetReceiptFile returns the original image for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("id"))
	if err != nil {
		writeError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt and its items
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		slog.Error("Error deleting receipt", "error", err)
		writeServiceError(w, err, "Receipt not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListItems returns all items ordered by expiration date
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListItems()
	if err != nil {
		slog.Error("Error listing items", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Views(items))
}

// handleExpiringItems returns items expiring within ?days= days (default 7)
func (s *Server) handleExpiringItems(w http.ResponseWriter, r *http.Request) {
	days := defaultExpiringDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, "days must be a whole number", http.StatusBadRequest)
			return
		}
		days = n
	}

	items, err := s.service.ExpiringSoon(days)
	if err != nil {
		writeServiceError(w, err, "Item not found")
		return
	}
	writeJSON(w, http.StatusOK, s.service.Views(items))
}

// handleCreateItem adds an item by hand
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var input ItemInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	item, err := s.service.AddItem(input)
	if err != nil {
		slog.Error("Error creating item", "error", err)
		writeServiceError(w, err, "Item not found")
		return
	}
	writeJSON(w, http.StatusCreated, s.service.Views([]*Item{item})[0])
}

// handleGetItem returns a single item
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.GetItem(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "Item not found")
		return
	}
	writeJSON(w, http.StatusOK, s.service.Views([]*Item{item})[0])
}

// handleUpdateItem edits an item
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var input ItemInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	item, err := s.service.UpdateItem(r.PathValue("id"), input)
	if err != nil {
		slog.Error("Error updating item", "error", err)
		writeServiceError(w, err, "Item not found")
		return
	}
	writeJSON(w, http.StatusOK, s.service.Views([]*Item{item})[0])
}

// handleDeleteItem deletes an item
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteItem(r.PathValue("id")); err != nil {
		slog.Error("Error deleting item", "error", err)
		writeServiceError(w, err, "Item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAnalytics returns item counts and total value
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := s.service.Analytics()
	if err != nil {
		slog.Error("Error computing analytics", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

// handleProbe reports whether an upload is a receipt
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	upload, ok := readUpload(w, r)
	if !ok {
		return
	}

	probe, err := s.service.ProbeImage(r.Context(), upload)
	if err != nil {
		slog.Error("Error probing image", "filename", upload.Filename, "error", err)
		writeServiceError(w, err, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, probe)
}

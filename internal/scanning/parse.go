package scanning

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParseOutcome is the result of parsing a raw model response. It is one of
// StructuredJSON, StructuredLines or Unparsed.
type ParseOutcome interface {
	parseOutcome()
}

// StructuredJSON holds a response that followed the probe JSON grammar
type StructuredJSON struct {
	Probe ImageProbeResult
}

// StructuredLines holds a response that followed the *item | ... line grammar
type StructuredLines struct {
	Extraction ReceiptExtraction
}

// Unparsed holds a response that matched neither grammar
type Unparsed struct {
	Raw string
}

func (StructuredJSON) parseOutcome()  {}
func (StructuredLines) parseOutcome() {}
func (Unparsed) parseOutcome()        {}

// Parse recovers whichever grammar the response used. Line output wins when
// at least one item or total line matches.
func Parse(text string) ParseOutcome {
	ex := ParseItemLines(text)
	if len(ex.RawLines) > 0 {
		return StructuredLines{Extraction: ex}
	}
	for _, strategy := range []probeStrategy{probeFromDirectJSON, probeFromBracketJSON} {
		if probe, ok := strategy(text); ok {
			return StructuredJSON{Probe: probe}
		}
	}
	return Unparsed{Raw: text}
}

// probeStrategy tries to recover a probe result from raw model text
type probeStrategy func(text string) (ImageProbeResult, bool)

// probeStrategies is the fallback chain tried by ParseProbe, in order.
// The last entry always succeeds.
var probeStrategies = []probeStrategy{
	probeFromDirectJSON,
	probeFromBracketJSON,
	probeFromHeuristics,
}

// ParseProbe turns a model reply into a probe result. It never fails: when the
// reply is not JSON it falls back to keyword heuristics.
func ParseProbe(text string) ImageProbeResult {
	for _, strategy := range probeStrategies {
		if probe, ok := strategy(text); ok {
			return probe
		}
	}
	return ImageProbeResult{}
}

// stripCodeFence removes a surrounding markdown code block if present
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func probeFromDirectJSON(text string) (ImageProbeResult, bool) {
	fields, ok := jsonObject(stripCodeFence(text))
	if !ok {
		return ImageProbeResult{}, false
	}
	if _, ok := fields["is_receipt"]; !ok {
		return ImageProbeResult{}, false
	}
	return probeFromFields(fields), true
}

var bracketPattern = regexp.MustCompile(`(?s)\{.*\}`)

func probeFromBracketJSON(text string) (ImageProbeResult, bool) {
	span := bracketPattern.FindString(text)
	if span == "" {
		return ImageProbeResult{}, false
	}
	fields, ok := jsonObject(span)
	if !ok {
		return ImageProbeResult{}, false
	}
	return probeFromFields(fields), true
}

func jsonObject(text string) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// probeFromFields reads the probe keys leniently. Models sometimes emit numbers
// for the total or "yes" for is_receipt.
func probeFromFields(fields map[string]json.RawMessage) ImageProbeResult {
	return ImageProbeResult{
		IsReceipt: jsonTruthy(fields["is_receipt"]),
		Vendor:    jsonText(fields["vendor"]),
		Date:      jsonText(fields["date"]),
		Total:     jsonText(fields["total"]),
		Notes:     jsonText(fields["notes"]),
	}
}

func jsonTruthy(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes":
			return true
		}
	}
	return false
}

// jsonText renders a string or number value as text. Anything else is nil.
func jsonText(raw json.RawMessage) *string {
	if trimmed := strings.TrimSpace(string(raw)); trimmed == "" || trimmed == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		text := n.String()
		return &text
	}
	return nil
}

var (
	receiptPhrases = []string{
		"is this image a receipt?: yes",
		"is a receipt",
		"this is a receipt",
		"receipt detected",
	}
	notReceiptPhrases = []string{
		"not a receipt",
		"isn't a receipt",
		"is not a receipt",
	}

	heuristicDatePattern   = regexp.MustCompile(`date[^\w]?\s*:?\s*([0-9/-]+)`)
	heuristicTotalPattern  = regexp.MustCompile(`total[^\w]?\s*:?\s*([$€£¥]?\s*\d+[.,]\d+|\d+[.,]\d+\s*[$€£¥]?)`)
	heuristicVendorPattern = regexp.MustCompile(`vendor[^\w]?\s*:?\s*([^,\n\r]*)`)

	rejectedVendors = map[string]bool{
		"":              true,
		"not specified": true,
		"none":          true,
		"null":          true,
		"n/a":           true,
	}
)

const maxNotesLength = 300

func probeFromHeuristics(text string) (ImageProbeResult, bool) {
	notes := truncateRunes(strings.TrimSpace(text), maxNotesLength)
	probe := ImageProbeResult{Notes: &notes}

	lower := strings.ToLower(text)

	// negative phrases win over positive ones
	if containsAny(lower, receiptPhrases) && !containsAny(lower, notReceiptPhrases) {
		probe.IsReceipt = true
	}

	if m := heuristicDatePattern.FindStringSubmatch(lower); m != nil {
		date := strings.TrimSpace(m[1])
		probe.Date = &date
	}

	if m := heuristicTotalPattern.FindStringSubmatch(lower); m != nil {
		total := strings.TrimSpace(m[1])
		probe.Total = &total
	}

	if m := heuristicVendorPattern.FindStringSubmatch(lower); m != nil {
		vendor := strings.TrimSpace(m[1])
		if !rejectedVendors[vendor] {
			probe.Vendor = &vendor
		}
	}

	return probe, true
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

var (
	itemLinePattern = regexp.MustCompile(
		`(?i)^\*\s*(.*?)\s*\|\s*Purchase Date:\s*(\d{2}/\d{2}/\d{4}|NOT FOUND)\s*\|\s*Shelf Life:\s*([^|]+)\s*\|\s*Expiration Date:\s*(.+?)\s*$`,
	)
	totalLinePattern = regexp.MustCompile(`(?i)^\*\s*TOTAL:\s*(\$?\s*\d+(?:\.\d{2})?)\s*$`)
	whitespace       = regexp.MustCompile(`\s+`)
)

// ParseItemLines parses the line grammar. Lines that match neither the item
// nor the total pattern are dropped. A missing total is reported as NOT FOUND.
func ParseItemLines(text string) ReceiptExtraction {
	ex := ReceiptExtraction{
		Items:    []ExtractedItem{},
		RawLines: []string{},
	}

	lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "*") {
			continue
		}

		if m := itemLinePattern.FindStringSubmatch(line); m != nil {
			purchaseDate := strings.TrimSpace(m[2])
			if strings.EqualFold(purchaseDate, NotFound) {
				purchaseDate = NotFound
			}
			ex.Items = append(ex.Items, ExtractedItem{
				FullName:       strings.TrimSpace(m[1]),
				PurchaseDate:   purchaseDate,
				ShelfLife:      strings.TrimSpace(m[3]),
				ExpirationDate: strings.TrimSpace(m[4]),
			})
			ex.RawLines = append(ex.RawLines, line)
			continue
		}

		if m := totalLinePattern.FindStringSubmatch(line); m != nil {
			ex.Total = whitespace.ReplaceAllString(m[1], "")
			ex.RawLines = append(ex.RawLines, line)
		}
	}

	if ex.Total == "" {
		ex.Total = NotFound
	}
	return ex
}

// ApplyFallbackDate substitutes one shared purchase date for every item whose
// purchase date is NOT FOUND. The input is not modified.
func ApplyFallbackDate(ex ReceiptExtraction, fallback string) ReceiptExtraction {
	out := ex
	out.Items = make([]ExtractedItem, len(ex.Items))
	copy(out.Items, ex.Items)

	if fallback == "" {
		return out
	}
	for i := range out.Items {
		if out.Items[i].PurchaseDate == NotFound {
			out.Items[i].PurchaseDate = fallback
		}
	}
	return out
}

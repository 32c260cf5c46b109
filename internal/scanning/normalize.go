package scanning

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var shelfLifePattern = regexp.MustCompile(`(?i)^(\d+)\s*(days?|weeks?)?$`)

// ShelfLifeDays interprets a shelf life string such as "7 days", "2 weeks" or
// "unlimited". ok is false when the value is not understood.
func ShelfLifeDays(shelfLife string) (days int, unlimited bool, ok bool) {
	s := strings.TrimSpace(shelfLife)
	if strings.EqualFold(s, Unlimited) {
		return 0, true, true
	}

	m := shelfLifePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false, false
	}
	if strings.HasPrefix(strings.ToLower(m[2]), "week") {
		n *= 7
	}
	return n, false, true
}

// ComputeExpiration adds the shelf life to the purchase date. It refuses to
// compute anything from a missing or malformed purchase date.
func ComputeExpiration(purchaseDate, shelfLife string) (string, bool) {
	purchased, err := time.Parse(DateLayout, strings.TrimSpace(purchaseDate))
	if err != nil {
		return "", false
	}

	days, unlimited, ok := ShelfLifeDays(shelfLife)
	if !ok {
		return "", false
	}
	if unlimited {
		return Unlimited, true
	}
	return purchased.AddDate(0, 0, days).Format(DateLayout), true
}

// Normalize fills in expiration dates the model left blank or garbled. Dates
// the model supplied in the expected form are kept as-is.
func Normalize(ex ReceiptExtraction) ReceiptExtraction {
	out := ex
	out.Items = make([]ExtractedItem, len(ex.Items))
	copy(out.Items, ex.Items)

	for i := range out.Items {
		item := &out.Items[i]

		if strings.EqualFold(item.ExpirationDate, Unlimited) {
			item.ExpirationDate = Unlimited
			continue
		}
		if _, err := time.Parse(DateLayout, item.ExpirationDate); err == nil {
			continue
		}
		if expiration, ok := ComputeExpiration(item.PurchaseDate, item.ShelfLife); ok {
			item.ExpirationDate = expiration
		}
	}
	return out
}

var amountNoise = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", ",", "", " ", "")

// ParseAmountCents converts a total such as "$25.52" into cents. It returns
// false for NOT FOUND or anything that is not a number.
func ParseAmountCents(total string) (int64, bool) {
	if total == "" || strings.EqualFold(total, NotFound) {
		return 0, false
	}
	d, err := decimal.NewFromString(amountNoise.Replace(total))
	if err != nil {
		return 0, false
	}
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), true
}

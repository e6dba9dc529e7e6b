package opportunity

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// dateFormats is the whitelist of layouts the source feeds use, tried in
// order. ISO8601 with offset comes first so zoned timestamps keep their
// instant before normalization to UTC.
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
}

// ParseDate parses a feed date using the format whitelist and normalizes the
// result to UTC. Empty input returns (nil, nil).
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			utc := t.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}

// ParseCurrency parses a dollar amount, stripping the currency symbol and
// thousands separators. Unparseable input coerces to zero.
func ParseCurrency(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseBool interprets the feed's assorted truthy spellings.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1", "active":
		return true
	}
	return false
}

// Normalize trims whitespace from every string field of an opportunity,
// including nested contacts and place of performance.
func Normalize(opp *storage.Opportunity) {
	opp.NoticeID = strings.TrimSpace(opp.NoticeID)
	opp.Title = strings.TrimSpace(opp.Title)
	opp.SolicitationNumber = strings.TrimSpace(opp.SolicitationNumber)
	opp.Department = strings.TrimSpace(opp.Department)
	opp.Agency = strings.TrimSpace(opp.Agency)
	opp.Office = strings.TrimSpace(opp.Office)
	opp.NoticeType = strings.TrimSpace(opp.NoticeType)
	opp.NAICSCode = strings.TrimSpace(opp.NAICSCode)
	opp.SetAsideCode = strings.TrimSpace(opp.SetAsideCode)
	opp.SetAside = strings.TrimSpace(opp.SetAside)
	opp.Description = strings.TrimSpace(opp.Description)

	if opp.PlaceOfPerformance != nil {
		normalizeLocation(opp.PlaceOfPerformance)
	}
	if opp.PrimaryContact != nil {
		normalizeContact(opp.PrimaryContact)
	}
	if opp.SecondaryContact != nil {
		normalizeContact(opp.SecondaryContact)
	}
	if opp.Award != nil {
		opp.Award.Number = strings.TrimSpace(opp.Award.Number)
		opp.Award.Awardee = strings.TrimSpace(opp.Award.Awardee)
	}
	for i := range opp.Attachments {
		opp.Attachments[i].AttachmentID = strings.TrimSpace(opp.Attachments[i].AttachmentID)
		opp.Attachments[i].Filename = strings.TrimSpace(opp.Attachments[i].Filename)
		opp.Attachments[i].URL = strings.TrimSpace(opp.Attachments[i].URL)
	}
}

func normalizeLocation(loc *storage.Location) {
	loc.Address = strings.TrimSpace(loc.Address)
	loc.City = strings.TrimSpace(loc.City)
	loc.State = strings.ToUpper(strings.TrimSpace(loc.State))
	loc.Zip = strings.TrimSpace(loc.Zip)
	loc.Country = strings.TrimSpace(loc.Country)
}

func normalizeContact(c *storage.Contact) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Phone = strings.TrimSpace(c.Phone)
}

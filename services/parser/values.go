package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"donorflow/models"
)

// DonorRecord is the typed content of one row. Nil pointers mean the column
// was absent or blank, which matters to the merge rule.
type DonorRecord struct {
	FirstName        string
	LastName         string
	NickName         string
	OrganizationName string
	Email            string
	City             string

	TotalDonations    *decimal.Decimal
	TotalPledges      *decimal.Decimal
	LargestGift       *decimal.Decimal
	LargestGiftAppeal string
	FirstGiftDate     *time.Time
	FirstGiftAmount   *decimal.Decimal
	LastGiftDate      *time.Time
	LastGiftAmount    *decimal.Decimal

	LastChannel string
	LastAppeal  string
	Tags        models.TagSet

	Excluded *bool
	Deceased *bool
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1/2/06",
	"01-02-06",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2-Jan-06", // Excel's d-mmm-yy; the unpadded day also reads "04"
	"2-Jan-2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Excel serial day numbers between 1900-01-01 and 9999-12-31.
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

func parseAmount(raw string) (*decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("not a number: %q", raw)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount: %q", raw)
	}
	d = d.Round(2)
	return &d, nil
}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &day, nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial >= minExcelSerial && serial <= maxExcelSerial {
		t, err := excelize.ExcelDateToTime(math.Floor(serial), false)
		if err == nil {
			t = t.Round(time.Minute)
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &day, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date: %q", raw)
}

func parseBool(raw string) (*bool, error) {
	var v bool
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return nil, nil
	case "true", "yes", "y", "1", "x":
		v = true
	case "false", "no", "n", "0":
		v = false
	default:
		return nil, fmt.Errorf("not a yes/no value: %q", raw)
	}
	return &v, nil
}

// buildRecord converts canonical values into a DonorRecord, collecting one
// message per bad cell.
func buildRecord(values map[string]string) (DonorRecord, []string) {
	var rec DonorRecord
	var problems []string

	text := func(field string) string { return strings.TrimSpace(values[field]) }
	amount := func(field string) *decimal.Decimal {
		d, err := parseAmount(values[field])
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", field, err))
		}
		return d
	}
	date := func(field string) *time.Time {
		t, err := parseDate(values[field])
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", field, err))
		}
		return t
	}
	flag := func(field string) *bool {
		b, err := parseBool(values[field])
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", field, err))
		}
		return b
	}

	rec.FirstName = text(FieldFirstName)
	rec.LastName = text(FieldLastName)
	rec.NickName = text(FieldNickName)
	rec.OrganizationName = text(FieldOrganizationName)
	rec.City = text(FieldCity)
	rec.LargestGiftAppeal = text(FieldLargestGiftAppeal)
	rec.LastChannel = text(FieldLastChannel)
	rec.LastAppeal = text(FieldLastAppeal)
	rec.Tags = models.ParseTagSet(values[FieldTags])

	if email := text(FieldEmail); email != "" {
		if err := checkmail.ValidateFormat(email); err != nil {
			problems = append(problems, fmt.Sprintf("%s: invalid address %q", FieldEmail, email))
		} else {
			rec.Email = strings.ToLower(email)
		}
	}

	rec.TotalDonations = amount(FieldTotalDonations)
	rec.TotalPledges = amount(FieldTotalPledges)
	rec.LargestGift = amount(FieldLargestGift)
	rec.FirstGiftAmount = amount(FieldFirstGiftAmount)
	rec.LastGiftAmount = amount(FieldLastGiftAmount)
	rec.FirstGiftDate = date(FieldFirstGiftDate)
	rec.LastGiftDate = date(FieldLastGiftDate)
	rec.Excluded = flag(FieldExcluded)
	rec.Deceased = flag(FieldDeceased)

	return rec, problems
}

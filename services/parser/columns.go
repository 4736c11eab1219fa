package parser

import "strings"

// Canonical donor fields recognized in upload headers.
const (
	FieldFirstName         = "first_name"
	FieldLastName          = "last_name"
	FieldNickName          = "nick_name"
	FieldOrganizationName  = "organization_name"
	FieldEmail             = "email"
	FieldCity              = "city"
	FieldTotalDonations    = "total_donations"
	FieldTotalPledges      = "total_pledges"
	FieldLargestGift       = "largest_gift"
	FieldLargestGiftAppeal = "largest_gift_appeal"
	FieldFirstGiftDate     = "first_gift_date"
	FieldFirstGiftAmount   = "first_gift_amount"
	FieldLastGiftDate      = "last_gift_date"
	FieldLastGiftAmount    = "last_gift_amount"
	FieldLastChannel       = "last_channel"
	FieldLastAppeal        = "last_appeal"
	FieldTags              = "tags"
	FieldExcluded          = "excluded"
	FieldDeceased          = "deceased"
)

var synonyms = map[string][]string{
	FieldFirstName:         {"firstname", "first", "givenname", "fname", "forename"},
	FieldLastName:          {"lastname", "last", "surname", "familyname", "lname"},
	FieldNickName:          {"nickname", "nick", "preferredname"},
	FieldOrganizationName:  {"organizationname", "organization", "organisationname", "organisation", "org", "orgname"},
	FieldEmail:             {"email", "emailaddress", "mail"},
	FieldCity:              {"city", "town"},
	FieldTotalDonations:    {"totaldonations", "donations", "totalgiving", "totalgifts", "lifetimegiving"},
	FieldTotalPledges:      {"totalpledges", "pledges", "pledgetotal"},
	FieldLargestGift:       {"largestgift", "largestgiftamount", "biggestgift", "maxgift"},
	FieldLargestGiftAppeal: {"largestgiftappeal", "largestappeal"},
	FieldFirstGiftDate:     {"firstgiftdate", "firstdonationdate"},
	FieldFirstGiftAmount:   {"firstgiftamount", "firstdonationamount"},
	FieldLastGiftDate:      {"lastgiftdate", "lastdonationdate", "mostrecentgiftdate"},
	FieldLastGiftAmount:    {"lastgiftamount", "lastdonationamount", "mostrecentgiftamount"},
	FieldLastChannel:       {"lastchannel", "lastsolicitchannel", "solicitchannel", "channel", "mostrecentchannel"},
	FieldLastAppeal:        {"lastappeal", "lastsolicitappeal", "appeal", "mostrecentappeal"},
	FieldTags:              {"tags", "tag", "labels", "keywords"},
	FieldExcluded:          {"excluded", "exclude", "donotcontact", "donotinvite"},
	FieldDeceased:          {"deceased", "isdeceased"},
}

var headerIndex = buildHeaderIndex()

func buildHeaderIndex() map[string]string {
	index := make(map[string]string)
	for field, names := range synonyms {
		for _, name := range names {
			index[name] = field
		}
	}
	return index
}

// normalizeHeader folds "First Name", "first_name" and "firstName" to "firstname".
func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CanonicalField returns the donor field a header names, if any.
func CanonicalField(header string) (string, bool) {
	field, ok := headerIndex[normalizeHeader(header)]
	return field, ok
}

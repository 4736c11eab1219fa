package models

import "strings"

// NormalizeName lowercases, trims and collapses inner whitespace.
func NormalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// IdentityKey derives the unique identity of a donor: "org:<name>" for
// organizations, "ind:<first>|<last>" for individuals.
func IdentityKey(firstName, lastName, organizationName string) (string, error) {
	org := NormalizeName(organizationName)
	first, last := NormalizeName(firstName), NormalizeName(lastName)
	switch {
	case org != "" && (first != "" || last != ""):
		return "", ErrAmbiguousIdentity
	case org != "":
		return "org:" + org, nil
	case first != "" || last != "":
		return "ind:" + first + "|" + last, nil
	}
	return "", ErrMissingIdentity
}

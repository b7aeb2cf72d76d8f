package question

import (
	"regexp"
	"strings"
)

var dottedNumber = regexp.MustCompile(`^\d+(\.\d+)*$`)

// NumericTag reports whether tag is a dotted-number version like "1.12.3".
func NumericTag(tag string) bool {
	return dottedNumber.MatchString(tag)
}

// CompareTags compares two numeric tags part by part; missing parts count
// as zero, so "1.0" equals "1".
func CompareTags(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for len(pa) < len(pb) {
		pa = append(pa, "0")
	}
	for len(pb) < len(pa) {
		pb = append(pb, "0")
	}
	for i := range pa {
		if c := compareNumber(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	return 0
}

// compareNumber compares decimal digit strings of any length.
func compareNumber(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// LatestTag returns the highest numeric tag, or "" when there is none.
func LatestTag(tags []string) string {
	latest := ""
	for _, t := range tags {
		if !NumericTag(t) {
			continue
		}
		if latest == "" || CompareTags(t, latest) > 0 {
			latest = t
		}
	}
	return latest
}

// AcceptableTag reports whether tag may be released given the existing
// tags: numeric tags must be greater than the latest numeric one, anything
// else is accepted as is. The latest tag is returned for the refusal.
func AcceptableTag(tag string, existing []string) (bool, string) {
	if !NumericTag(tag) {
		return true, ""
	}
	latest := LatestTag(existing)
	if latest == "" {
		return true, ""
	}
	return CompareTags(tag, latest) > 0, latest
}

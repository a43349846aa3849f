// Package symbols handles kernel banner parsing and symbol availability for
// banner-gated platforms: deciding whether a dump's kernel has local symbol
// tables and suggesting where to download them when it does not.
package symbols

import (
	"errors"
	"regexp"
	"strings"
)

// bannerRE is the fixed grammar for Linux kernel identification banners.
var bannerRE = regexp.MustCompile(
	`^"?Linux version (?P<kernel>\S+) (?P<build>.+) \(((?P<gcc>gcc.+)) #(?P<number>\d+)(?P<info>.+)$"?`,
)

// ErrBannerUnparsable is returned when a banner does not match the grammar.
// The eligibility gate fails closed on it.
var ErrBannerUnparsable = errors.New("banner does not match the Linux version grammar")

// Banner is the parsed form of a kernel identification string.
type Banner struct {
	// Kernel is the kernel release, e.g. "5.4.0-42-generic". Symbol
	// availability is decided by exact match on this field.
	Kernel string

	// Build is the builder identity, e.g. "(buildd@host)".
	Build string

	// Compiler is the compiler identification, e.g. "gcc version 9.3.0".
	Compiler string

	// BuildNumber is the numeric build counter after the '#'.
	BuildNumber string

	// Extra is everything after the build number, carrying the distribution
	// tag and build date.
	Extra string

	// Raw is the original banner text.
	Raw string
}

// Parse extracts the kernel identification fields from a banner string.
// Surrounding quotes and trailing NUL/newline padding are tolerated.
func Parse(banner string) (Banner, error) {
	cleaned := strings.TrimRight(banner, "\n\x00")

	m := bannerRE.FindStringSubmatch(cleaned)
	if m == nil {
		return Banner{}, ErrBannerUnparsable
	}

	get := func(name string) string {
		i := bannerRE.SubexpIndex(name)
		if i < 0 || i >= len(m) {
			return ""
		}
		return m[i]
	}

	return Banner{
		Kernel:      get("kernel"),
		Build:       get("build"),
		Compiler:    get("gcc"),
		BuildNumber: get("number"),
		Extra:       get("info"),
		Raw:         cleaned,
	}, nil
}

// Architecture sniffs the CPU architecture tag out of a banner, returning an
// empty string when none of the known tags appear.
func (b Banner) Architecture() string {
	lower := strings.ToLower(b.Raw)
	switch {
	case strings.Contains(lower, "amd64"):
		return "amd64"
	case strings.Contains(lower, "arm64"):
		return "arm64"
	case strings.Contains(lower, "i386"):
		return "i386"
	default:
		return ""
	}
}

// Distribution guesses the distribution family from the compiler identity and
// trailing banner text.
func (b Banner) Distribution() string {
	haystack := strings.ToLower(b.Compiler + " " + b.Extra)
	switch {
	case strings.Contains(haystack, "ubuntu"):
		return "ubuntu"
	case strings.Contains(haystack, "debian"):
		return "debian"
	default:
		return ""
	}
}

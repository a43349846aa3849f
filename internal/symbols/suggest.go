package symbols

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/memharbor/memharbor/pkg/common/logger"
)

// Placeholder hints returned when a real download URL cannot be resolved.
// Scrape failures always degrade to one of these, never to an error.
const (
	HintParseFailed  = "[Banner parse fail] insert here symbols url!"
	HintUnknownOS    = "[OS wip] insert here symbols url!"
	HintDownloadFail = "[Download fail] insert here symbols url!"
)

const (
	defaultUbuntuMirror = "http://ddebs.ubuntu.com/ubuntu/pool/main/l/linux/"
	defaultDebianMirror = "https://deb.sipwise.com/debian/pool/main/l/linux/"
)

// Suggester resolves best-effort symbol package download URLs by scraping
// distribution package indexes. It is strictly advisory: every failure path
// returns a placeholder hint.
type Suggester struct {
	httpClient   *http.Client
	ubuntuMirror string
	debianMirror string
	logger       *logger.Logger
}

// NewSuggester creates a Suggester against the default distribution mirrors.
func NewSuggester(log *logger.Logger) *Suggester {
	return &Suggester{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		ubuntuMirror: defaultUbuntuMirror,
		debianMirror: defaultDebianMirror,
		logger:       log,
	}
}

// NewSuggesterWithMirrors creates a Suggester against explicit mirror URLs.
// Used by tests to point at a mocked package index.
func NewSuggesterWithMirrors(log *logger.Logger, client *http.Client, ubuntuMirror, debianMirror string) *Suggester {
	return &Suggester{
		httpClient:   client,
		ubuntuMirror: ubuntuMirror,
		debianMirror: debianMirror,
		logger:       log,
	}
}

// Suggest returns candidate download URLs for the symbol package matching the
// dump's banner. The result always has at least one entry; placeholders mark
// the cases where no URL could be resolved.
func (s *Suggester) Suggest(ctx context.Context, rawBanner string) []string {
	banner, err := Parse(rawBanner)
	if err != nil {
		return []string{HintParseFailed}
	}

	arch := banner.Architecture()
	if arch == "" {
		return []string{HintUnknownOS}
	}

	switch banner.Distribution() {
	case "ubuntu":
		return s.scrapeUbuntu(ctx, banner, arch)
	case "debian":
		return s.scrapeDebian(ctx, banner, arch)
	default:
		return []string{HintUnknownOS}
	}
}

// scrapeUbuntu walks the ddebs pool index looking for the debug image package
// (signed or unsigned) matching the kernel and architecture.
func (s *Suggester) scrapeUbuntu(ctx context.Context, banner Banner, arch string) []string {
	packageName := fmt.Sprintf("linux-image-%s", banner.Kernel)
	alternativeName := fmt.Sprintf("linux-image-unsigned-%s", banner.Kernel)

	hrefs, err := s.anchorHrefs(ctx, s.ubuntuMirror)
	if err != nil {
		s.logger.Warn(ctx, "symbol package index scrape failed", "mirror", s.ubuntuMirror, "error", err)
		return []string{HintDownloadFail}
	}

	for _, href := range hrefs {
		if !strings.Contains(href, arch) {
			continue
		}
		if strings.Contains(href, packageName) || strings.Contains(href, alternativeName) {
			return []string{s.ubuntuMirror + href}
		}
	}
	return []string{HintDownloadFail}
}

// scrapeDebian walks the Debian pool index for the -dbg image package. Debian
// file names carry kernel, build info and architecture separated by
// underscores; all three must line up with the banner.
func (s *Suggester) scrapeDebian(ctx context.Context, banner Banner, arch string) []string {
	packageName := fmt.Sprintf("linux-image-%s-dbg", banner.Kernel)

	hrefs, err := s.anchorHrefs(ctx, s.debianMirror)
	if err != nil {
		s.logger.Warn(ctx, "symbol package index scrape failed", "mirror", s.debianMirror, "error", err)
		return []string{HintDownloadFail}
	}

	for _, href := range hrefs {
		if !strings.Contains(href, packageName) {
			continue
		}
		parts := strings.Split(href, "_")
		if len(parts) != 3 {
			return []string{HintDownloadFail}
		}
		pKernel, pInfo := parts[0], parts[1]
		pArch := strings.SplitN(parts[2], ".", 2)[0]
		if strings.Contains(pKernel, packageName) && strings.Contains(banner.Extra, pInfo) && pArch == arch {
			return []string{s.debianMirror + href}
		}
	}
	return []string{HintDownloadFail}
}

// anchorHrefs fetches a package index page and collects every anchor href.
func (s *Suggester) anchorHrefs(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building index request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching package index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("package index returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing package index: %w", err)
	}

	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && attr.Val != "" {
					hrefs = append(hrefs, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return hrefs, nil
}

package symbols

import "context"

// Catalog enumerates the kernel banners for which symbol tables are already
// available locally. Discovery of new symbol packages happens in a separate
// subsystem; the pipeline only ever asks what is usable right now.
type Catalog interface {
	// AvailableBanners returns the raw banner strings of every locally
	// cached symbol set.
	AvailableBanners(ctx context.Context) ([]string, error)
}

// HasKernel reports whether any banner in the catalog matches the given
// kernel release exactly. Unparsable catalog entries are skipped.
func HasKernel(ctx context.Context, catalog Catalog, kernel string) (bool, error) {
	banners, err := catalog.AvailableBanners(ctx)
	if err != nil {
		return false, err
	}

	for _, raw := range banners {
		if raw == "" {
			continue
		}
		parsed, err := Parse(raw)
		if err != nil {
			continue
		}
		if parsed.Kernel == kernel {
			return true, nil
		}
	}
	return false, nil
}

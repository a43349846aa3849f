package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/internal/symbols"
	"github.com/memharbor/memharbor/pkg/common/logger"
)

// Gate decides whether enough symbol information exists to run OS-specific
// plugins against a dump. Windows and Mac are assumed eligible; the precise
// check for them is an acknowledged gap. Linux fails closed on a missing or
// unparsable banner and requires an exact kernel match among the locally
// available symbol sets.
type Gate struct {
	catalog   symbols.Catalog
	suggester *symbols.Suggester

	logger *logger.Logger
	tracer trace.Tracer
}

// NewGate creates an eligibility gate over the local symbol catalog.
func NewGate(catalog symbols.Catalog, suggester *symbols.Suggester, log *logger.Logger, tracer trace.Tracer) *Gate {
	return &Gate{
		catalog:   catalog,
		suggester: suggester,
		logger:    log.With("component", "gate"),
		tracer:    tracer,
	}
}

// Check reports whether the dump may run OS-specific plugins. When not, the
// dump is marked missing-symbols with best-effort download hints attached;
// the caller persists the dump and disables pending plugins.
func (g *Gate) Check(ctx context.Context, dump *forensics.Dump) bool {
	ctx, span := g.tracer.Start(ctx, "gate.check",
		trace.WithAttributes(
			attribute.String("dump_id", dump.ID().String()),
			attribute.String("os", dump.OperatingSystem().String()),
		))
	defer span.End()

	if dump.OperatingSystem() != forensics.OSLinux {
		return true
	}

	log := g.logger.With("dump_id", dump.ID().String())
	banner := dump.Banner()

	parsed, err := symbols.Parse(banner)
	if err != nil {
		log.Info(ctx, "dump ineligible", "reason", "banner missing or unparsable")
		dump.MarkMissingSymbols(g.suggester.Suggest(ctx, banner))
		return false
	}

	available, err := symbols.HasKernel(ctx, g.catalog, parsed.Kernel)
	if err != nil {
		// Fail closed when the catalog cannot be consulted.
		log.Warn(ctx, "symbol catalog unavailable", "error", err)
		dump.MarkMissingSymbols(g.suggester.Suggest(ctx, banner))
		return false
	}
	if !available {
		log.Info(ctx, "dump ineligible", "reason", "no symbols for kernel", "kernel", parsed.Kernel)
		dump.MarkMissingSymbols(g.suggester.Suggest(ctx, banner))
		return false
	}

	return true
}

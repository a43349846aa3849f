package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/internal/infra/archive"
	"github.com/memharbor/memharbor/pkg/common/logger"
)

// ErrInvalidArchive is returned when an uploaded archive cannot be reduced to
// a single memory-image artifact. It is terminal for the dump.
var ErrInvalidArchive = errors.New("archive does not contain a usable memory image")

// defaultBannerTimeout bounds the synchronous banner plugin run so a hung
// plugin cannot stall artifact preparation.
const defaultBannerTimeout = 2 * time.Minute

// Preparer turns an uploaded file into the canonical single-file artifact:
// it unpacks archives, computes content hashes, and for banner-gated
// platforms runs the banner plugin synchronously so the eligibility gate has
// a detected banner to work with.
type Preparer struct {
	dumps     forensics.DumpRepository
	plugins   forensics.PluginRepository
	extractor forensics.ArchiveExtractor
	executor  *Executor
	sink      forensics.ResultIndexer

	storageRoot   string
	bannerTimeout time.Duration

	logger *logger.Logger
	tracer trace.Tracer
}

// NewPreparer creates an artifact preparer rooted at storageRoot.
func NewPreparer(
	dumps forensics.DumpRepository,
	plugins forensics.PluginRepository,
	extractor forensics.ArchiveExtractor,
	executor *Executor,
	sink forensics.ResultIndexer,
	storageRoot string,
	log *logger.Logger,
	tracer trace.Tracer,
) *Preparer {
	return &Preparer{
		dumps:         dumps,
		plugins:       plugins,
		extractor:     extractor,
		executor:      executor,
		sink:          sink,
		storageRoot:   storageRoot,
		bannerTimeout: defaultBannerTimeout,
		logger:        log.With("component", "preparer"),
		tracer:        tracer,
	}
}

// Prepare validates and canonicalizes the dump's uploaded file, persists size
// and hashes, and detects the OS banner where the platform calls for one.
// A returned error is a dump-level failure; no plugins may run after it.
func (p *Preparer) Prepare(ctx context.Context, dump *forensics.Dump, password string, userID uuid.UUID) error {
	ctx, span := p.tracer.Start(ctx, "preparer.prepare",
		trace.WithAttributes(attribute.String("dump_id", dump.ID().String())))
	defer span.End()

	log := p.logger.With("dump_id", dump.ID().String(), "dump_name", dump.Name())

	artifactPath, err := p.canonicalize(ctx, dump, password)
	if err != nil {
		span.RecordError(err)
		return err
	}

	info, err := os.Stat(artifactPath)
	if err != nil {
		return fmt.Errorf("inspecting artifact: %w", err)
	}
	sha256Sum, md5Sum, err := hashFile(artifactPath)
	if err != nil {
		return fmt.Errorf("hashing artifact: %w", err)
	}

	dump.SetArtifact(artifactPath, info.Size(), sha256Sum, md5Sum)
	if err := p.dumps.UpdateDump(ctx, dump); err != nil {
		return fmt.Errorf("persisting artifact metadata: %w", err)
	}
	log.Info(ctx, "artifact prepared", "path", artifactPath, "size", info.Size())

	if dump.OperatingSystem().UsesBanner() {
		p.detectBanner(ctx, dump, userID)
	}
	return nil
}

// canonicalize reduces the upload to one on-disk memory image inside the
// dump's storage directory and removes the original upload.
func (p *Preparer) canonicalize(ctx context.Context, dump *forensics.Dump, password string) (string, error) {
	uploadPath := dump.UploadPath()
	dumpDir := filepath.Join(p.storageRoot, dump.Index())
	if err := os.MkdirAll(dumpDir, 0o755); err != nil {
		return "", fmt.Errorf("creating dump directory: %w", err)
	}

	isArchive, err := archive.IsArchive(uploadPath)
	if err != nil {
		return "", fmt.Errorf("sniffing upload: %w", err)
	}

	if !isArchive {
		dest := filepath.Join(dumpDir, filepath.Base(uploadPath))
		if dest == uploadPath {
			return uploadPath, nil
		}
		if err := moveFile(uploadPath, dest); err != nil {
			return "", fmt.Errorf("moving artifact: %w", err)
		}
		return dest, nil
	}

	extractDir, err := os.MkdirTemp(dumpDir, "extract-")
	if err != nil {
		return "", fmt.Errorf("creating extraction directory: %w", err)
	}
	defer os.RemoveAll(extractDir)

	if err := p.extractor.Extract(ctx, uploadPath, extractDir, password); err != nil {
		return "", fmt.Errorf("extracting archive: %w", err)
	}

	chosen, err := pickArtifact(extractDir)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(dumpDir, filepath.Base(chosen))
	if err := moveFile(chosen, dest); err != nil {
		return "", fmt.Errorf("moving artifact: %w", err)
	}
	if err := os.Remove(uploadPath); err != nil {
		p.logger.Warn(ctx, "failed to remove original upload", "path", uploadPath, "error", err)
	}
	return dest, nil
}

// pickArtifact selects the memory image among extracted files: a single file
// is accepted unconditionally; multiple files require one whose name marks a
// raw memory image.
func pickArtifact(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing extracted files: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	switch len(files) {
	case 0:
		return "", ErrInvalidArchive
	case 1:
		return files[0], nil
	}

	for _, f := range files {
		if strings.HasSuffix(strings.ToLower(f), ".vmem") {
			return f, nil
		}
	}
	return "", ErrInvalidArchive
}

// detectBanner runs the banner plugin synchronously under a bounded wait and
// reads the detected banner back from its index partition. Failures here are
// soft: the eligibility gate fails closed on a missing banner.
func (p *Preparer) detectBanner(ctx context.Context, dump *forensics.Dump, userID uuid.UUID) {
	log := p.logger.With("dump_id", dump.ID().String())

	bannerPlugin, err := p.plugins.GetPlugin(ctx, forensics.BannerPluginName)
	if err != nil {
		log.Warn(ctx, "banner plugin not in catalog", "error", err)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, p.bannerTimeout)
	defer cancel()
	p.executor.ExecutePlugin(runCtx, dump, bannerPlugin, nil, userID)

	values, err := p.sink.FieldValues(ctx, Partition(dump.Index(), forensics.BannerPluginName), "Banner")
	if err != nil {
		log.Warn(ctx, "banner readback failed", "error", err)
		return
	}
	if len(values) == 0 {
		log.Warn(ctx, "no banner detected")
		return
	}

	dump.SetBanner(values[0])
	if err := p.dumps.UpdateDump(ctx, dump); err != nil {
		log.Error(ctx, "failed to persist banner", "error", err)
		return
	}
	log.Info(ctx, "banner detected", "banner", values[0])
}

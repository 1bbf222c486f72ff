package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/fhir-emulator/internal/platform/fhir"
)

const (
	recordPattern  = "*.[jJ][sS][oO][nN]"
	variantPattern = "*" + SummarySuffix

	defaultReadWorkers = 8
)

// File reads records from <root>/<ResourceType>/*.json.
type File struct {
	root    string
	logger  zerolog.Logger
	workers int
}

// NewFile creates a filesystem source rooted at dir.
func NewFile(dir string, logger zerolog.Logger) *File {
	return &File{
		root:    dir,
		logger:  logger.With().Str("component", "store.file").Logger(),
		workers: defaultReadWorkers,
	}
}

// Root returns the directory the source reads from.
func (f *File) Root() string {
	return f.root
}

// namedRecord keeps the file a record came from.
type namedRecord struct {
	name   string
	record fhir.Record
}

func (f *File) Load(ctx context.Context, resourceType string) ([]fhir.Record, error) {
	named, err := f.loadNamed(ctx, resourceType)
	if err != nil {
		return nil, err
	}
	records := make([]fhir.Record, len(named))
	for i, n := range named {
		records[i] = n.record
	}
	return records, nil
}

// loadNamed parses the eligible files of a resource folder in parallel and
// returns them in file name order. Unreadable files are dropped.
func (f *File) loadNamed(ctx context.Context, resourceType string) ([]namedRecord, error) {
	dir, ok := f.folder(resourceType)
	if !ok {
		return []namedRecord{}, nil
	}

	names, err := f.recordFiles(dir)
	if err != nil {
		return nil, err
	}

	parsed := make([]namedRecord, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := readRecord(filepath.Join(dir, name))
			if err != nil {
				f.logger.Debug().Err(err).Str("file", name).Str("resource_type", resourceType).Msg("skipping unreadable record")
				return nil
			}
			parsed[i] = namedRecord{name: name, record: rec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := parsed[:0]
	for _, n := range parsed {
		if !n.record.IsZero() {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *File) Variant(ctx context.Context, resourceType, id string) (fhir.Record, error) {
	dir, ok := f.folder(resourceType)
	if !ok {
		return fhir.Record{}, errors.Wrapf(ErrVariantNotFound, "%s/%s", resourceType, id)
	}
	name, ok := VariantName(id)
	if !ok {
		return fhir.Record{}, errors.Wrapf(ErrVariantNotFound, "%s/%s", resourceType, id)
	}

	rec, err := readRecord(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return fhir.Record{}, errors.Wrapf(ErrVariantNotFound, "%s/%s", resourceType, id)
	}
	if err != nil {
		return fhir.Record{}, errors.Wrapf(err, "read %s", name)
	}
	return rec, nil
}

func (f *File) ResourceTypes(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", f.root)
	}

	types := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && validSegment(e.Name()) {
			types = append(types, e.Name())
		}
	}
	sort.Strings(types)
	return types, nil
}

// folder resolves the directory of a resource type. A missing folder is not
// an error: the type simply has no records.
func (f *File) folder(resourceType string) (string, bool) {
	if !validSegment(resourceType) {
		return "", false
	}
	dir := filepath.Join(f.root, resourceType)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

// recordFiles lists primary record files in name order.
func (f *File) recordFiles(dir string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), recordPattern)
	if err != nil {
		return nil, errors.Wrapf(err, "glob %s", dir)
	}

	names := matches[:0]
	for _, m := range matches {
		if IsRecordFile(m) {
			names = append(names, m)
		}
	}
	sort.Strings(names)
	return names, nil
}

// variantFiles lists summary variant files in name order.
func (f *File) variantFiles(dir string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), variantPattern)
	if err != nil {
		return nil, errors.Wrapf(err, "glob %s", dir)
	}
	sort.Strings(matches)
	return matches, nil
}

func readRecord(path string) (fhir.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fhir.Record{}, err
	}
	return fhir.ParseRecord(data)
}

package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/ehr/fhir-emulator/internal/platform/fhir"
)

// DBTX is the subset of pgxpool.Pool the Postgres source uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	selectRecordsSQL = `SELECT body::text FROM fhir_resources WHERE resource_type = $1 ORDER BY file_name`
	selectVariantSQL = `SELECT summary FROM fhir_resources
WHERE resource_type = $1 AND id = $2 AND summary IS NOT NULL
ORDER BY file_name LIMIT 1`
	selectTypesSQL  = `SELECT DISTINCT resource_type FROM fhir_resources ORDER BY resource_type`
	upsertRecordSQL = `INSERT INTO fhir_resources (resource_type, file_name, id, body)
VALUES ($1, $2, $3, $4::json)
ON CONFLICT (resource_type, file_name) DO UPDATE SET id = EXCLUDED.id, body = EXCLUDED.body`
	updateVariantSQL = `UPDATE fhir_resources SET summary = $3 WHERE resource_type = $1 AND id = $2`
)

// Postgres serves records stored in the fhir_resources table. Records are
// kept in a json (not jsonb) column so they come back byte for byte.
// Summaries are kept as text and only parsed when requested, so a broken
// one fails the request instead of looking absent.
type Postgres struct {
	db     DBTX
	logger zerolog.Logger
}

// NewPostgres creates a source on top of a pool or connection.
func NewPostgres(db DBTX, logger zerolog.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: logger.With().Str("component", "store.postgres").Logger(),
	}
}

func (p *Postgres) Load(ctx context.Context, resourceType string) ([]fhir.Record, error) {
	rows, err := p.db.Query(ctx, selectRecordsSQL, resourceType)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s records", resourceType)
	}
	defer rows.Close()

	records := []fhir.Record{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, errors.Wrapf(err, "scan %s record", resourceType)
		}
		rec, err := fhir.ParseRecord([]byte(body))
		if err != nil {
			p.logger.Debug().Err(err).Str("resource_type", resourceType).Msg("skipping unreadable record")
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterate %s records", resourceType)
	}
	return records, nil
}

func (p *Postgres) Variant(ctx context.Context, resourceType, id string) (fhir.Record, error) {
	var body string
	err := p.db.QueryRow(ctx, selectVariantSQL, resourceType, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return fhir.Record{}, errors.Wrapf(ErrVariantNotFound, "%s/%s", resourceType, id)
	}
	if err != nil {
		return fhir.Record{}, errors.Wrapf(err, "query summary %s/%s", resourceType, id)
	}
	rec, err := fhir.ParseRecord([]byte(body))
	if err != nil {
		return fhir.Record{}, errors.Wrapf(err, "parse summary %s/%s", resourceType, id)
	}
	return rec, nil
}

func (p *Postgres) ResourceTypes(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, selectTypesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "query resource types")
	}
	defer rows.Close()

	types := []string{}
	for rows.Next() {
		var rt string
		if err := rows.Scan(&rt); err != nil {
			return nil, errors.Wrap(err, "scan resource type")
		}
		types = append(types, rt)
	}
	return types, rows.Err()
}

// Put stores a primary record under its file name.
func (p *Postgres) Put(ctx context.Context, resourceType, fileName string, rec fhir.Record) error {
	_, err := p.db.Exec(ctx, upsertRecordSQL, resourceType, fileName, rec.ID(), string(rec.Bytes()))
	if err != nil {
		return errors.Wrapf(err, "store %s/%s", resourceType, fileName)
	}
	return nil
}

// PutVariant attaches a summary document to the records with the given id.
// It reports whether any record was updated.
func (p *Postgres) PutVariant(ctx context.Context, resourceType, id string, body []byte) (bool, error) {
	tag, err := p.db.Exec(ctx, updateVariantSQL, resourceType, id, string(body))
	if err != nil {
		return false, errors.Wrapf(err, "store summary %s/%s", resourceType, id)
	}
	return tag.RowsAffected() > 0, nil
}

// ImportStats counts what an import wrote.
type ImportStats struct {
	ResourceTypes int `json:"resource_types"`
	Records       int `json:"records"`
	Variants      int `json:"variants"`
	Orphans       int `json:"orphan_variants"`
}

// Import copies every record and summary variant under a files directory
// into the table. Unreadable records are skipped the same way File skips
// them. Summaries are copied as is.
func (p *Postgres) Import(ctx context.Context, src *File) (ImportStats, error) {
	var stats ImportStats

	types, err := src.ResourceTypes(ctx)
	if err != nil {
		return stats, err
	}

	for _, rt := range types {
		named, err := src.loadNamed(ctx, rt)
		if err != nil {
			return stats, err
		}
		for _, n := range named {
			if err := p.Put(ctx, rt, n.name, n.record); err != nil {
				return stats, err
			}
			stats.Records++
		}

		dir := filepath.Join(src.Root(), rt)
		variants, err := src.variantFiles(dir)
		if err != nil {
			return stats, err
		}
		for _, name := range variants {
			id, ok := VariantID(name)
			if !ok {
				continue
			}
			body, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				p.logger.Debug().Err(err).Str("file", name).Msg("skipping unreadable summary")
				continue
			}
			updated, err := p.PutVariant(ctx, rt, id, body)
			if err != nil {
				return stats, err
			}
			if updated {
				stats.Variants++
			} else {
				stats.Orphans++
			}
		}
		stats.ResourceTypes++
	}
	return stats, nil
}

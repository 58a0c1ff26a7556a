package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents as JSONB rows in the documents table (see
// postgres.Migrate). Filters and ordering use jsonb comparison, so numbers
// compare numerically and strings lexicographically.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Get(ctx context.Context, kind, id string) (Document, error) {
	const query = `SELECT version, data, updated_at FROM documents WHERE kind = $1 AND id = $2`
	var (
		doc  = Document{Kind: kind, ID: id}
		data []byte
	)
	err := p.pool.QueryRow(ctx, query, kind, id).Scan(&doc.Version, &data, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("%s/%s: %w", kind, id, domain.ErrNotFound)
		}
		return Document{}, storeErr(ctx, "get "+kind+"/"+id, err)
	}
	doc.Data = data
	return doc, nil
}

func (p *Postgres) Set(ctx context.Context, kind, id string, value any, merge bool) (Document, error) {
	data, err := encode(value)
	if err != nil {
		return Document{}, err
	}

	merged := "EXCLUDED.data"
	if merge {
		merged = "documents.data || EXCLUDED.data"
	}
	query := `
INSERT INTO documents (kind, id, version, data, updated_at)
VALUES ($1, $2, 1, $3::jsonb, now())
ON CONFLICT (kind, id) DO UPDATE
SET data = ` + merged + `, version = documents.version + 1, updated_at = now()
RETURNING version, data, updated_at`

	return p.scanOne(ctx, kind, id, "set", query, kind, id, string(data))
}

func (p *Postgres) UpdateIf(ctx context.Context, kind, id string, version int64, value any) (Document, error) {
	data, err := encode(value)
	if err != nil {
		return Document{}, err
	}

	if version == 0 {
		const insert = `
INSERT INTO documents (kind, id, version, data, updated_at)
VALUES ($1, $2, 1, $3::jsonb, now())
ON CONFLICT (kind, id) DO NOTHING
RETURNING version, data, updated_at`
		doc, err := p.scanOne(ctx, kind, id, "create", insert, kind, id, string(data))
		if errors.Is(err, domain.ErrNotFound) {
			return Document{}, fmt.Errorf("%s/%s already exists: %w", kind, id, domain.ErrVersionConflict)
		}
		return doc, err
	}

	const update = `
UPDATE documents SET data = $4::jsonb, version = version + 1, updated_at = now()
WHERE kind = $1 AND id = $2 AND version = $3
RETURNING version, data, updated_at`
	doc, err := p.scanOne(ctx, kind, id, "update", update, kind, id, version, string(data))
	if !errors.Is(err, domain.ErrNotFound) {
		return doc, err
	}
	// No row matched: either the document is gone or someone else wrote first.
	if _, getErr := p.Get(ctx, kind, id); getErr != nil {
		return Document{}, getErr
	}
	return Document{}, fmt.Errorf("%s/%s at version %d: %w", kind, id, version, domain.ErrVersionConflict)
}

func (p *Postgres) Query(ctx context.Context, kind string, q Query) ([]Document, error) {
	var (
		sb   strings.Builder
		args = []any{kind}
	)
	sb.WriteString(`SELECT id, version, data, updated_at FROM documents WHERE kind = $1`)
	for _, f := range q.Filters {
		if !validOp(f.Op) {
			return nil, fmt.Errorf("query %s: unsupported operator %q", kind, f.Op)
		}
		val, err := encode(f.Value)
		if err != nil {
			return nil, err
		}
		op := string(f.Op)
		if f.Op == OpEq {
			op = "="
		} else if f.Op == OpNe {
			op = "<>"
		}
		args = append(args, f.Field, string(val))
		fieldArg, valArg := len(args)-1, len(args)
		fmt.Fprintf(&sb, ` AND data -> $%d::text %s $%d::jsonb`, fieldArg, op, valArg)
	}
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, ` ORDER BY data -> $%d::text %s, id`, len(args), dir)
	} else {
		sb.WriteString(` ORDER BY id`)
	}
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ` + strconv.Itoa(q.Limit))
	}

	rows, err := p.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, storeErr(ctx, "query "+kind, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			doc  = Document{Kind: kind}
			data []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Version, &data, &doc.UpdatedAt); err != nil {
			return nil, storeErr(ctx, "scan "+kind, err)
		}
		doc.Data = data
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(ctx, "query "+kind, err)
	}
	return out, nil
}

func (p *Postgres) Delete(ctx context.Context, kind, id string) error {
	ct, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE kind = $1 AND id = $2`, kind, id)
	if err != nil {
		return storeErr(ctx, "delete "+kind+"/"+id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}

func (p *Postgres) scanOne(ctx context.Context, kind, id, op, query string, args ...any) (Document, error) {
	var (
		doc  = Document{Kind: kind, ID: id}
		data []byte
		at   time.Time
	)
	err := p.pool.QueryRow(ctx, query, args...).Scan(&doc.Version, &data, &at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("%s/%s: %w", kind, id, domain.ErrNotFound)
		}
		return Document{}, storeErr(ctx, op+" "+kind+"/"+id, err)
	}
	doc.Data = data
	doc.UpdatedAt = at
	return doc, nil
}

// storeErr wraps a driver error. Only failures worth retrying surface as
// domain.ErrStorageUnavailable; a statement the server rejected does not.
func storeErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if transient(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception, 53 insufficient resources.
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53") {
			return true
		}
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"57P01", // admin_shutdown
			"57P02", // crash_shutdown
			"57P03": // cannot_connect_now
			return true
		}
		return false
	}
	var (
		connErr *pgconn.ConnectError
		netErr  net.Error
	)
	return errors.As(err, &connErr) || errors.As(err, &netErr) ||
		pgconn.Timeout(err) || pgconn.SafeToRetry(err) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

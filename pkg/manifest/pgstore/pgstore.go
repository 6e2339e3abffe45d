// Package pgstore keeps dataset manifests in PostgreSQL.
package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/askiada/vrdprep/pkg/manifest"
)

const schema = `
create table if not exists vrdprep_manifests (
	dataset    text primary key,
	objects    text[] not null default '{}',
	predicates text[] not null default '{}',
	updated_at timestamptz not null default now()
);
create table if not exists vrdprep_images (
	dataset    text not null references vrdprep_manifests(dataset) on delete cascade,
	image_id   text not null,
	source_url text not null,
	local_path text not null,
	status     text not null,
	attempts   integer not null default 0,
	last_error text not null default '',
	sha256     text not null default '',
	width      integer not null default 0,
	height     integer not null default 0,
	primary key (dataset, image_id)
);`

// Store is a manifest.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and creates the manifest tables when missing.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to ping database")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to create schema")
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Load(ctx context.Context, dataset string) (*manifest.Manifest, error) {
	m := manifest.New(dataset)
	err := s.pool.QueryRow(ctx,
		`select objects, predicates from vrdprep_manifests where dataset = $1`, dataset,
	).Scan(&m.Vocabulary.Objects, &m.Vocabulary.Predicates)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to load manifest")
	}

	rows, err := s.pool.Query(ctx,
		`select image_id, source_url, local_path, status, attempts, last_error, sha256, width, height
		 from vrdprep_images where dataset = $1`, dataset)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load images")
	}
	defer rows.Close()

	for rows.Next() {
		var e manifest.Entry
		var status string
		if err := rows.Scan(&e.ImageID, &e.SourceURL, &e.LocalPath, &status, &e.Attempts, &e.LastError, &e.SHA256, &e.Width, &e.Height); err != nil {
			return nil, errors.Wrap(err, "unable to scan image")
		}
		e.Status = manifest.Status(status)
		m.Put(e)
	}

	return m, errors.Wrap(rows.Err(), "unable to read images")
}

// Save replaces the manifest in a single transaction.
func (s *Store) Save(ctx context.Context, m *manifest.Manifest) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`insert into vrdprep_manifests(dataset, objects, predicates, updated_at)
			 values($1, $2, $3, now())
			 on conflict (dataset) do update set objects = excluded.objects, predicates = excluded.predicates, updated_at = now()`,
			m.Dataset, nonNil(m.Vocabulary.Objects), nonNil(m.Vocabulary.Predicates),
		)
		if err != nil {
			return errors.Wrap(err, "unable to upsert manifest")
		}
		if _, err := tx.Exec(ctx, `delete from vrdprep_images where dataset = $1`, m.Dataset); err != nil {
			return errors.Wrap(err, "unable to clear images")
		}

		batch := &pgx.Batch{}
		for _, e := range m.Entries() {
			batch.Queue(
				`insert into vrdprep_images(dataset, image_id, source_url, local_path, status, attempts, last_error, sha256, width, height)
				 values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				m.Dataset, e.ImageID, e.SourceURL, e.LocalPath, string(e.Status), e.Attempts, e.LastError, e.SHA256, e.Width, e.Height,
			)
		}
		if batch.Len() == 0 {
			return nil
		}

		return errors.Wrap(tx.SendBatch(ctx, batch).Close(), "unable to insert images")
	})

	return errors.Wrapf(err, "unable to save manifest %s", m.Dataset)
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}

	return names
}

var _ manifest.Store = (*Store)(nil)

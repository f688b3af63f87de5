// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/triage-runtime/internal/domain"
)

type KBRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewKBRepository(pool *pgxpool.Pool, logger *slog.Logger) *KBRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &KBRepository{
		pool:   pool,
		logger: logger,
	}
}

// Search returns documents whose content contains term, case-insensitively.
func (r *KBRepository) Search(ctx context.Context, term string, limit int) ([]domain.KBDocument, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, anchor, content
		FROM kb_documents
		WHERE content ILIKE $1 ESCAPE '\'
		ORDER BY id ASC
		LIMIT $2
	`, "%"+escapeLike(term)+"%", limit)
	if err != nil {
		r.logger.Error("kb search failed", "term", term, "error", err)
		return nil, err
	}

	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.KBDocument, error) {
		var d domain.KBDocument
		err := row.Scan(&d.ID, &d.Title, &d.Anchor, &d.Content)
		return d, err
	})
	if err != nil {
		r.logger.Error("scan kb documents failed", "term", term, "error", err)
		return nil, err
	}
	return docs, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

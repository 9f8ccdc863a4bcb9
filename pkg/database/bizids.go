package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kadds/job-judge/pkg/apperror"
	"github.com/kadds/job-judge/pkg/idgen"
)

// BizIDStore implements idgen.Store over the biz_ids table, giving the
// segmented counter allocator a CAS-on-version row store.
type BizIDStore struct {
	db DB
}

// NewBizIDStore wraps db as an idgen.Store.
func NewBizIDStore(db DB) *BizIDStore {
	return &BizIDStore{db: db}
}

// FetchBizRow loads the current row for bizID.
func (s *BizIDStore) FetchBizRow(ctx context.Context, bizID string) (idgen.BizRow, error) {
	var row idgen.BizRow
	row.BizID = bizID

	err := s.db.QueryRow(ctx,
		`SELECT value, step, max_value, version FROM biz_ids WHERE biz_id = $1`,
		bizID,
	).Scan(&row.Value, &row.Step, &row.MaxValue, &row.Version)

	if errors.Is(err, pgx.ErrNoRows) {
		return idgen.BizRow{}, apperror.ErrInvalidBiz
	}
	if err != nil {
		return idgen.BizRow{}, err
	}
	return row, nil
}

// CASUpdate advances biz_ids.value to newValue and bumps the version,
// succeeding only if the row's version still matches expectedVersion.
func (s *BizIDStore) CASUpdate(ctx context.Context, bizID string, newValue, expectedVersion int64) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE biz_ids SET value = $1, version = version + 1 WHERE biz_id = $2 AND version = $3`,
		newValue, bizID, expectedVersion,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package utils

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dialect"
	"github.com/stephenafamo/bob/dialect/psql/dm"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/stephenafamo/bob/dialect/psql/um"

	"github.com/open-zaak/notificaties-server/internal/service/common/db"
)

// DBQuery is satisfied by *pgxpool.Pool, pgx.Tx and the pgxmock pool, so the
// repository helpers run the same against a pool, inside a transaction, or
// under test.
type DBQuery interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Find retrieves the tuple with the given primary key, or ErrNotFound.
func Find[T db.Model](ctx context.Context, dbConn DBQuery, id uuid.UUID) (*T, error) {
	var record T
	tags := GetAllDBTagsFromStruct(record)

	query, args, err := psql.Select(
		sm.Columns(tags.Columns()...),
		sm.From(record.TableName()),
		sm.Where(psql.Quote(record.PrimaryKey()).EQ(psql.Arg(id))),
	).Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, _ := dbConn.Query(ctx, query, args...) // note: err is passed on to Collect* func so we can ignore this
	record, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[T])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to call database: %w", err)
	}

	return &record, nil
}

// FindAll retrieves all tuples of the model's table. An empty slice is
// returned when the table has no rows.
func FindAll[T db.Model](ctx context.Context, dbConn DBQuery) ([]T, error) {
	return Search[T](ctx, dbConn, nil)
}

// Search retrieves all tuples matching the given expression. A nil
// expression matches everything.
func Search[T db.Model](ctx context.Context, dbConn DBQuery, expr bob.Expression) ([]T, error) {
	var record T
	tags := GetAllDBTagsFromStruct(record)

	if expr == nil {
		expr = psql.Raw("1=1")
	}

	query, args, err := psql.Select(
		sm.Columns(tags.Columns()...),
		sm.From(record.TableName()),
		sm.Where(expr),
	).Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, _ := dbConn.Query(ctx, query, args...)
	records, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[T])
	if err != nil {
		return nil, fmt.Errorf("failed to call database: %w", err)
	}

	return records, nil
}

// Create inserts the given fields of the record and returns the stored row,
// including any DB-assigned defaults. With no fields, all non-nil fields are
// inserted.
func Create[T db.Model](ctx context.Context, dbConn DBQuery, record T, fields ...string) (*T, error) {
	allTags := GetAllDBTagsFromStruct(record)

	var columns []string
	var values []any
	if len(fields) > 0 {
		columns = GetColumns(record, fields)
		values = GetFieldValues(record, fields)
	} else {
		// Single pass over the tag map so columns and values stay aligned.
		for field := range GetNonNilDBTagsFromStruct(record) {
			columns = append(columns, allTags[field])
			values = append(values, GetFieldValues(record, []string{field})...)
		}
	}

	query := psql.Insert(im.Into(record.TableName()), im.Returning(allTags.Columns()...))
	query.Expression.Columns = columns
	query.Apply(im.Values(psql.Arg(values...)))

	sql, args, err := query.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build insert query: %w", err)
	}

	rows, _ := dbConn.Query(ctx, sql, args...)
	record, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[T])
	if err != nil {
		return nil, fmt.Errorf("failed to extract inserted record: %w", err)
	}

	return &record, nil
}

// Update sets the given fields on the row with the given primary key and
// returns the stored row, or ErrNotFound when no row matched.
func Update[T db.Model](ctx context.Context, dbConn DBQuery, id uuid.UUID, record T, fields ...string) (*T, error) {
	allTags := GetAllDBTagsFromStruct(record)

	mods := []bob.Mod[*dialect.UpdateQuery]{
		um.Table(record.TableName()),
		um.Where(psql.Quote(record.PrimaryKey()).EQ(psql.Arg(id))),
		um.Returning(allTags.Columns()...),
	}
	columns := GetColumns(record, fields)
	values := GetFieldValues(record, fields)
	for i, column := range columns {
		mods = append(mods, um.SetCol(column).ToArg(values[i]))
	}

	sql, args, err := psql.Update(mods...).Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build update query: %w", err)
	}

	rows, _ := dbConn.Query(ctx, sql, args...)
	record, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[T])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to extract updated record: %w", err)
	}

	return &record, nil
}

// Delete removes all tuples matching the given expression and reports how
// many rows were affected.
func Delete[T db.Model](ctx context.Context, dbConn DBQuery, expr bob.Expression) (int64, error) {
	var record T
	sql, args, err := psql.Delete(
		dm.From(record.TableName()),
		dm.Where(expr),
	).Build(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query for '%s': %w", record.TableName(), err)
	}

	result, err := dbConn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from '%s': %w", record.TableName(), err)
	}

	return result.RowsAffected(), nil
}

// ExecuteCollectRows runs a raw query and collects the result rows into the
// given struct type, which may be a plain projection rather than a model.
func ExecuteCollectRows[T any](ctx context.Context, dbConn DBQuery, sql string, params []any) ([]T, error) {
	rows, _ := dbConn.Query(ctx, sql, params...)
	records, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[T])
	if err != nil {
		return nil, fmt.Errorf("failed to collect rows: %w", err)
	}
	return records, nil
}

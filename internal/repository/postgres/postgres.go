// Package postgres stores wheels in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"spinwheel/internal/repository"
	"spinwheel/internal/wheel"
)

//go:embed schema.sql
var schema string

const (
	prizesTable  = "wheel_prizes"
	winnersTable = "wheel_winners"

	colWheelID  = "wheel_id"
	colPrizeID  = "prize_id"
	colPosition = "position"
	colName     = "name"
	colStock    = "stock"
	colIcon     = "icon"
	colColor    = "color"

	colSeq        = "seq"
	colID         = "id"
	colPlayerID   = "player_id"
	colPrizeName  = "prize_name"
	colPrizeStock = "prize_stock"
	colPrizeIcon  = "prize_icon"
	colPrizeColor = "prize_color"
	colWonAt      = "won_at"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type repo struct {
	pool      *pgxpool.Pool
	txManager trm.Manager
	getter    *trmpgx.CtxGetter
	owned     bool
}

// New opens a pool for dsn, bootstraps the schema and returns the repository.
func New(ctx context.Context, dsn string) (repository.Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	r, err := NewWithPool(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	r.(*repo).owned = true
	return r, nil
}

// NewWithPool uses an existing pool; Close leaves the pool open.
func NewWithPool(ctx context.Context, pool *pgxpool.Pool) (repository.Repository, error) {
	m, err := manager.New(trmpgx.NewDefaultFactory(pool))
	if err != nil {
		return nil, fmt.Errorf("tx manager: %w", err)
	}
	r := &repo{
		pool:      pool,
		txManager: m,
		getter:    trmpgx.DefaultCtxGetter,
	}
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// EnsureSchema creates the tables if they do not exist.
func (r *repo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *repo) db(ctx context.Context) trmpgx.Tr {
	return r.getter.DefaultTrOrDB(ctx, r.pool)
}

func (r *repo) Roster(ctx context.Context, wheelID string) ([]wheel.Prize, error) {
	query := psql.Select(colPrizeID, colName, colStock, colIcon, colColor).
		From(prizesTable).
		Where(sq.Eq{colWheelID: wheelID}).
		OrderBy(colPosition)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db(ctx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("select roster: %w", err)
	}
	defer rows.Close()

	var roster []wheel.Prize
	for rows.Next() {
		var p wheel.Prize
		if err := rows.Scan(&p.ID, &p.Name, &p.Stock, &p.Icon, &p.Color); err != nil {
			return nil, err
		}
		roster = append(roster, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(roster) == 0 {
		return nil, repository.ErrNotFound
	}
	return roster, nil
}

func (r *repo) exists(ctx context.Context, wheelID string) (bool, error) {
	query := psql.Select("1").
		From(prizesTable).
		Where(sq.Eq{colWheelID: wheelID}).
		Limit(1)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = r.db(ctx).QueryRow(ctx, sqlStr, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) Winners(ctx context.Context, wheelID string) ([]wheel.WinnerRecord, error) {
	ok, err := r.exists(ctx, wheelID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, repository.ErrNotFound
	}

	query := psql.Select(colID, colPlayerID, colName, colPrizeID, colPrizeName, colPrizeStock, colPrizeIcon, colPrizeColor, colWonAt).
		From(winnersTable).
		Where(sq.Eq{colWheelID: wheelID}).
		OrderBy(colSeq + " DESC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db(ctx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("select winners: %w", err)
	}
	defer rows.Close()

	out := []wheel.WinnerRecord{}
	for rows.Next() {
		var rec wheel.WinnerRecord
		if err := rows.Scan(&rec.ID, &rec.PlayerID, &rec.Name, &rec.Prize.ID, &rec.Prize.Name, &rec.Prize.Stock,
			&rec.Prize.Icon, &rec.Prize.Color, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repo) Award(ctx context.Context, wheelID string, prizeID int, winner repository.Winner, at time.Time) (wheel.WinnerRecord, error) {
	var record wheel.WinnerRecord
	err := r.txManager.Do(ctx, func(txCtx context.Context) error {
		query := psql.Select(colName, colStock, colIcon, colColor).
			From(prizesTable).
			Where(sq.Eq{colWheelID: wheelID, colPrizeID: prizeID}).
			Suffix("FOR UPDATE")

		sqlStr, args, err := query.ToSql()
		if err != nil {
			return err
		}
		prize := wheel.Prize{ID: prizeID}
		err = r.db(txCtx).QueryRow(txCtx, sqlStr, args...).Scan(&prize.Name, &prize.Stock, &prize.Icon, &prize.Color)
		if errors.Is(err, pgx.ErrNoRows) {
			ok, existsErr := r.exists(txCtx, wheelID)
			if existsErr != nil {
				return existsErr
			}
			if !ok {
				return repository.ErrNotFound
			}
			return fmt.Errorf("prize %d: %w", prizeID, repository.ErrUnknownPrize)
		}
		if err != nil {
			return fmt.Errorf("lock prize: %w", err)
		}
		if !prize.InStock() {
			return fmt.Errorf("prize %d: %w", prizeID, repository.ErrStaleStock)
		}

		update := psql.Update(prizesTable).
			Set(colStock, sq.Expr(colStock+" - 1")).
			Where(sq.Eq{colWheelID: wheelID, colPrizeID: prizeID})
		sqlStr, args, err = update.ToSql()
		if err != nil {
			return err
		}
		if _, err := r.db(txCtx).Exec(txCtx, sqlStr, args...); err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}

		rec := wheel.WinnerRecord{
			ID:        uuid.NewString(),
			PlayerID:  winner.ID,
			Name:      winner.Name,
			Prize:     prize,
			Timestamp: at.UTC(),
		}
		insert := psql.Insert(winnersTable).
			Columns(colID, colWheelID, colPlayerID, colName, colPrizeID, colPrizeName, colPrizeStock, colPrizeIcon, colPrizeColor, colWonAt).
			Values(rec.ID, wheelID, rec.PlayerID, rec.Name, prize.ID, prize.Name, prize.Stock, prize.Icon, prize.Color, rec.Timestamp)
		sqlStr, args, err = insert.ToSql()
		if err != nil {
			return err
		}
		if _, err := r.db(txCtx).Exec(txCtx, sqlStr, args...); err != nil {
			return fmt.Errorf("insert winner: %w", err)
		}
		record = rec
		return nil
	})
	if err != nil {
		return wheel.WinnerRecord{}, err
	}
	return record, nil
}

func (r *repo) Reset(ctx context.Context, wheelID string, initial []wheel.Prize) error {
	return r.txManager.Do(ctx, func(txCtx context.Context) error {
		for _, table := range []string{winnersTable, prizesTable} {
			sqlStr, args, err := psql.Delete(table).Where(sq.Eq{colWheelID: wheelID}).ToSql()
			if err != nil {
				return err
			}
			if _, err := r.db(txCtx).Exec(txCtx, sqlStr, args...); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if len(initial) == 0 {
			return nil
		}
		insert := psql.Insert(prizesTable).
			Columns(colWheelID, colPrizeID, colPosition, colName, colStock, colIcon, colColor)
		for i, p := range initial {
			insert = insert.Values(wheelID, p.ID, i, p.Name, p.Stock, p.Icon, p.Color)
		}
		sqlStr, args, err := insert.ToSql()
		if err != nil {
			return err
		}
		if _, err := r.db(txCtx).Exec(txCtx, sqlStr, args...); err != nil {
			return fmt.Errorf("insert roster: %w", err)
		}
		return nil
	})
}

func (r *repo) Close() error {
	if r.owned {
		r.pool.Close()
	}
	return nil
}

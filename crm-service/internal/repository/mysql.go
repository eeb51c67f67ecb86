package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"auction-logistics/crm-service/internal/entity"
	"auction-logistics/internal/platform/database"
	"auction-logistics/internal/platform/xerrors"
)

// MySQLRepository stores pipelines, stages and deals in MySQL.
type MySQLRepository struct {
	db *sql.DB
}

func NewMySQLRepository(db *sql.DB) *MySQLRepository {
	return &MySQLRepository{db}
}

var _ Repository = (*MySQLRepository)(nil)

const stageColumns = `id, pipeline_id, name, sort_order, is_closing, is_lost, probability`

const dealColumns = `id, title, pipeline_id, stage_id, amount, currency, contact_name, contact_email, vehicle_vin,
	owner_id, outcome, lost_reason, is_frozen, version, created_at, updated_at, closed_at`

func (r *MySQLRepository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func insertStages(ctx context.Context, tx *sql.Tx, p *entity.Pipeline) error {
	if len(p.Stages) == 0 {
		return nil
	}
	// Insert stages with batch
	query := `INSERT INTO stages (` + stageColumns + `) VALUES `
	var values []interface{}
	for _, s := range p.Stages {
		query += "(?, ?, ?, ?, ?, ?, ?),"
		values = append(values, s.ID, p.ID, s.Name, s.Order, s.IsClosing, s.IsLost, s.Probability)
	}
	query = query[:len(query)-1]
	_, err := tx.ExecContext(ctx, query, values...)
	return err
}

func clearDefault(ctx context.Context, tx *sql.Tx, except string) error {
	_, err := tx.ExecContext(ctx, `UPDATE pipelines SET is_default = FALSE WHERE id <> ? AND is_default = TRUE`, except)
	return err
}

// lockStage holds the pipeline row in share mode until tx ends and checks that
// stageID still belongs to it. UpdatePipeline and DeletePipeline take the same
// row exclusively, so a deal write never lands in a stage being removed.
func lockStage(ctx context.Context, tx *sql.Tx, pipelineID, stageID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM pipelines WHERE id = ? LOCK IN SHARE MODE`, pipelineID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("pipeline %s: %w", pipelineID, xerrors.ErrNotFound)
	}
	if err != nil {
		return err
	}
	err = tx.QueryRowContext(ctx, `SELECT id FROM stages WHERE id = ? AND pipeline_id = ? LOCK IN SHARE MODE`, stageID, pipelineID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: stage %s", xerrors.ErrStageNotInPipeline, stageID)
	}
	return err
}

// strandedDeals counts deals of p sitting in stages p does not have. It must
// run after the pipeline row is locked so every committed deal write is seen.
func strandedDeals(ctx context.Context, tx *sql.Tx, p *entity.Pipeline) (int, error) {
	query := `SELECT COUNT(*) FROM deals WHERE pipeline_id = ?`
	args := []any{p.ID}
	if len(p.Stages) > 0 {
		query += ` AND stage_id NOT IN (?` + strings.Repeat(", ?", len(p.Stages)-1) + `)`
		for _, s := range p.Stages {
			args = append(args, s.ID)
		}
	}
	var n int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (r *MySQLRepository) CreatePipeline(ctx context.Context, p *entity.Pipeline) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO pipelines (id, name, is_default, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, p.ID, p.Name, p.IsDefault, p.CreatedAt, p.UpdatedAt); err != nil {
		return err
	}
	if p.IsDefault {
		if err := clearDefault(ctx, tx, p.ID); err != nil {
			return err
		}
	}
	if err := insertStages(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

func scanStages(rows *sql.Rows) ([]entity.Stage, error) {
	defer rows.Close()
	var stages []entity.Stage
	for rows.Next() {
		var s entity.Stage
		if err := rows.Scan(&s.ID, &s.PipelineID, &s.Name, &s.Order, &s.IsClosing, &s.IsLost, &s.Probability); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (r *MySQLRepository) GetPipeline(ctx context.Context, id string) (*entity.Pipeline, error) {
	p := &entity.Pipeline{}
	err := r.db.QueryRowContext(ctx, `SELECT id, name, is_default, created_at, updated_at FROM pipelines WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pipeline %s: %w", id, xerrors.ErrNotFound)
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE pipeline_id = ? ORDER BY sort_order`, id)
	if err != nil {
		return nil, err
	}
	if p.Stages, err = scanStages(rows); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *MySQLRepository) ListPipelines(ctx context.Context) ([]*entity.Pipeline, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, is_default, created_at, updated_at FROM pipelines ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []*entity.Pipeline
	for rows.Next() {
		p := &entity.Pipeline{}
		if err := rows.Scan(&p.ID, &p.Name, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stageRows, err := r.db.QueryContext(ctx, `SELECT `+stageColumns+` FROM stages ORDER BY pipeline_id, sort_order`)
	if err != nil {
		return nil, err
	}
	stages, err := scanStages(stageRows)
	if err != nil {
		return nil, err
	}
	byPipeline := lo.GroupBy(stages, func(s entity.Stage) string { return s.PipelineID })
	for _, p := range pipelines {
		p.Stages = byPipeline[p.ID]
	}
	return pipelines, nil
}

// UpdatePipeline replaces the pipeline's name, default flag and stage set.
func (r *MySQLRepository) UpdatePipeline(ctx context.Context, p *entity.Pipeline) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE pipelines SET name = ?, is_default = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.IsDefault, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("pipeline %s: %w", p.ID, xerrors.ErrNotFound)
	}
	if n, err := strandedDeals(ctx, tx, p); err != nil {
		return err
	} else if n > 0 {
		return fmt.Errorf("%w: %d deals sit in removed stages of pipeline %s", xerrors.ErrPipelineInUse, n, p.ID)
	}
	if p.IsDefault {
		if err := clearDefault(ctx, tx, p.ID); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stages WHERE pipeline_id = ?`, p.ID); err != nil {
		return err
	}
	if err := insertStages(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *MySQLRepository) DeletePipeline(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM pipelines WHERE id = ? FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("pipeline %s: %w", id, xerrors.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if n, err := strandedDeals(ctx, tx, &entity.Pipeline{ID: id}); err != nil {
		return err
	} else if n > 0 {
		return fmt.Errorf("%w: %d deals reference pipeline %s", xerrors.ErrPipelineInUse, n, id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stages WHERE pipeline_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *MySQLRepository) CreateDeal(ctx context.Context, d *entity.Deal) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lockStage(ctx, tx, d.PipelineID, d.StageID); err != nil {
		return err
	}
	query := `INSERT INTO deals (` + dealColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		d.ID, d.Title, d.PipelineID, d.StageID, d.Amount, d.Currency, d.ContactName, d.ContactEmail, d.VehicleVIN,
		d.OwnerID, nullString(string(d.Outcome)), d.LostReason, d.IsFrozen, d.Version, d.CreatedAt, d.UpdatedAt, d.ClosedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeal(row scanner) (*entity.Deal, error) {
	d := &entity.Deal{}
	var outcome sql.NullString
	var closedAt sql.NullTime
	err := row.Scan(&d.ID, &d.Title, &d.PipelineID, &d.StageID, &d.Amount, &d.Currency, &d.ContactName, &d.ContactEmail,
		&d.VehicleVIN, &d.OwnerID, &outcome, &d.LostReason, &d.IsFrozen, &d.Version, &d.CreatedAt, &d.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	d.Outcome = entity.Outcome(outcome.String)
	if closedAt.Valid {
		d.ClosedAt = &closedAt.Time
	}
	return d, nil
}

func (r *MySQLRepository) GetDeal(ctx context.Context, id string) (*entity.Deal, error) {
	d, err := scanDeal(r.db.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("deal %s: %w", id, xerrors.ErrNotFound)
		}
		return nil, err
	}
	return d, nil
}

func dealWhere(f entity.DealFilter) (string, []any) {
	var conds []string
	var args []any
	if f.PipelineID != "" {
		conds, args = append(conds, "pipeline_id = ?"), append(args, f.PipelineID)
	}
	if f.StageID != "" {
		conds, args = append(conds, "stage_id = ?"), append(args, f.StageID)
	}
	if f.OwnerID != 0 {
		conds, args = append(conds, "owner_id = ?"), append(args, f.OwnerID)
	}
	if f.Outcome != nil {
		if *f.Outcome == entity.OutcomeOpen {
			conds = append(conds, "outcome IS NULL")
		} else {
			conds, args = append(conds, "outcome = ?"), append(args, string(*f.Outcome))
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *MySQLRepository) ListDeals(ctx context.Context, f entity.DealFilter) ([]*entity.Deal, error) {
	where, args := dealWhere(f)
	query := `SELECT ` + dealColumns + ` FROM deals` + where + ` ORDER BY updated_at DESC, id`
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []*entity.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

func (r *MySQLRepository) CountDeals(ctx context.Context, f entity.DealFilter) (int, error) {
	where, args := dealWhere(f)
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deals`+where, args...).Scan(&n)
	return n, err
}

func (r *MySQLRepository) UpdateDeal(ctx context.Context, d *entity.Deal, expectedVersion int64) error {
	version, err := database.PerformOptimisticUpdate(ctx, r.db, "deals", d.ID, expectedVersion, func(tx *sql.Tx) error {
		if err := lockStage(ctx, tx, d.PipelineID, d.StageID); err != nil {
			return err
		}
		query := `UPDATE deals SET title = ?, stage_id = ?, amount = ?, currency = ?, contact_name = ?, contact_email = ?,
			vehicle_vin = ?, owner_id = ?, outcome = ?, lost_reason = ?, is_frozen = ?, updated_at = ?, closed_at = ?
			WHERE id = ?`
		_, err := tx.ExecContext(ctx, query, d.Title, d.StageID, d.Amount, d.Currency, d.ContactName, d.ContactEmail,
			d.VehicleVIN, d.OwnerID, nullString(string(d.Outcome)), d.LostReason, d.IsFrozen, d.UpdatedAt, d.ClosedAt, d.ID)
		return err
	})
	if err != nil {
		return err
	}
	d.Version = version
	return nil
}

func (r *MySQLRepository) DeleteDeal(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM deals WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("deal %s: %w", id, xerrors.ErrNotFound)
	}
	return nil
}

package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/afrith/dagflow/internal/config"
	"github.com/afrith/dagflow/pkg/dagflow/domain"
)

var ErrNotFound = errors.New("not found")

const dagColumns = ` dag_id, description, owner, schedule, start_date, catchup, retries,
		retry_delay_seconds, is_paused, created, updated, flow_chart `

type DagRepository struct {
	db *sql.DB
}

func NewDagRepository(db *sql.DB) *DagRepository {
	return &DagRepository{db: db}
}

// Save inserts a dag definition or updates an existing one by dag_id. The
// paused flag and created date of an existing row are kept.
func (r *DagRepository) Save(def *domain.DagDefinition) error {
	query := ""
	values := `VALUES (` + placeholders(1, 12) + `)`
	switch config.GetSystemSettingString(config.DATABASE_TYPE) {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_SQLLITE:
		query = `
		INSERT INTO dags (` + dagColumns + `)
		` + values + `
		ON CONFLICT (dag_id)
		DO UPDATE SET description = EXCLUDED.description,
			owner = EXCLUDED.owner,
			schedule = EXCLUDED.schedule,
			start_date = EXCLUDED.start_date,
			catchup = EXCLUDED.catchup,
			retries = EXCLUDED.retries,
			retry_delay_seconds = EXCLUDED.retry_delay_seconds,
			updated = EXCLUDED.updated,
			flow_chart = EXCLUDED.flow_chart
	`
	case config.DATABASE_TYPE_MYSQL:
		query = `
		INSERT INTO dags (` + dagColumns + `)
		` + values + `
		ON DUPLICATE KEY UPDATE description = VALUES(description),
			owner = VALUES(owner),
			schedule = VALUES(schedule),
			start_date = VALUES(start_date),
			catchup = VALUES(catchup),
			retries = VALUES(retries),
			retry_delay_seconds = VALUES(retry_delay_seconds),
			updated = VALUES(updated),
			flow_chart = VALUES(flow_chart)
	`
	default:
		return fmt.Errorf("unknown database type %q", config.GetSystemSettingString(config.DATABASE_TYPE))
	}

	_, err := r.db.Exec(query, def.DagID, def.Description, def.Owner, def.Schedule,
		formatDateInDatabase(def.StartDate), def.Catchup, def.Retries, def.RetryDelaySeconds,
		def.IsPaused, formatDateInDatabase(def.Created), formatDateInDatabase(def.Updated), def.FlowChart)
	return err
}

func scanDag(s rowScanner) (*domain.DagDefinition, error) {
	var d domain.DagDefinition
	err := s.Scan(&d.DagID, &d.Description, &d.Owner, &d.Schedule, &d.StartDate, &d.Catchup,
		&d.Retries, &d.RetryDelaySeconds, &d.IsPaused, &d.Created, &d.Updated, &d.FlowChart)
	if err != nil {
		return nil, err
	}
	d.StartDate = utc(d.StartDate)
	d.Created = utc(d.Created)
	d.Updated = utc(d.Updated)
	return &d, nil
}

// FindByID fetches a dag definition, returning ErrNotFound when absent.
func (r *DagRepository) FindByID(dagID string) (*domain.DagDefinition, error) {
	query := `SELECT ` + dagColumns + ` FROM dags WHERE dag_id = ` + placeholder(1)
	d, err := scanDag(r.db.QueryRow(query, dagID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dag %s: %w", dagID, ErrNotFound)
	}
	return d, err
}

// FindAll returns all dag definitions ordered by dag_id.
func (r *DagRepository) FindAll() ([]*domain.DagDefinition, error) {
	rows, err := r.db.Query(`SELECT ` + dagColumns + ` FROM dags ORDER BY dag_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]*domain.DagDefinition, 0)
	for rows.Next() {
		d, err := scanDag(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (r *DagRepository) SetPaused(dagID string, paused bool) error {
	query := `UPDATE dags SET is_paused = ` + placeholder(1) + ` WHERE dag_id = ` + placeholder(2)
	res, err := r.db.Exec(query, paused, dagID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("dag %s: %w", dagID, ErrNotFound)
	}
	return nil
}

// Package journal records per-epoch training metrics in a SQLite
// database, one row per epoch, so finished runs can be inspected with
// plain SQL instead of parsing snapshot files.
package journal

import (
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// LossSnapshot carries the seven weighted loss means of one epoch.
type LossSnapshot struct {
	Total      float64
	Joint      float64
	SMPLJoint  float64
	Proj       float64
	PoseParam  float64
	ShapeParam float64
	Prior      float64
}

// ErrorSnapshot carries the three evaluation errors of one epoch, in
// millimeters.
type ErrorSnapshot struct {
	MPJPE   float64
	PAMPJPE float64
	MPVPE   float64
}

// EpochRow is one journal row read back.
type EpochRow struct {
	Epoch  int
	Losses LossSnapshot
	Errors ErrorSnapshot
}

const schema = `
CREATE TABLE IF NOT EXISTS epoch_metrics (
	epoch            INTEGER PRIMARY KEY,
	total_loss       REAL NOT NULL,
	joint_loss       REAL NOT NULL,
	smpl_joint_loss  REAL NOT NULL,
	proj_loss        REAL NOT NULL,
	pose_param_loss  REAL NOT NULL,
	shape_param_loss REAL NOT NULL,
	prior_loss       REAL NOT NULL,
	mpjpe            REAL NOT NULL,
	pa_mpjpe         REAL NOT NULL,
	mpvpe            REAL NOT NULL,
	created_at       TEXT NOT NULL DEFAULT (datetime('now'))
)`

// Journal is an open metrics database.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal at path and ensures its schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "init journal %s", path)
	}
	return &Journal{db: db}, nil
}

// LogEpoch writes one epoch row, replacing any earlier row for the
// same epoch so re-run epochs keep a single record.
func (j *Journal) LogEpoch(epoch int, losses LossSnapshot, errs ErrorSnapshot) error {
	_, err := j.db.Exec(`INSERT OR REPLACE INTO epoch_metrics
		(epoch, total_loss, joint_loss, smpl_joint_loss, proj_loss,
		 pose_param_loss, shape_param_loss, prior_loss, mpjpe, pa_mpjpe, mpvpe)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		epoch, losses.Total, losses.Joint, losses.SMPLJoint, losses.Proj,
		losses.PoseParam, losses.ShapeParam, losses.Prior,
		errs.MPJPE, errs.PAMPJPE, errs.MPVPE)
	return errors.Wrapf(err, "journal epoch %d", epoch)
}

// Row reads the journal row for one epoch.
func (j *Journal) Row(epoch int) (*EpochRow, error) {
	var r EpochRow
	err := j.db.QueryRow(`SELECT epoch, total_loss, joint_loss, smpl_joint_loss, proj_loss,
		pose_param_loss, shape_param_loss, prior_loss, mpjpe, pa_mpjpe, mpvpe
		FROM epoch_metrics WHERE epoch = ?`, epoch).Scan(
		&r.Epoch, &r.Losses.Total, &r.Losses.Joint, &r.Losses.SMPLJoint, &r.Losses.Proj,
		&r.Losses.PoseParam, &r.Losses.ShapeParam, &r.Losses.Prior,
		&r.Errors.MPJPE, &r.Errors.PAMPJPE, &r.Errors.MPVPE)
	if err != nil {
		return nil, errors.Wrapf(err, "read journal epoch %d", epoch)
	}
	return &r, nil
}

// Epochs returns the number of recorded epochs.
func (j *Journal) Epochs() (int, error) {
	var n int
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM epoch_metrics`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count journal epochs")
	}
	return n, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

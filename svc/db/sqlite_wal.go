package db

import (
	"context"
	"database/sql"
	"time"

	"pastebin/cfg"
	"pastebin/svc/util"

	"github.com/pkg/errors"
)

const (
	truncateLogPages   = 1000
	checkpointInterval = 5 * time.Minute
	checkpointTimeout  = 30 * time.Second
)

// StartWALMaintenance checkpoints the sqlite write-ahead log every interval
// until quit is closed, then runs one last checkpoint. It returns at once
// for other drivers.
func StartWALMaintenance(s *Store, interval time.Duration, quit <-chan struct{}) {
	if s.Driver() != cfg.DriverSQLite {
		return
	}
	if interval <= 0 {
		interval = checkpointInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := Checkpoint(s.db); err != nil {
				util.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-quit:
			if err := Checkpoint(s.db); err != nil {
				util.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			return
		}
	}
}

// Checkpoint runs a PASSIVE checkpoint, escalates to TRUNCATE when the log
// is large or readers kept pages busy, and verifies integrity afterwards.
func Checkpoint(db *sql.DB) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()
	var busy, logPages, checkpointed int
	err := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &logPages, &checkpointed)
	if err != nil {
		return errors.Wrap(err, "PASSIVE checkpoint failed")
	}
	util.Debug().
		Int("busy", busy).
		Int("log", logPages).
		Int("checkpointed", checkpointed).
		Msg("PASSIVE checkpoint result")
	if logPages > truncateLogPages || busy > 0 {
		util.Info().Int("log", logPages).Msg("escalating to TRUNCATE checkpoint")
		err = db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logPages, &checkpointed)
		if err != nil {
			return errors.Wrap(err, "TRUNCATE checkpoint failed")
		}
	}
	if err := verifyIntegrity(ctx, db); err != nil {
		util.Error().Err(err).Msg("CRITICAL: database integrity check failed after checkpoint")
		return errors.Wrap(err, "integrity check failed")
	}
	util.Debug().Dur("duration", time.Since(start)).Msg("WAL checkpoint completed")
	return nil
}
func verifyIntegrity(ctx context.Context, db *sql.DB) error {
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return errors.Wrap(err, "integrity_check query failed")
	}
	if result != "ok" {
		return errors.Errorf("integrity_check returned: %s", result)
	}
	return nil
}

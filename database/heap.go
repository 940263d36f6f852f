package database

import (
	"fmt"
	"time"
)

// LoadPeaks returns the stored peak heap counter of every known pid.
func (db *DB) LoadPeaks() (map[int]int64, error) {
	rows, err := db.Db.Query("SELECT pid, peak_heap FROM task_heap")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	peaks := make(map[int]int64)
	for rows.Next() {
		var pid int
		var peak int64
		if err := rows.Scan(&pid, &peak); err != nil {
			return nil, err
		}
		peaks[pid] = peak
	}
	return peaks, rows.Err()
}

// SavePeaks replaces the stored peak counters with peaks. Pids that are no
// longer present are dropped.
func (db *DB) SavePeaks(peaks map[int]int64) error {
	tx, err := db.Db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM task_heap"); err != nil {
		return fmt.Errorf("failed to clear peak counters: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO task_heap (pid, peak_heap, updated_at) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for pid, peak := range peaks {
		if _, err := stmt.Exec(pid, peak, now); err != nil {
			return fmt.Errorf("failed to save peak for PID %d: %w", pid, err)
		}
	}
	return tx.Commit()
}

// ClearPeaks zeroes every stored peak counter and returns how many were
// reset.
func (db *DB) ClearPeaks() (int64, error) {
	res, err := db.Db.Exec("UPDATE task_heap SET peak_heap = 0, updated_at = ?", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clear peak counters: %w", err)
	}
	return res.RowsAffected()
}

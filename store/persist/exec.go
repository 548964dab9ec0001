package persist

import (
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"

	"privateer/log"
)

// Retrier wraps SQL execution with the deadlock-retry policy chihaya
// uses ambiently (database/database.go perform): MySQL errors 1213
// (deadlock) and 1205 (lock wait timeout) are retried with linearly
// increasing backoff up to MaxRetries; any other driver error is logged
// and returned to the caller. This is supplemented ambient behavior
// not named in this tracker's error-handling section, which only specifies
// that transient persistence failures are logged and retried at the lane
// level — this adds the same idiom one level down, at the single-statement
// level, matching chihaya's actual practice.
type Retrier struct {
	Wait time.Duration
	MaxRetries int
}

func NewRetrier() *Retrier {
	return &Retrier{Wait: time.Second, MaxRetries: 20}
}

func (r *Retrier) Exec(db *sql.DB, query string, args ...any) (sql.Result, error) {
	var lastErr error

	for try := 1; try <= r.MaxRetries; try++ {
		result, err := db.Exec(query, args...)
		if err == nil {
			return result, nil
		}

		lastErr = err

		merr, isMySQLError := err.(*mysql.MySQLError)
		if !isMySQLError || (merr.Number != 1213 && merr.Number != 1205) {
			log.Error.Printf("persist: SQL error: %s", err)
			return nil, err
		}

		wait := r.Wait * time.Duration(try)
		log.Warning.Printf("persist: deadlock, retrying in %s (%d/%d)", wait, try, r.MaxRetries)
		time.Sleep(wait)
	}

	log.Error.Printf("persist: deadlocked %d times, giving up", r.MaxRetries)

	return nil, lastErr
}

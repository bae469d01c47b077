// Package errors holds deferred cleanup helpers: a failing Close or Rollback
// is logged but never replaces the error already being returned.
package errors

import (
	"database/sql"
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// DeferClose closes an io.Closer and logs a failure.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// DeferRollback rolls back a transaction and logs a failure.
// sql.ErrTxDone is expected after a successful commit and is ignored.
func DeferRollback(logger zerolog.Logger, tx *sql.Tx) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Warn().Err(err).Msg("transaction rollback failed")
	}
}

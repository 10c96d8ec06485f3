package postgres

import (
	"context"
	"net"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

// queryError annotates a database error with the operation that produced it
// and classifies it as transient or permanent.
type queryError struct {
	op  string
	err error
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &queryError{op: op, err: err}
}

func (e *queryError) Error() string { return e.op + ": " + e.err.Error() }

func (e *queryError) Unwrap() error { return e.err }

// Transient reports whether the failed operation may succeed if retried.
func (e *queryError) Transient() bool {
	return isTransient(e.err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"53300", // too_many_connections
			"57P01", // admin_shutdown
			"57P03": // cannot_connect_now
			return true
		}
		// Class 08: connection exception.
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

package observability

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the learnhub schema can raise in normal operation.
const (
	pgUniqueViolation     = "23505" // duplicate email, grant or rating
	pgForeignKeyViolation = "23503" // module under a missing subchapter, grant to a deleted user
	pgCheckViolation      = "23514" // module status and review stamp, rating range
	pgInvalidText         = "22P02" // malformed uuid reaching a query
	pgSerialization       = "40001"
	pgDeadlock            = "40P01"
	pgQueryCanceled       = "57014"
)

// ObserveDB times fn under the logical op name. A missing row is a normal
// lookup result and is recorded as "no_rows", not as an error.
func (p *Prom) ObserveDB(op string, fn func() error) error {
	if p == nil {
		return fn()
	}

	start := time.Now()
	err := fn()

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		status = "no_rows"
	default:
		status = "error"
		p.DbErrorsTotal.WithLabelValues(op, DBErrorClass(err)).Inc()
	}

	p.DbQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

// DBErrorClass buckets err into a small, fixed label set.
func DBErrorClass(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return "unique_violation"
		case pgForeignKeyViolation:
			return "foreign_key_violation"
		case pgCheckViolation:
			return "check_violation"
		case pgInvalidText:
			return "invalid_input"
		case pgSerialization:
			return "serialization_failure"
		case pgDeadlock:
			return "deadlock"
		case pgQueryCanceled:
			return "query_canceled"
		}
		return "pg_other"
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case pgconn.Timeout(err):
		return "timeout"
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return "connection"
	}
	return "unknown"
}

package repositories

import (
	"context"
	"database/sql"
	stderrors "errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/TFMV/sqlguard/pkg/errors"
)

// ScanRows reads every row of rows into column-keyed maps and closes rows.
func ScanRows(rows *sql.Rows) ([]string, []map[string]interface{}, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	out := make([]map[string]interface{}, 0)
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = NormalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

// NormalizeValue converts driver values into JSON-friendly equivalents.
// Byte slices become strings, 16-byte arrays become UUID strings and
// non-finite floats become their textual names.
func NormalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case float64:
		return normalizeFloat(x)
	case float32:
		return normalizeFloat(float64(x))
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return v
	}
}

func normalizeFloat(f float64) interface{} {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}

// WrapExecutionError categorizes an engine error. Context deadlines become
// DEADLINE_EXCEEDED; everything else keeps the engine's message with its
// whitespace normalized. PostgreSQL errors also carry their SQLSTATE and
// the server's hint.
func WrapExecutionError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var categorized *errors.Error
	if stderrors.As(err, &categorized) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrap(err, errors.CodeDeadlineExceeded, "query execution timeout").
			WithHint("Narrow the query or request a smaller page")
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.CodeCanceled, "query canceled")
	}
	wrapped := errors.Wrap(err, errors.CodeExecutionFailed, errors.NormalizeMessage(err.Error()))

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		wrapped.WithDetail("sqlstate", pgErr.Code)
		if pgErr.Detail != "" {
			wrapped.WithDetail("detail", pgErr.Detail)
		}
		if pgErr.Hint != "" {
			wrapped.WithHint(pgErr.Hint)
		}
	}
	return wrapped
}

package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlguard/pkg/errors"
)

func TestPolicyValidator_Validate(t *testing.T) {
	classifier := NewStatementClassifier()
	validator := NewPolicyValidator()

	tests := []struct {
		name     string
		sql      string
		mode     AccessMode
		allowed  bool
		reason   string
		category string
	}{
		// read-only mode
		{name: "select allowed", sql: "SELECT * FROM users", mode: ReadOnly, allowed: true},
		{name: "with allowed", sql: "WITH x AS (SELECT 1) SELECT * FROM x", mode: ReadOnly, allowed: true},
		{name: "explain allowed", sql: "EXPLAIN SELECT * FROM users", mode: ReadOnly, allowed: true},
		{name: "insert read-only", sql: "INSERT INTO users (id) VALUES (1)", mode: ReadOnly, reason: ReasonReadOnly, category: "read_only"},
		{name: "update read-only", sql: "UPDATE users SET a = 1 WHERE id = 1", mode: ReadOnly, reason: ReasonReadOnly, category: "read_only"},
		{name: "delete read-only", sql: "DELETE FROM users WHERE id = 1", mode: ReadOnly, reason: ReasonReadOnly, category: "read_only"},
		{name: "merge read-only", sql: "MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN DELETE", mode: ReadOnly, reason: ReasonReadOnly, category: "read_only"},
		{name: "cte write read-only", sql: "WITH d AS (DELETE FROM t WHERE id = 1 RETURNING *) SELECT * FROM d", mode: ReadOnly, reason: ReasonReadOnly, category: "read_only"},
		{name: "drop read-only", sql: "DROP TABLE users", mode: ReadOnly, reason: ReasonNotAllowed, category: "dangerous"},
		{name: "unparseable read-only", sql: "SELEC * FROM users", mode: ReadOnly, reason: ReasonInvalidSyntax, category: "unparseable"},

		// read-write mode
		{name: "select read-write", sql: "SELECT 1", mode: ReadWrite, allowed: true},
		{name: "insert read-write", sql: "INSERT INTO users (id) VALUES (1)", mode: ReadWrite, allowed: true},
		{name: "update with where", sql: "UPDATE users SET a = 1 WHERE id = 1", mode: ReadWrite, allowed: true},
		{name: "delete with where", sql: "DELETE FROM users WHERE id = 1", mode: ReadWrite, allowed: true},
		{name: "update without where", sql: "UPDATE users SET a = 1", mode: ReadWrite, reason: ReasonMissingWhere, category: "missing_where"},
		{name: "delete without where", sql: "DELETE FROM users", mode: ReadWrite, reason: ReasonMissingWhere, category: "missing_where"},
		{name: "update trivial where", sql: "UPDATE users SET a = 1 WHERE 1=1", mode: ReadWrite, reason: ReasonTrivialWhere, category: "trivial_where"},
		{name: "delete where true", sql: "DELETE FROM users WHERE TRUE", mode: ReadWrite, reason: ReasonTrivialWhere, category: "trivial_where"},
		{name: "merge unsupported", sql: "MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN DELETE", mode: ReadWrite, reason: ReasonNotSupported, category: "unsupported"},
		{name: "upsert unsupported", sql: "UPSERT INTO t VALUES (1)", mode: ReadWrite, reason: ReasonNotSupported, category: "unsupported"},
		{name: "cte delete without where", sql: "WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d", mode: ReadWrite, reason: ReasonMissingWhere, category: "missing_where"},
		{name: "truncate read-write", sql: "TRUNCATE users", mode: ReadWrite, reason: ReasonNotAllowed, category: "dangerous"},
		{name: "multiple statements", sql: "SELECT 1; SELECT 2", mode: ReadWrite, reason: ReasonInvalidSyntax, category: "unparseable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(classifier.Classify(tt.sql), tt.mode)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsPolicyRejection(err))
			assert.Contains(t, err.Error(), tt.reason)
			assert.Equal(t, tt.category, RejectionCategory(err))
		})
	}
}

func TestPolicyValidator_Messages(t *testing.T) {
	classifier := NewStatementClassifier()
	validator := NewPolicyValidator()

	t.Run("dangerous names the keyword", func(t *testing.T) {
		err := validator.Validate(classifier.Classify("DROP TABLE users"), ReadWrite)
		require.Error(t, err)
		assert.Equal(t, "DROP operation not allowed", errors.GetMessage(err))
	})

	t.Run("read-only names the kind", func(t *testing.T) {
		err := validator.Validate(classifier.Classify("DELETE FROM users WHERE id = 1"), ReadOnly)
		require.Error(t, err)
		assert.Equal(t, "DELETE is not permitted in read-only mode: only SELECT/WITH/EXPLAIN allowed", errors.GetMessage(err))
	})

	t.Run("missing where", func(t *testing.T) {
		err := validator.Validate(classifier.Classify("UPDATE users SET a = 1"), ReadWrite)
		require.Error(t, err)
		assert.Equal(t, "UPDATE statements must include a WHERE clause", errors.GetMessage(err))
		assert.NotEmpty(t, errors.GetHint(err))
	})

	t.Run("trivial where records pattern", func(t *testing.T) {
		err := validator.Validate(classifier.Classify("DELETE FROM users WHERE 'x' = 'x'"), ReadWrite)
		require.Error(t, err)
		var e *errors.Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "DELETE statements cannot use trivial WHERE clauses", e.Message)
		assert.Equal(t, "identical string literals", e.Details["pattern"])
	})

	t.Run("unparseable includes parser reason", func(t *testing.T) {
		err := validator.Validate(&UnparseableStatement{Reason: "syntax error at or near \"SELEC\""}, ReadOnly)
		require.Error(t, err)
		assert.Equal(t, "invalid SQL syntax: syntax error at or near \"SELEC\"", errors.GetMessage(err))
	})

	t.Run("nil statement fails closed", func(t *testing.T) {
		err := validator.Validate(nil, ReadWrite)
		require.Error(t, err)
		assert.Equal(t, "unknown", RejectionCategory(err))
	})
}

func TestPolicyValidator_Deterministic(t *testing.T) {
	classifier := NewStatementClassifier()
	validator := NewPolicyValidator()

	stmt := classifier.Classify("UPDATE users SET a = 1 WHERE 1=1")
	first := validator.Validate(stmt, ReadWrite)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first.Error(), validator.Validate(stmt, ReadWrite).Error())
	}
}

func TestParseAccessMode(t *testing.T) {
	tests := []struct {
		in      string
		want    AccessMode
		wantErr bool
	}{
		{in: "", want: ReadOnly},
		{in: "read-only", want: ReadOnly},
		{in: "READ_ONLY", want: ReadOnly},
		{in: "ro", want: ReadOnly},
		{in: "read-write", want: ReadWrite},
		{in: "readwrite", want: ReadWrite},
		{in: " rw ", want: ReadWrite},
		{in: "admin", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAccessMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "read-only", ReadOnly.String())
	assert.Equal(t, "read-write", ReadWrite.String())
}

func TestRejectionCategory(t *testing.T) {
	assert.Equal(t, "other", RejectionCategory(errors.New(errors.CodeInternal, "boom")))
	assert.Equal(t, "other", RejectionCategory(assert.AnError))
}

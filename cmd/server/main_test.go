package main

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlguard/cmd/server/server"
	"github.com/TFMV/sqlguard/pkg/services"
)

func TestCheck(t *testing.T) {
	policy := services.DefaultPolicyConfig()
	checker := server.NewCheckService(policy, zerolog.Nop())

	tests := []struct {
		name    string
		sql     string
		allowed bool
		kind    string
		wantSQL string
		code    string
	}{
		{
			name:    "select gets a limit",
			sql:     "SELECT * FROM users",
			allowed: true,
			kind:    "SELECT",
			wantSQL: "SELECT * FROM users LIMIT 100",
		},
		{
			name:    "explain is paginated like any read",
			sql:     "EXPLAIN SELECT * FROM users",
			allowed: true,
			kind:    "EXPLAIN",
			wantSQL: "EXPLAIN SELECT * FROM users LIMIT 100",
		},
		{
			name: "write in read-only mode",
			sql:  "DELETE FROM users WHERE id = 1",
			kind: "DELETE",
			code: "POLICY_REJECTED",
		},
		{
			name: "empty statement",
			sql:  "   ",
			kind: "UNPARSEABLE",
			code: "INVALID_INPUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, allowed := check(checker, policy, tt.sql)
			assert.Equal(t, tt.allowed, allowed)
			assert.Equal(t, tt.allowed, report.Allowed)
			assert.Equal(t, tt.kind, report.Kind)
			assert.Equal(t, tt.wantSQL, report.SQL)
			assert.Equal(t, tt.code, report.Code)
			if !tt.allowed {
				assert.NotEmpty(t, report.Error)
			}
		})
	}
}

func TestReadStatement(t *testing.T) {
	sql, err := readStatement([]string{"SELECT", "1"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", sql)

	sql, err = readStatement(nil, strings.NewReader("SELECT 2\n"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2\n", sql)
}

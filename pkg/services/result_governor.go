package services

import (
	"encoding/json"

	"github.com/TFMV/sqlguard/pkg/errors"
	"github.com/TFMV/sqlguard/pkg/models"
)

// ResultGovernor caps the serialized size of read results.
type ResultGovernor struct {
	maxBytes int
}

// NewResultGovernor creates a governor from the policy payload ceiling.
func NewResultGovernor(cfg PolicyConfig) *ResultGovernor {
	return &ResultGovernor{maxBytes: cfg.MaxPayloadBytes}
}

// Govern measures the serialized row set and turns an oversized result into
// a rejection. It runs after execution, so it bounds the response but not the
// work the database already did. Non-row outcomes pass through.
func (g *ResultGovernor) Govern(outcome *models.ExecutionOutcome) (*models.ExecutionOutcome, error) {
	if outcome == nil || outcome.Kind != models.OutcomeRows {
		return outcome, nil
	}

	payload, err := json.Marshal(outcome.Rows)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to serialize result rows")
	}
	outcome.PayloadBytes = len(payload)

	if len(payload) <= g.maxBytes {
		return outcome, nil
	}

	rejection := errors.Newf(errors.CodePayloadTooLarge,
		"result payload of %d bytes exceeds the maximum of %d bytes", len(payload), g.maxBytes).
		WithDetail("actual_bytes", len(payload)).
		WithDetail("max_bytes", g.maxBytes).
		WithHint("Request a smaller pageSize or add a more selective WHERE clause")

	rejected := models.Rejected(outcome.StatementKind, rejection)
	rejected.PayloadBytes = len(payload)
	return rejected, nil
}

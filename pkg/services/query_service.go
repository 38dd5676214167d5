package services

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/TFMV/sqlguard/pkg/cache"
	"github.com/TFMV/sqlguard/pkg/errors"
	"github.com/TFMV/sqlguard/pkg/models"
	"github.com/TFMV/sqlguard/pkg/repositories"
)

// queryService implements QueryService interface.
type queryService struct {
	repo       repositories.QueryRepository
	policy     PolicyConfig
	logger     Logger
	metrics    MetricsCollector
	classifier Classifier
	validator  *PolicyValidator
	sanitizer  *ParameterSanitizer
	paginator  *Paginator
	governor   *ResultGovernor
}

// NewQueryService creates a new query service.
func NewQueryService(
	repo repositories.QueryRepository,
	policy PolicyConfig,
	logger Logger,
	metrics MetricsCollector,
) QueryService {
	var classifier Classifier = NewStatementClassifier()
	if cached, err := NewCachedClassifier(classifier, cache.DefaultConfig(), metrics); err == nil {
		classifier = cached
	}

	return &queryService{
		repo:       repo,
		policy:     policy,
		logger:     logger,
		metrics:    metrics,
		classifier: classifier,
		validator:  NewPolicyValidator(),
		sanitizer:  NewParameterSanitizer(),
		paginator:  NewPaginator(policy),
		governor:   NewResultGovernor(policy),
	}
}

// Execute runs one request through the pipeline. The gateway is reached only
// after classification, policy validation and parameter sanitization have
// all passed.
func (s *queryService) Execute(ctx context.Context, req *models.QueryRequest) (*models.ExecutionOutcome, error) {
	timer := s.metrics.StartTimer("query_duration_seconds")
	defer timer.Stop()

	if req == nil {
		return nil, errors.New(errors.CodeInvalidInput, "query request cannot be nil")
	}
	if strings.TrimSpace(req.SQL) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "sql cannot be empty")
	}

	stmt := s.classifier.Classify(req.SQL)
	kind := stmt.Kind()
	s.metrics.IncrementCounter("statements_total", "kind", kind.String())

	s.logger.Debug("Classified statement",
		"request_id", req.RequestID,
		"kind", kind.String(),
		"sql", truncateSQL(req.SQL),
		"param_count", len(req.Parameters))

	if err := s.validator.Validate(stmt, s.policy.AccessMode); err != nil {
		return s.reject(req, kind, err), nil
	}

	params, err := s.sanitizer.Sanitize(req.Parameters)
	if err != nil {
		return s.reject(req, kind, err), nil
	}

	if kind.IsReadOnly() {
		return s.executeRead(ctx, req, kind, params)
	}
	return s.executeWrite(ctx, req, kind, params)
}

func (s *queryService) executeRead(ctx context.Context, req *models.QueryRequest, kind StatementKind, params []models.Scalar) (*models.ExecutionOutcome, error) {
	plan := s.paginator.Paginate(req.SQL, req.PageSize, req.Offset)
	if plan.Rewritten {
		s.metrics.IncrementCounter("rewrites_total")
		s.logger.Debug("Appended row limit",
			"request_id", req.RequestID,
			"page_size", plan.PageSize,
			"offset", plan.Offset)
	}

	start := time.Now()
	result, err := s.repo.ExecuteQuery(ctx, plan.SQL, models.Args(params)...)
	executionTime := time.Since(start)
	if err != nil {
		return nil, s.executionFailed(ctx, req, kind, err, executionTime)
	}

	outcome := &models.ExecutionOutcome{
		Kind:          models.OutcomeRows,
		StatementKind: kind.String(),
		Rows:          result.Rows,
		RowCount:      int64(len(result.Rows)),
		Pagination: &models.Pagination{
			HasMore:  plan.HasMore(len(result.Rows)),
			PageSize: plan.PageSize,
			Offset:   plan.Offset,
		},
	}

	governed, err := s.governor.Govern(outcome)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordHistogram("payload_bytes", float64(governed.PayloadBytes))
	if governed.Kind == models.OutcomeRejected {
		return s.reject(req, kind, governed.Rejection), nil
	}

	s.logger.Info("Query executed successfully",
		"request_id", req.RequestID,
		"kind", kind.String(),
		"rows", governed.RowCount,
		"payload_bytes", governed.PayloadBytes,
		"execution_time", executionTime)

	return governed, nil
}

func (s *queryService) executeWrite(ctx context.Context, req *models.QueryRequest, kind StatementKind, params []models.Scalar) (*models.ExecutionOutcome, error) {
	start := time.Now()
	result, err := s.repo.ExecuteUpdate(ctx, req.SQL, models.Args(params)...)
	executionTime := time.Since(start)
	if err != nil {
		return nil, s.executionFailed(ctx, req, kind, err, executionTime)
	}

	s.logger.Info("Update executed successfully",
		"request_id", req.RequestID,
		"kind", kind.String(),
		"rows_affected", result.RowsAffected,
		"execution_time", executionTime)

	return &models.ExecutionOutcome{
		Kind:          models.OutcomeAffected,
		StatementKind: kind.String(),
		RowCount:      result.RowsAffected,
	}, nil
}

func (s *queryService) reject(req *models.QueryRequest, kind StatementKind, err error) *models.ExecutionOutcome {
	var rejection *errors.Error
	if !stderrors.As(err, &rejection) {
		rejection = errors.Wrap(err, errors.CodePolicyRejected, errors.NormalizeMessage(err.Error()))
	}

	reason := rejectionReason(rejection)
	s.metrics.IncrementCounter("rejections_total", "reason", reason)
	s.logger.Warn("Statement rejected",
		"request_id", req.RequestID,
		"kind", kind.String(),
		"reason", reason,
		"error", rejection.Message)

	return models.Rejected(kind.String(), rejection)
}

func (s *queryService) executionFailed(ctx context.Context, req *models.QueryRequest, kind StatementKind, err error, elapsed time.Duration) error {
	wrapped := repositories.WrapExecutionError(ctx, err)
	s.metrics.IncrementCounter("execution_errors_total", "code", errors.GetCode(wrapped))
	s.logger.Error("Query execution failed",
		"request_id", req.RequestID,
		"kind", kind.String(),
		"sql", truncateSQL(req.SQL),
		"error", wrapped,
		"execution_time", elapsed)
	return wrapped
}

// Check classifies and validates sql under the configured access mode.
func (s *queryService) Check(sql string) (StatementKind, error) {
	if strings.TrimSpace(sql) == "" {
		return KindUnparseable, errors.New(errors.CodeInvalidInput, "sql cannot be empty")
	}
	stmt := s.classifier.Classify(sql)
	return stmt.Kind(), s.validator.Validate(stmt, s.policy.AccessMode)
}

func (s *queryService) Policy() PolicyConfig {
	return s.policy
}

// rejectionReason labels a rejection for metrics: the policy category for
// policy errors, the lowercased code otherwise.
func rejectionReason(err *errors.Error) string {
	if err.Code == errors.CodePolicyRejected {
		return RejectionCategory(err)
	}
	return strings.ToLower(err.Code)
}

func truncateSQL(sql string) string {
	sql = errors.NormalizeMessage(sql)
	if len(sql) > 200 {
		return sql[:200] + "..."
	}
	return sql
}

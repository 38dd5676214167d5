package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/TFMV/sqlguard/pkg/errors"
	"github.com/TFMV/sqlguard/pkg/models"
	"github.com/TFMV/sqlguard/pkg/services"
)

// queryHandler implements QueryHandler interface.
type queryHandler struct {
	queryService services.QueryService
	driver       string
	logger       Logger
	metrics      MetricsCollector
}

// NewQueryHandler creates a new query handler. driver is reported by the
// policy tool.
func NewQueryHandler(
	queryService services.QueryService,
	driver string,
	logger Logger,
	metrics MetricsCollector,
) QueryHandler {
	return &queryHandler{
		queryService: queryService,
		driver:       driver,
		logger:       logger,
		metrics:      metrics,
	}
}

func (h *queryHandler) QueryTool() mcp.Tool {
	policy := h.queryService.Policy()
	readOnly := policy.AccessMode == services.ReadOnly

	description := "Execute one SQL statement against the configured database. " +
		"Statements are classified and checked against the access policy before they run. " +
		"Read results are paginated."
	if readOnly {
		description += " The server is read-only: only SELECT, WITH and EXPLAIN are accepted."
	}

	return mcp.NewTool(QueryToolName,
		mcp.WithDescription(description),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("A single SQL statement. Use positional placeholders ($1, $2, ...) for values."),
		),
		mcp.WithArray("parameters",
			mcp.Description("Values bound to the statement placeholders. Each must be null, a number, a boolean or a string."),
		),
		mcp.WithNumber("pageSize",
			mcp.Description(fmt.Sprintf("Rows per page for read statements (default %d, max %d).",
				policy.DefaultPageSize, policy.MaxPageSize)),
			mcp.Min(1),
			mcp.Max(float64(policy.MaxPageSize)),
		),
		mcp.WithNumber("offset",
			mcp.Description("Rows to skip before the page starts (default 0)."),
			mcp.Min(0),
		),
		mcp.WithReadOnlyHintAnnotation(readOnly),
		mcp.WithDestructiveHintAnnotation(!readOnly),
		mcp.WithOpenWorldHintAnnotation(false),
	)
}

func (h *queryHandler) PolicyTool() mcp.Tool {
	return mcp.NewTool(PolicyToolName,
		mcp.WithDescription("Report the active access mode and result limits of the query tool."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
}

// HandleQuery executes the query tool.
func (h *queryHandler) HandleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	timer := h.metrics.StartTimer("handler_query")
	defer timer.Stop()

	queryReq, err := parseQueryArguments(req.GetArguments(), h.queryService.Policy().MaxPageSize)
	if err != nil {
		h.metrics.IncrementCounter("tool_results_total", "result", "invalid_input")
		h.logger.Debug("Rejected tool arguments", "error", err)
		return errorResult(err), nil
	}
	queryReq.RequestID = RequestIDFromContext(ctx)

	outcome, err := h.queryService.Execute(ctx, queryReq)
	if err != nil {
		h.metrics.IncrementCounter("tool_results_total", "result", "error")
		return errorResult(err), nil
	}

	switch outcome.Kind {
	case models.OutcomeRows:
		h.metrics.IncrementCounter("tool_results_total", "result", "rows")
		rows := outcome.Rows
		if rows == nil {
			rows = make([]map[string]interface{}, 0)
		}
		var page models.Pagination
		if outcome.Pagination != nil {
			page = *outcome.Pagination
		}
		return jsonResult(models.RowsResponse{
			Rows:       rows,
			RowCount:   outcome.RowCount,
			Pagination: page,
		})

	case models.OutcomeAffected:
		h.metrics.IncrementCounter("tool_results_total", "result", "affected")
		return jsonResult(models.AffectedResponse{RowCount: outcome.RowCount})

	case models.OutcomeRejected:
		h.metrics.IncrementCounter("tool_results_total", "result", "rejected")
		if outcome.Rejection == nil {
			return errorResult(errors.New(errors.CodePolicyRejected, "statement rejected")), nil
		}
		return errorResult(outcome.Rejection), nil

	default:
		h.logger.Error("Unknown outcome kind", "kind", outcome.Kind.String())
		return errorResult(errors.New(errors.CodeInternal, "unknown outcome")), nil
	}
}

// HandlePolicy executes the policy tool.
func (h *queryHandler) HandlePolicy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	policy := h.queryService.Policy()
	return jsonResult(models.PolicyResponse{
		AccessMode:       policy.AccessMode.String(),
		MaxPageSize:      policy.MaxPageSize,
		DefaultPageSize:  policy.DefaultPageSize,
		AutoLimitEnabled: policy.AutoLimitEnabled,
		MaxPayloadBytes:  policy.MaxPayloadBytes,
		Driver:           h.driver,
	})
}

// parseQueryArguments checks argument shapes. Messages name the offending
// field.
func parseQueryArguments(args map[string]interface{}, maxPageSize int) (*models.QueryRequest, error) {
	raw, ok := args["sql"]
	if !ok || raw == nil {
		return nil, errors.New(errors.CodeInvalidInput, "sql is required")
	}
	sql, ok := raw.(string)
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidInput, "sql must be a string, got %s", jsonType(raw))
	}
	if strings.TrimSpace(sql) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "sql must not be empty")
	}

	req := &models.QueryRequest{SQL: sql}

	if raw, ok := args["parameters"]; ok && raw != nil {
		params, ok := raw.([]interface{})
		if !ok {
			return nil, errors.Newf(errors.CodeInvalidInput, "parameters must be an array, got %s", jsonType(raw))
		}
		req.Parameters = params
	}

	if raw, ok := args["pageSize"]; ok && raw != nil {
		n, ok := integerValue(raw)
		if !ok {
			return nil, errors.Newf(errors.CodeInvalidInput, "pageSize must be an integer, got %s", jsonType(raw))
		}
		if n < 1 || n > maxPageSize {
			return nil, errors.Newf(errors.CodeInvalidInput, "pageSize must be between 1 and %d, got %d", maxPageSize, n)
		}
		req.PageSize = &n
	}

	if raw, ok := args["offset"]; ok && raw != nil {
		n, ok := integerValue(raw)
		if !ok {
			return nil, errors.Newf(errors.CodeInvalidInput, "offset must be an integer, got %s", jsonType(raw))
		}
		if n < 0 {
			return nil, errors.Newf(errors.CodeInvalidInput, "offset must be a non-negative integer, got %d", n)
		}
		req.Offset = &n
	}

	return req, nil
}

func integerValue(v interface{}) (int, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		return n, true
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func jsonType(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int64, json.Number:
		return "number"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func jsonResult(body interface{}) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return errorResult(errors.Wrap(err, errors.CodeInternal, "failed to encode result")), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// errorResult renders err as the {error, code, hint} body of a tool error.
func errorResult(err error) *mcp.CallToolResult {
	body := models.ErrorResponse{
		Error: errors.GetMessage(err),
		Code:  errors.GetCode(err),
		Hint:  errors.GetHint(err),
	}
	payload, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		return mcp.NewToolResultError(body.Error)
	}
	return mcp.NewToolResultError(string(payload))
}

package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"quiz-backend/internal/domain"
	"quiz-backend/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	unknownSource     = "Unbekanntes PDF"
	maxLocalBodyBytes = 1 << 20
)

type QuizUseCase interface {
	Authenticate(ctx context.Context, token string) (string, error)
	Generate(ctx context.Context, uid string, in usecase.GenerateInput) ([]domain.Question, error)
	ListHistory(ctx context.Context, uid string) ([]domain.HistoryEntry, error)
	DeleteHistoryEntry(ctx context.Context, uid, id string) error
	DeleteAccount(ctx context.Context, uid string) error
}

type generateRequest struct {
	GSLink string `json:"gs_link"`
}

type historyItem struct {
	ID               string            `json:"id"`
	OriginalFilename string            `json:"original_filename"`
	Date             string            `json:"date"`
	Questions        []domain.Question `json:"questions"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// request is the per-call state shared by the route functions.
type request struct {
	event events.APIGatewayProxyRequest
	uid   string
}

type route func(ctx context.Context, r request) (int, any, error)

type Handler struct {
	uc     QuizUseCase
	routes map[string]map[string]route
}

func NewHandler(uc QuizUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc}
	h.routes = map[string]map[string]route{
		"/generate":       {http.MethodPost: h.generate},
		"/history":        {http.MethodGet: h.history},
		"/delete_history": {http.MethodDelete: h.deleteHistory},
		"/delete_account": {http.MethodDelete: h.deleteAccount},
	}
	return h, nil
}

// Handle serves one API Gateway proxy request. Every route requires a bearer
// token; the token is checked before the request body is looked at.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := slog.With(
		"correlation_id", correlationID,
		"method", event.HTTPMethod,
		"path", event.Path,
	)

	methods, ok := h.routes[normalizePath(event.Path)]
	if !ok {
		logger.InfoContext(ctx, "request completed", "status", http.StatusNotFound)
		return jsonResponse(http.StatusNotFound, correlationID, errorResponse{Error: "Not found", Code: "NOT_FOUND"}), nil
	}
	fn, ok := methods[event.HTTPMethod]
	if !ok {
		logger.InfoContext(ctx, "request completed", "status", http.StatusMethodNotAllowed)
		return jsonResponse(http.StatusMethodNotAllowed, correlationID, errorResponse{Error: "Method not allowed", Code: "METHOD_NOT_ALLOWED"}), nil
	}

	status, body, err := h.serve(ctx, event, fn)
	if err != nil {
		status, body = errorPayload(err)
		attrs := []any{"status", status, "err", err, "duration_ms", time.Since(start).Milliseconds()}
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) {
			attrs = append(attrs, "code", ucErr.Code, "reason", ucErr.Reason)
		}
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(ctx, "request failed", attrs...)
		} else {
			logger.WarnContext(ctx, "request rejected", attrs...)
		}
		return jsonResponse(status, correlationID, body), nil
	}

	logger.InfoContext(ctx, "request completed", "status", status, "duration_ms", time.Since(start).Milliseconds())
	return jsonResponse(status, correlationID, body), nil
}

func (h *Handler) serve(ctx context.Context, event events.APIGatewayProxyRequest, fn route) (int, any, error) {
	uid, err := h.uc.Authenticate(ctx, bearerToken(event.Headers))
	if err != nil {
		return 0, nil, err
	}
	return fn(ctx, request{event: event, uid: uid})
}

func (h *Handler) generate(ctx context.Context, r request) (int, any, error) {
	body, err := requestBody(r.event)
	if err != nil {
		return 0, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
	}
	var req *generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
	}
	if req == nil {
		return 0, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: errors.New("body is null")}
	}

	questions, err := h.uc.Generate(ctx, r.uid, usecase.GenerateInput{DocumentRef: req.GSLink})
	if err != nil {
		return 0, nil, err
	}
	if questions == nil {
		questions = []domain.Question{}
	}
	return http.StatusOK, questions, nil
}

func (h *Handler) history(ctx context.Context, r request) (int, any, error) {
	entries, err := h.uc.ListHistory(ctx, r.uid)
	if err != nil {
		return 0, nil, err
	}
	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, toHistoryItem(e))
	}
	return http.StatusOK, items, nil
}

func (h *Handler) deleteHistory(ctx context.Context, r request) (int, any, error) {
	if err := h.uc.DeleteHistoryEntry(ctx, r.uid, r.event.QueryStringParameters["id"]); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, statusResponse{Status: "success", Message: "Entry deleted"}, nil
}

func (h *Handler) deleteAccount(ctx context.Context, r request) (int, any, error) {
	if err := h.uc.DeleteAccount(ctx, r.uid); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, statusResponse{Status: "success", Message: "Account and all data deleted"}, nil
}

func toHistoryItem(e domain.HistoryEntry) historyItem {
	item := historyItem{
		ID:               e.ID,
		OriginalFilename: e.SourceName,
		Questions:        e.Questions,
	}
	if item.OriginalFilename == "" {
		item.OriginalFilename = unknownSource
	}
	if !e.Timestamp.IsZero() {
		item.Date = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if item.Questions == nil {
		item.Questions = []domain.Question{}
	}
	return item
}

func requestBody(event events.APIGatewayProxyRequest) ([]byte, error) {
	if !event.IsBase64Encoded {
		return []byte(event.Body), nil
	}
	return base64.StdEncoding.DecodeString(event.Body)
}

// bearerToken returns the credential from "Authorization: Bearer <token>",
// or "" when the header is absent or uses another scheme.
func bearerToken(headers map[string]string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(headerValue(headers, "Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func normalizePath(p string) string {
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func errorPayload(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: "Internal error", Code: string(usecase.ErrorInternal)}
	}
	resp := errorResponse{Error: errorMessage(ucErr), Code: string(ucErr.Code)}
	switch ucErr.Code {
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized, resp
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, resp
	default:
		return http.StatusInternalServerError, errorResponse{Error: "Internal error", Code: string(usecase.ErrorInternal)}
	}
}

func errorMessage(e *usecase.Error) string {
	switch e.Reason {
	case "missing_token":
		return "No valid token provided"
	case "invalid_token":
		return "Invalid token"
	case "invalid_body":
		return "Invalid JSON body"
	case "empty_document_ref":
		return "No 'gs_link' provided"
	}
	switch e.Code {
	case usecase.ErrorUnauthorized:
		return "Invalid token"
	case usecase.ErrorInvalidInput:
		return "Invalid request"
	default:
		return "Internal error"
	}
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"Internal error","code":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(b),
	}
}

// ServeHTTP adapts a plain HTTP request to Handle for running outside Lambda.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxLocalBodyBytes))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	event := events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               make(map[string]string, len(r.Header)),
		QueryStringParameters: make(map[string]string),
		Body:                  string(body),
	}
	for k := range r.Header {
		event.Headers[k] = r.Header.Get(k)
	}
	for k := range r.URL.Query() {
		event.QueryStringParameters[k] = r.URL.Query().Get(k)
	}

	resp, _ := h.Handle(r.Context(), event)
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

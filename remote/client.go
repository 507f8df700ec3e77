package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/tradedocs/config"
	"github.com/mmdatafocus/tradedocs/models"
	"github.com/mmdatafocus/tradedocs/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("tradedocs/remote")

const (
	apiPrefix           = "/api/v1"
	HeaderIdempotency   = "Idempotency-Key"
	HeaderCorrelationId = "X-Correlation-Id"
)

// DocumentAPI is the remote contract the core consumes.
type DocumentAPI interface {
	List(ctx context.Context, t models.DocumentType) ([]models.TradeDocument, error)
	Get(ctx context.Context, t models.DocumentType, id int64) (models.TradeDocument, error)
	Create(ctx context.Context, t models.DocumentType, draft models.DocumentDraft, idempotencyKey string) (models.TradeDocument, error)
	Update(ctx context.Context, t models.DocumentType, id int64, patch models.DocumentPatch) (models.TradeDocument, error)
	Delete(ctx context.Context, t models.DocumentType, id int64) error
}

// LinkResult is the outcome of a combined create-and-link request.
type LinkResult struct {
	Source  models.TradeDocument `json:"source"`
	Derived models.TradeDocument `json:"derived"`
}

// CombinedConverter creates the derived document and links the source in one request.
type CombinedConverter interface {
	CreateAndLink(ctx context.Context, sourceType models.DocumentType, sourceId int64, draft models.DocumentDraft, idempotencyKey string) (LinkResult, error)
}

// Client talks JSON over HTTP to the document authority.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func NewClient(s config.Settings) *Client {
	return NewClientWithHTTP(s.ApiBaseURL, &http.Client{Timeout: s.RequestTimeout}, s.RateLimitPerSec)
}

func NewClientWithHTTP(baseURL string, httpClient *http.Client, ratePerSec int) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	burst := ratePerSec
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

func documentsPath(t models.DocumentType) string {
	return apiPrefix + "/documents/" + t.Collection()
}

func documentPath(t models.DocumentType, id int64) string {
	return documentsPath(t) + "/" + strconv.FormatInt(id, 10)
}

func (c *Client) List(ctx context.Context, t models.DocumentType) ([]models.TradeDocument, error) {
	var docs []models.TradeDocument
	if err := c.do(ctx, http.MethodGet, documentsPath(t), nil, nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *Client) Get(ctx context.Context, t models.DocumentType, id int64) (models.TradeDocument, error) {
	var doc models.TradeDocument
	err := c.do(ctx, http.MethodGet, documentPath(t, id), nil, nil, &doc)
	return doc, err
}

func (c *Client) Create(ctx context.Context, t models.DocumentType, draft models.DocumentDraft, idempotencyKey string) (models.TradeDocument, error) {
	var doc models.TradeDocument
	err := c.do(ctx, http.MethodPost, documentsPath(t), idempotencyHeader(idempotencyKey), draft, &doc)
	return doc, err
}

func (c *Client) Update(ctx context.Context, t models.DocumentType, id int64, patch models.DocumentPatch) (models.TradeDocument, error) {
	var doc models.TradeDocument
	err := c.do(ctx, http.MethodPatch, documentPath(t, id), nil, patch, &doc)
	return doc, err
}

func (c *Client) Delete(ctx context.Context, t models.DocumentType, id int64) error {
	return c.do(ctx, http.MethodDelete, documentPath(t, id), nil, nil, nil)
}

func (c *Client) CreateAndLink(ctx context.Context, sourceType models.DocumentType, sourceId int64, draft models.DocumentDraft, idempotencyKey string) (LinkResult, error) {
	var res LinkResult
	err := c.do(ctx, http.MethodPost, documentPath(sourceType, sourceId)+"/convert", idempotencyHeader(idempotencyKey), draft, &res)
	return res, err
}

// ResolveNames maps catalog ids of one kind (products, categories, counterparties) to display names.
func (c *Client) ResolveNames(ctx context.Context, kind string, ids []int64) (map[int64]string, error) {
	body := struct {
		Kind string  `json:"kind"`
		Ids  []int64 `json:"ids"`
	}{Kind: kind, Ids: ids}
	var names map[string]string
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/catalog/names", nil, body, &names); err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(names))
	for k, v := range names {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}

func idempotencyHeader(key string) http.Header {
	if key == "" {
		return nil
	}
	h := http.Header{}
	h.Set(HeaderIdempotency, key)
	return h
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, in any, out any) (err error) {
	op := method + " " + path
	ctx, span := tracer.Start(ctx, op)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	token, _ := utils.GetTokenFromContext(ctx)
	if token != "" && utils.TokenExpired(token, c.now()) {
		return &APIError{StatusCode: http.StatusUnauthorized, Code: CodeTokenExpired, Message: "Unauthorized: token expired"}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: op, Err: err}
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	correlationId, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || correlationId == "" {
		correlationId = uuid.NewString()
	}
	req.Header.Set(HeaderCorrelationId, correlationId)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", resp.StatusCode),
	)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

// decodeError maps an error response to the typed errors the core understands.
// Server messages are kept verbatim.
func decodeError(status int, raw []byte) error {
	var env envelope
	_ = json.Unmarshal(raw, &env)
	apiErr := &APIError{StatusCode: status}
	if env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	} else if msg := strings.TrimSpace(string(raw)); msg != "" && len(msg) < 512 {
		apiErr.Message = msg
	}

	switch apiErr.Code {
	case CodeNotAllowed:
		return &models.NotAllowedError{Message: apiErr.Message}
	case CodeValidationFailed:
		return &models.ValidationError{Message: apiErr.Message}
	}
	return apiErr
}

// IsNotFound reports a 404 from the authority.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/pkg/api"
)

// DefaultTimeout таймаут одного запроса, если не задан явно
const DefaultTimeout = 30 * time.Second

// StatusError ответ сервера с кодом не 2xx
type StatusError struct {
	Message    string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient создает новый API клиент
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("stopped after 10 redirects")
				}
				// Authorization сохраняется при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// Register регистрирует нового пользователя
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	var resp api.RegisterResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/register", "", req, &resp); err != nil {
		return nil, classify("register", err, models.KindValidation)
	}
	return &resp, nil
}

// Login выполняет аутентификацию пользователя
func (c *Client) Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", "", req, &resp); err != nil {
		return nil, classify("login", err, models.KindValidation)
	}
	return &resp, nil
}

// Refresh выпускает новую пару токенов по refresh token
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/refresh", refreshToken, nil, &resp); err != nil {
		return nil, classify("refresh", err, models.KindValidation)
	}
	return &resp, nil
}

// Logout отзывает refresh tokens пользователя на сервере
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/logout", accessToken, nil, nil); err != nil {
		return classify("logout", err, models.KindValidation)
	}
	return nil
}

// Sync отправляет пакет мутаций.
// Ответ 400 или 413 означает, что сервер отклонил конверт пакета целиком.
func (c *Client) Sync(ctx context.Context, accessToken string, req api.SyncRequest) (*api.SyncResponse, error) {
	var resp api.SyncResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/sync", accessToken, req, &resp); err != nil {
		return nil, classify("sync", err, models.KindBatchRejected)
	}
	return &resp, nil
}

// Status возвращает серверную сводку по последней синхронизации пользователя
func (c *Client) Status(ctx context.Context, accessToken string) (*api.SyncStatusResponse, error) {
	var resp api.SyncStatusResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/sync/status", accessToken, nil, &resp); err != nil {
		return nil, classify("status", err, models.KindValidation)
	}
	return &resp, nil
}

// Health проверяет доступность сервера и возвращает его версию
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", "", nil, &resp); err != nil {
		return "", classify("health", err, models.KindValidation)
	}
	return resp.Version, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path, bearer string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			statusErr.Message = errResp.Message
		} else {
			statusErr.Message = strings.TrimSpace(string(respBody))
		}
		return statusErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			// ответ 2xx, который нельзя разобрать, трактуется как сбой сервера
			return models.NewError(models.KindTransient, "malformed response", err)
		}
	}

	return nil
}

// classify переводит ошибку транспорта в вид ошибки синхронизации.
// badRequest задает вид для ответов 400 и 413.
// Отмена контекста вызывающим возвращается как есть.
func classify(op string, err error, badRequest models.ErrorKind) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if models.KindOf(err) != models.KindUnknown {
		return fmt.Errorf("%s: %w", op, err)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		// сеть, DNS, таймаут
		return models.NewError(models.KindTransient, op, err)
	}

	switch code := statusErr.StatusCode; {
	case code == http.StatusUnauthorized:
		return models.NewError(models.KindUnauthenticated, op, err)
	case code == http.StatusForbidden:
		return models.NewError(models.KindForbidden, op, err)
	case code == http.StatusConflict:
		return models.NewError(models.KindAlreadyExists, op, err)
	case code == http.StatusTooManyRequests, code >= 500:
		return models.NewError(models.KindTransient, op, err)
	case code == http.StatusBadRequest, code == http.StatusRequestEntityTooLarge:
		return models.NewError(badRequest, op, err)
	default:
		return models.NewError(models.KindValidation, op, err)
	}
}

// Package treasury предоставляет клиент банковского API для подтверждения внесений наличных.
package treasury

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Статусы внесения на стороне банка.
const (
	DepositPending  = "PENDING"
	DepositCredited = "CREDITED"
	DepositRejected = "REJECTED"
)

// ErrUnavailable возвращается, когда предохранитель разомкнут и запрос не отправлялся.
var ErrUnavailable = errors.New("bank api unavailable")

// Deposit описывает ответ банка по одному внесению.
type Deposit struct {
	Reference string           `json:"reference"`
	Status    string           `json:"status"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
}

// Client инкапсулирует HTTP-взаимодействие с банковским API.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	breaker    *gobreaker.CircuitBreaker
}

type response struct {
	deposit    *Deposit
	statusCode int
	retryAfter time.Duration
}

// NewClient создаёт клиент банковского API по указанному адресу.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{logger.Sugar()}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bank-api",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL:    base,
		httpClient: rc,
		breaker:    breaker,
	}
}

// checkRetry повторяет запрос при сетевых ошибках и ответах 5xx. Ответ 429 не
// повторяется: паузу по Retry-After выдерживает вызывающая сторона.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// GetDeposit запрашивает состояние внесения по банковской ссылке.
// Возвращает ответ, HTTP-код и паузу из Retry-After для ответа 429.
func (c *Client) GetDeposit(ctx context.Context, reference string) (*Deposit, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, fmt.Errorf("bank client not configured")
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, reference)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, 0, 0, err
	}

	r := res.(*response)
	return r.deposit, r.statusCode, r.retryAfter, nil
}

func (c *Client) do(ctx context.Context, reference string) (*response, error) {
	endpoint := fmt.Sprintf("%s/api/deposits/%s", c.baseURL, url.PathEscape(reference))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &response{statusCode: resp.StatusCode, retryAfter: retryAfter}, nil
	case http.StatusNoContent, http.StatusNotFound:
		return &response{statusCode: resp.StatusCode}, nil
	case http.StatusOK:
	default:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var d Deposit
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response{deposit: &d, statusCode: resp.StatusCode}, nil
}

// leveledLogger передаёт журнал retryablehttp в zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

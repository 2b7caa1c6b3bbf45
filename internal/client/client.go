// Package client HTTP клиент сервиса для дашбордов и внешних потребителей.
// Сбои различаются по причине: транспорт, декодирование ответа или ошибка API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fault-telemetry-service/internal/models"
)

// Причины ошибок клиента
const (
	ReasonTransport = "transport_error"
	ReasonDecode    = "decode_error"
	ReasonAPI       = "api_error"
)

// maxResponseSize ограничение размера тела ответа
const maxResponseSize = 16 << 20

// Error ошибка вызова API
type Error struct {
	Reason string
	// Kind вид ошибки из ответа сервера (bad_request, not_found, ...)
	Kind       string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Reason == ReasonAPI && e.Kind != "":
		return fmt.Sprintf("%s: %s (%d): %s", e.Reason, e.Kind, e.StatusCode, e.Message)
	case e.Reason == ReasonAPI:
		return fmt.Sprintf("%s: status %d: %s", e.Reason, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf возвращает причину ошибки клиента или пустую строку
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Client клиент API телеметрии
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New создает клиента. Таймаут обязателен: без него зависший сервер блокирует вызывающего.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Classify вызывает POST /predict
func (c *Client) Classify(ctx context.Context, req models.InferenceRequest) (models.ClassificationResult, error) {
	var result models.ClassificationResult

	payload, err := json.Marshal(req)
	if err != nil {
		return result, &Error{Reason: ReasonTransport, Message: "failed to encode request", Err: err}
	}

	body, err := c.do(ctx, http.MethodPost, "/predict", bytes.NewReader(payload))
	if err != nil {
		return result, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return result, &Error{Reason: ReasonDecode, Message: "response is not a JSON object", Err: err}
	}
	if _, ok := fields["prediction"]; !ok {
		return result, &Error{Reason: ReasonDecode, Message: "response has no prediction"}
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return result, &Error{Reason: ReasonDecode, Message: "malformed classification result", Err: err}
	}
	return result, nil
}

// Devices вызывает GET /devices
func (c *Client) Devices(ctx context.Context) ([]models.DeviceOverview, error) {
	var devices []models.DeviceOverview
	err := c.getJSON(ctx, "/devices", &devices)
	return devices, err
}

// Latest вызывает GET /devices/{id}/latest
func (c *Client) Latest(ctx context.Context, deviceID string) (models.DeviceReading, error) {
	var r models.DeviceReading
	err := c.getJSON(ctx, "/devices/"+url.PathEscape(deviceID)+"/latest", &r)
	return r, err
}

// Query вызывает GET /devices/{id}/readings в окне [from, to]
func (c *Client) Query(ctx context.Context, deviceID string, from, to time.Time) ([]models.DeviceReading, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339Nano))
	q.Set("to", to.UTC().Format(time.RFC3339Nano))

	var readings []models.DeviceReading
	err := c.getJSON(ctx, "/devices/"+url.PathEscape(deviceID)+"/readings?"+q.Encode(), &readings)
	return readings, err
}

// Summary вызывает GET /devices/{id}/summary
func (c *Client) Summary(ctx context.Context, deviceID string, window time.Duration) (models.StatusSummary, error) {
	var s models.StatusSummary
	path := fmt.Sprintf("/devices/%s/summary?window=%s", url.PathEscape(deviceID), window)
	err := c.getJSON(ctx, path, &s)
	return s, err
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &Error{Reason: ReasonDecode, Message: "malformed response for " + path, Err: err}
	}
	return nil
}

// do выполняет запрос и возвращает тело успешного ответа
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &Error{Reason: ReasonTransport, Message: "failed to build request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Reason: ReasonTransport, Message: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Reason: ReasonTransport, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{Reason: ReasonAPI, StatusCode: resp.StatusCode}
		var er models.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Kind = er.Error
			apiErr.Message = er.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}
	return data, nil
}

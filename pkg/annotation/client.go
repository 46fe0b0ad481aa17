package annotation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethpandaops/arewefast/pkg/retry"
	"github.com/sirupsen/logrus"
)

// ErrMissingAnnotationID is returned when the dashboard accepted a request
// but its response carries no annotation id.
var ErrMissingAnnotationID = errors.New("annotation response has no id")

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// Annotation is the payload of a Grafana annotation create request.
type Annotation struct {
	DashboardUID string   `json:"dashboardUID"`
	PanelID      int      `json:"panelId"`
	Time         int64    `json:"time"`
	TimeEnd      int64    `json:"timeEnd"`
	Text         string   `json:"text"`
	Tags         []string `json:"tags"`
}

type createResponse struct {
	ID      *int64 `json:"id"`
	Message string `json:"message"`
}

// Client creates annotations on a dashboard.
type Client interface {
	// Create posts a and returns the id assigned by the dashboard.
	Create(ctx context.Context, a *Annotation) (int64, error)
}

// Compile-time interface check.
var _ Client = (*grafanaClient)(nil)

type grafanaClient struct {
	log        logrus.FieldLogger
	endpoint   string
	token      string
	httpClient *http.Client
	policy     retry.Policy
}

// NewClient creates a Client for the Grafana annotation API at endpoint,
// authenticating with a bearer token.
func NewClient(
	log logrus.FieldLogger,
	endpoint, token string,
	httpClient *http.Client,
	policy retry.Policy,
) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &grafanaClient{
		log:        log.WithField("component", "grafana"),
		endpoint:   endpoint,
		token:      token,
		httpClient: httpClient,
		policy:     policy,
	}
}

func (c *grafanaClient) Create(ctx context.Context, a *Annotation) (int64, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return 0, fmt.Errorf("marshalling annotation: %w", err)
	}

	var id int64

	err = c.policy.Do(ctx, func() error {
		var err error

		id, err = c.post(ctx, body)

		return err
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (c *grafanaClient) post(ctx context.Context, body []byte) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint,
		bytes.NewReader(body))
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("posting annotation: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("posting annotation: unexpected status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))

		// Client errors will not succeed on a second attempt.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusTooManyRequests {
			return 0, retry.Permanent(err)
		}

		return 0, err
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, retry.Permanent(fmt.Errorf("decoding annotation response: %w", err))
	}

	if out.ID == nil {
		return 0, retry.Permanent(ErrMissingAnnotationID)
	}

	c.log.WithFields(logrus.Fields{
		"id":      *out.ID,
		"message": out.Message,
	}).Debug("Annotation created")

	return *out.ID, nil
}

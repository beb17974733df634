package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"camclass/pkg/config"
	errs "camclass/pkg/errors"
	"camclass/pkg/logger"
	"camclass/pkg/models"
	"camclass/pkg/ratelimit"
	"camclass/pkg/retry"
)

// HTTPClassifier sends images to a remote inference endpoint. The
// endpoint accepts a multipart POST with an "image" field and answers
// with the top prediction as JSON.
type HTTPClassifier struct {
	endpoint    string
	token       string
	threshold   float64
	maxRetries  int
	httpClient  *http.Client
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
}

// predictionResponse is the inference endpoint's answer
type predictionResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// NewHTTP creates a classifier backed by a remote inference endpoint
func NewHTTP(cfg *config.ClassifierConfig) (*HTTPClassifier, error) {
	if cfg.Endpoint == "" {
		return nil, errs.New(errs.ErrorTypeClassification, "classifier endpoint is not configured")
	}

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.RequestsPerMinute > 0 {
		limiter = ratelimit.NewTokenBucket(cfg.RequestsPerMinute, time.Minute)
	}

	return &HTTPClassifier{
		endpoint:    cfg.Endpoint,
		token:       cfg.Token,
		threshold:   cfg.ConfidenceThreshold,
		maxRetries:  cfg.MaxRetries,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: limiter,
		logger:      logger.GetLogger(),
	}, nil
}

// Classify uploads the image and returns the thresholded top prediction.
// Transient endpoint failures are retried with exponential backoff; a
// prediction below the confidence threshold comes back as Unidentified.
func (c *HTTPClassifier) Classify(ctx context.Context, imagePath string) (models.Prediction, error) {
	var prediction models.Prediction

	op := func() error {
		if !c.rateLimiter.Allow() {
			c.logger.DebugWithFields("Waiting for classifier rate limit", map[string]interface{}{
				"image": imagePath,
			})
			c.rateLimiter.Wait()
		}

		p, err := c.doRequest(ctx, imagePath)
		if err != nil {
			return err
		}
		prediction = p
		return nil
	}

	err := retry.Do(op, &retry.Config{
		MaxAttempts: c.maxRetries,
		Backoff:     retry.DefaultExponentialBackoff(),
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	})
	if err != nil {
		return models.Prediction{}, err
	}

	return applyThreshold(prediction, c.threshold), nil
}

// doRequest performs one inference call
func (c *HTTPClassifier) doRequest(ctx context.Context, imagePath string) (models.Prediction, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		// A missing or unreadable image will not heal between attempts.
		return models.Prediction{}, errs.Wrap(errs.ErrorTypeNotFound, "failed to open image", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return models.Prediction{}, errs.Wrap(errs.ErrorTypeClassification, "failed to build request body", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return models.Prediction{}, errs.Wrap(errs.ErrorTypeClassification, "failed to read image", err)
	}
	if err := writer.Close(); err != nil {
		return models.Prediction{}, errs.Wrap(errs.ErrorTypeClassification, "failed to finish request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return models.Prediction{}, errs.Wrap(errs.ErrorTypeClassification, "failed to create request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Prediction{}, errs.Wrap(errs.ErrorTypeNetwork, "inference request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Prediction{}, c.statusError(resp.StatusCode, imagePath)
	}

	var pr predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return models.Prediction{}, errs.Wrap(errs.ErrorTypeClassification, "failed to decode prediction", err)
	}

	return models.Prediction{Label: pr.Label, Confidence: pr.Confidence}, nil
}

// statusError maps an HTTP status code to a typed error
func (c *HTTPClassifier) statusError(statusCode int, imagePath string) error {
	msg := fmt.Sprintf("inference endpoint returned %d for %s", statusCode, filepath.Base(imagePath))

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return errs.New(errs.ErrorTypeAuth, msg)
	case statusCode == http.StatusTooManyRequests:
		return errs.New(errs.ErrorTypeRateLimit, msg)
	case statusCode >= 500:
		return errs.New(errs.ErrorTypeServerError, msg)
	default:
		return errs.New(errs.ErrorTypeClassification, msg)
	}
}

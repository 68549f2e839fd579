package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"calling-agent/internal/observability"

	twilioSDK "github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

var (
	// ErrRecordingUnavailable covers network failures and recordings that are
	// not yet ready to download.
	ErrRecordingUnavailable = errors.New("recording unavailable")
	// ErrUnauthorized means the platform rejected our credentials.
	ErrUnauthorized = errors.New("unauthorized recording access")
)

// Client wraps the Twilio REST SDK for outbound call creation and
// authenticated recording downloads.
type Client struct {
	accountSID string
	authToken  string
	fromNumber string
	rest       *twilioSDK.RestClient
	httpClient *http.Client
	retries    int
	logger     *observability.Logger
}

type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// Retries is the number of download retries after the first attempt.
	Retries int
}

func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials are required")
	}
	rest := twilioSDK.NewRestClientWithParams(twilioSDK.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		rest:       rest,
		httpClient: &http.Client{},
		retries:    cfg.Retries,
		logger:     logger,
	}, nil
}

// StartCall places an outbound call to the destination number and points the
// platform at the answer webhook. Returns the platform-assigned call SID.
func (c *Client) StartCall(ctx context.Context, to, answerURL, statusURL string) (string, error) {
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.fromNumber)
	params.SetUrl(answerURL)
	if statusURL != "" {
		params.SetStatusCallback(statusURL)
	}

	resp, err := c.rest.Api.CreateCall(params)
	if err != nil {
		c.logger.Error(ctx, "failed to create outbound call", err)
		return "", fmt.Errorf("failed to create outbound call: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("create call response missing sid")
	}
	return *resp.Sid, nil
}

// DownloadRecording fetches the recording audio with basic-auth credentials.
// Twilio serves the raw URL as wav when ".wav" is appended. Attempts are
// bounded: the first try plus the configured retries, with a growing delay
// between them. The media endpoint is a plain authenticated GET that the SDK
// does not wrap.
func (c *Client) DownloadRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	url := recordingURL
	if !strings.HasSuffix(url, ".wav") && !strings.HasSuffix(url, ".mp3") {
		url += ".wav"
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrRecordingUnavailable, ctx.Err())
			}
		}

		audio, err := c.downloadOnce(ctx, url)
		if err == nil {
			return audio, nil
		}
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		lastErr = err
		c.logger.InfoWithError(ctx, fmt.Sprintf("recording download attempt %d failed", attempt+1), err)
	}
	return nil, lastErr
}

func (c *Client) downloadOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordingUnavailable, err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordingUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrRecordingUnavailable, resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordingUnavailable, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty recording body", ErrRecordingUnavailable)
	}
	return audio, nil
}

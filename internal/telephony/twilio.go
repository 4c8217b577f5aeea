// Package telephony places outbound calls through Twilio and fetches the
// recordings Twilio reports back.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-assist-go/internal/config"
	"call-assist-go/internal/errs"
	"call-assist-go/internal/logger"
)

const providerName = "twilio"

type Client struct {
	cfg        config.TelephonyConfig
	httpClient *http.Client
	log        *logger.Logger
	newBackOff func() backoff.BackOff
}

func NewClient(cfg config.TelephonyConfig, log *logger.Logger) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.twilio.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Component("telephony"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = timeout
			return b
		},
	}
}

func (c *Client) credentials() error {
	if c.cfg.AccountSID == "" || c.cfg.AuthToken == "" {
		return &errs.ConfigError{Key: "TWILIO_ACCOUNT_SID", Message: "Twilio credentials not set; set TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN"}
	}
	return nil
}

type callResponse struct {
	SID string `json:"sid"`
}

// StartCall dials to and points Twilio at our voice webhook. Call creation
// is not idempotent, so it is attempted once.
func (c *Client) StartCall(ctx context.Context, to string) (string, error) {
	if err := c.credentials(); err != nil {
		return "", err
	}
	if c.cfg.CallerID == "" {
		return "", &errs.ConfigError{Key: "TWILIO_CALLER_ID", Message: "caller id not set; set it to a Twilio number in E.164 format"}
	}
	if c.cfg.PublicBaseURL == "" {
		return "", &errs.ConfigError{Key: "PUBLIC_BASE_URL", Message: "public base url not set; expose the API (for example with ngrok) and set PUBLIC_BASE_URL"}
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.cfg.CallerID)
	form.Set("Url", c.cfg.PublicBaseURL+"/twilio/voice")

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.cfg.APIBase, url.PathEscape(c.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	body, err := c.do(req, "start_call")
	if err != nil {
		return "", err
	}
	var out callResponse
	if err := json.Unmarshal(body, &out); err != nil || out.SID == "" {
		if err == nil {
			err = errors.New("missing sid")
		}
		return "", &errs.ParseError{Provider: providerName, Raw: string(body), Err: err}
	}

	c.log.WithField("call_sid", out.SID).WithField("to", to).Info("outbound call started")
	return out.SID, nil
}

// FetchRecording downloads the WAV rendition of a recording. Twilio may
// report a recording shortly before the media is served, so transient
// failures are retried.
func (c *Client) FetchRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	if recordingURL == "" {
		return nil, errors.New("recording url is required")
	}
	target := recordingURL
	if !strings.HasSuffix(strings.ToLower(target), ".wav") {
		target += ".wav"
	}

	var audio []byte
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build recording request: %w", err))
		}
		if c.cfg.AccountSID != "" && c.cfg.AuthToken != "" && c.isAPIHost(req.URL) {
			req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
		}
		body, err := c.do(req, "fetch_recording")
		if err != nil {
			var pe *errs.ProviderError
			if errors.As(err, &pe) && (pe.Retryable() || pe.StatusCode == http.StatusNotFound) {
				c.log.WithError(err).WithField("url", target).Warn("recording not ready")
				return err
			}
			return backoff.Permanent(err)
		}
		audio = body
		return nil
	}

	if err := backoff.Retry(attempt, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, &errs.ProviderError{Provider: providerName, Op: "fetch_recording", Err: errors.New("empty recording")}
	}
	c.log.WithField("bytes", len(audio)).Info("recording downloaded")
	return audio, nil
}

// isAPIHost reports whether u points at the configured Twilio API host.
// RecordingUrl arrives in an unauthenticated webhook, so credentials are
// only attached for that host.
func (c *Client) isAPIHost(u *url.URL) bool {
	base, err := url.Parse(c.cfg.APIBase)
	if err != nil || base.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, base.Host)
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &errs.ProviderError{Provider: providerName, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.ProviderError{Provider: providerName, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 300 {
		msg := string(body)
		if len(msg) > 512 {
			msg = msg[:512] + "..."
		}
		return nil, &errs.ProviderError{Provider: providerName, Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}
	return body, nil
}

package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jobboard/jobboard/internal/apply"
	"github.com/jobboard/jobboard/internal/job"
)

const (
	jobsPath  = "/api/v1/job/get"
	applyPath = "/api/v1/application/apply/"

	// ApplicantHeader carries the applicant id to the remote portal.
	ApplicantHeader = "X-Applicant-ID"
)

// Client is the remote portal. It never retries; a failed call is
// reported to the caller as is.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
	token   string
	logger  *slog.Logger
	now     func() time.Time
}

type ClientOptions struct {
	Timeout time.Duration
	// RequestsPerSecond throttles calls to the portal. Zero disables it.
	RequestsPerSecond float64
	Token             string
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

func NewClient(baseURL string, opts ClientOptions) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse portal url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("portal url %q: scheme must be http or https", baseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: u,
		http:    hc,
		limiter: limiter,
		token:   opts.Token,
		logger:  logger,
		now:     time.Now,
	}, nil
}

type jobsResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Jobs    []job.Job `json:"jobs"`
}

func (c *Client) FetchJobs(ctx context.Context) ([]job.Job, error) {
	req, err := c.newRequest(ctx, http.MethodGet, jobsPath, nil)
	if err != nil {
		return nil, err
	}

	var resp jobsResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("fetch jobs: %w", err)
	}
	c.logger.Debug("fetched jobs", "count", len(resp.Jobs))
	return resp.Jobs, nil
}

type applyResponse struct {
	Success     bool                   `json:"success"`
	Message     string                 `json:"message"`
	Application *job.ApplicationRecord `json:"application"`
}

// SubmitApplication posts the multipart application form. When the portal
// does not echo the record back, a pending one is assumed.
func (c *Client) SubmitApplication(ctx context.Context, jobID, applicantID string, p apply.Payload) (job.ApplicationRecord, error) {
	body, contentType, err := encodeForm(p)
	if err != nil {
		return job.ApplicationRecord{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, applyPath+url.PathEscape(jobID), body)
	if err != nil {
		return job.ApplicationRecord{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(ApplicantHeader, applicantID)

	var resp applyResponse
	if err := c.do(req, &resp); err != nil {
		return job.ApplicationRecord{}, err
	}
	if !resp.Success {
		return job.ApplicationRecord{}, &RemoteError{StatusCode: http.StatusOK, Message: resp.Message}
	}

	rec := job.ApplicationRecord{ApplicantID: applicantID, Status: job.StatusPending, AppliedAt: c.now()}
	if resp.Application != nil {
		rec = *resp.Application
		if rec.ApplicantID == "" {
			rec.ApplicantID = applicantID
		}
	}
	return rec, nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &msg)
		return &RemoteError{StatusCode: resp.StatusCode, Message: msg.Message}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func encodeForm(p apply.Payload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{{"fullName", p.FullName}, {"email", p.Email}, {"phone", p.Phone}}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if p.CV != nil {
		name := p.CVName
		if name == "" {
			name = "cv"
		}
		fw, err := w.CreateFormFile("cv", name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(p.CV); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

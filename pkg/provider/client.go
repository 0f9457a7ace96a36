package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/shpitdev/contact-reveal/pkg/credential"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

const (
	DefaultTimeout = 30 * time.Second
	MaxSearchSize  = 30

	creditsHeader = "X-Credits-Remaining"
	maxBodyBytes  = 4 << 20
)

type Options struct {
	BaseURL string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// RequestsPerSecond paces requests per credential. Set to <=0 to disable.
	RequestsPerSecond float64

	Enrich     EnrichOptions
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Client talks to the provider REST API. Every call is made with exactly one
// credential; it holds no credential state of its own.
type Client struct {
	base *url.URL
	http *http.Client
	opts Options
	log  logrus.FieldLogger

	nowFunc func() time.Time

	mu       sync.Mutex
	limiters map[int]*rate.Limiter
}

func NewClient(opts Options) (*Client, error) {
	base, err := parseBaseURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Client{
		base:     base,
		http:     hc,
		opts:     opts,
		log:      log,
		nowFunc:  time.Now,
		limiters: make(map[int]*rate.Limiter),
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, rerr.New(rerr.CodeConfigInvalid, "provider base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, rerr.Wrap(err, rerr.CodeConfigInvalid, "parse provider base URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, rerr.Errorf(rerr.CodeConfigInvalid, "provider base URL must include a host (got %q)", raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func (c *Client) resolve(p string) *url.URL {
	return c.base.ResolveReference(&url.URL{Path: strings.TrimLeft(p, "/")})
}

// CreateJob starts an asynchronous reveal for target.
func (c *Client) CreateJob(ctx context.Context, cred credential.Credential, target string) (JobRef, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return JobRef{}, rerr.New(rerr.CodeRequestInvalid, "target is required")
	}

	body, credits, err := c.do(ctx, cred, opCreateJob, http.MethodPost, "create-job", createJobRequest{
		Target:  target,
		Options: c.opts.Enrich,
	})
	if err != nil {
		return JobRef{}, err
	}

	var out createJobResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return JobRef{}, rerr.Wrap(err, rerr.CodeResponseInvalid, "parse create job response", rerr.FieldOp(opCreateJob))
	}
	id := strings.TrimSpace(out.JobID)
	if id == "" {
		id = strings.TrimSpace(out.ID)
	}
	if id == "" {
		return JobRef{}, rerr.New(rerr.CodeResponseInvalid, "create job response missing job id", rerr.FieldOp(opCreateJob))
	}
	if out.CreditsRemaining != nil {
		credits = out.CreditsRemaining
	}
	return JobRef{ID: id, Credits: credits}, nil
}

// GetJob fetches the current status of a job.
func (c *Client) GetJob(ctx context.Context, cred credential.Credential, id string) (Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Job{}, rerr.New(rerr.CodeRequestInvalid, "job id is required")
	}

	body, credits, err := c.do(ctx, cred, opGetJob, http.MethodGet, "job/"+url.PathEscape(id), nil)
	if err != nil {
		return Job{}, err
	}

	var out jobResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Job{}, rerr.Wrap(err, rerr.CodeResponseInvalid, "parse job response", rerr.FieldOp(opGetJob))
	}
	if out.CreditsRemaining != nil {
		credits = out.CreditsRemaining
	}
	job := Job{
		ID:           id,
		Status:       ParseStatus(out.Status),
		Reason:       strings.ToLower(strings.TrimSpace(out.Reason)),
		AccountLevel: out.AccountLevel,
		Result:       out.Result,
		Credits:      credits,
	}
	if isNullJSON(job.Result) {
		job.Result = nil
	}
	return job, nil
}

// Search runs a filter-based prospect search. Size is clamped to 1..30.
func (c *Client) Search(ctx context.Context, cred credential.Credential, req SearchRequest) (SearchResponse, error) {
	req.Size = clampSize(req.Size)
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Filters == nil {
		req.Filters = map[string]any{}
	}

	body, credits, err := c.do(ctx, cred, opSearch, http.MethodPost, "search", req)
	if err != nil {
		return SearchResponse{}, err
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return SearchResponse{}, rerr.Wrap(err, rerr.CodeResponseInvalid, "parse search response", rerr.FieldOp(opSearch))
	}
	if out.CreditsRemaining != nil {
		credits = out.CreditsRemaining
	}
	if out.Profiles == nil {
		out.Profiles = []map[string]any{}
	}
	return SearchResponse{Total: out.Total, Profiles: out.Profiles, Credits: credits}, nil
}

func clampSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxSearchSize {
		return MaxSearchSize
	}
	return n
}

func (c *Client) limiter(cred credential.Credential) *rate.Limiter {
	if c.opts.RequestsPerSecond <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[cred.Index()]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.opts.RequestsPerSecond), 1)
		c.limiters[cred.Index()] = l
	}
	return l
}

func (c *Client) do(ctx context.Context, cred credential.Credential, op, method, p string, payload any) ([]byte, *float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if l := c.limiter(cred); l != nil {
		if err := l.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, rerr.Wrap(err, rerr.CodeRateLimited, "local request pacing", rerr.FieldOp(op))
		}
	}

	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, rerr.Wrap(err, rerr.CodeRequestInvalid, "encode request", rerr.FieldOp(op))
		}
		reader = bytes.NewReader(b)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.resolve(p).String(), reader)
	if err != nil {
		return nil, nil, rerr.Wrap(err, rerr.CodeRequestInvalid, "build request", rerr.FieldOp(op))
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token())
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.nowFunc()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, classifyTransport(ctx, op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, classifyTransport(ctx, op, err)
	}

	c.log.WithFields(logrus.Fields{
		"credential":  cred.Index(),
		"op":          op,
		"http_status": resp.StatusCode,
		"duration_ms": c.nowFunc().Sub(start).Milliseconds(),
	}).Debug("provider request")

	if resp.StatusCode/100 != 2 {
		return nil, nil, classifyResponse(op, resp, b, c.nowFunc())
	}
	return b, parseCredits(resp.Header.Get(creditsHeader)), nil
}

// classifyTransport separates caller cancellation, client timeouts and
// connection failures.
func classifyTransport(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return rerr.Wrap(err, rerr.CodeTimeout, "provider request timed out", rerr.FieldOp(op))
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return rerr.Wrap(err, rerr.CodeTimeout, "provider request timed out", rerr.FieldOp(op))
	}
	return rerr.Wrap(err, rerr.CodeNetworkError, "provider unreachable", rerr.FieldOp(op))
}

func parseCredits(v string) *float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func isNullJSON(b json.RawMessage) bool {
	s := strings.TrimSpace(string(b))
	return s == "" || s == "null"
}

// String is safe to log.
func (c *Client) String() string {
	return fmt.Sprintf("provider.Client(%s)", c.base.String())
}

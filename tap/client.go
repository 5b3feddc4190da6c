// Package tap is a minimal client for IVOA Table Access Protocol services
// that authenticate through a session cookie, such as the CEFCA catalogue
// archive.
package tap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/publicsuffix"

	"github.com/jpas-survey/halpha-pipeline/catalog"
)

var (
	queriesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tap_queries_total",
		Help: "Queries submitted to the TAP service",
	}, []string{
		"mode", "status",
	})
	jobWaitMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tap_async_job_wait_seconds",
		Help:    "Time spent waiting for asynchronous jobs to finish",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

const (
	defaultPollInterval = time.Second

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 4096
)

var errNoJobURL = errors.New("cannot determine the job URL")

// QueryError is returned when the service rejects or fails a query.
type QueryError struct {
	// Query is the offending query text.
	Query string
	// Message is the error reported by the service.
	Message string
}

func (e *QueryError) Error() string {
	return "query failed: " + e.Message
}

// Client talks to a TAP service. Its HTTP client keeps the session cookies
// obtained by Login.
type Client struct {
	BaseURL  string
	LoginURL string
	HTTP     *http.Client

	// PollInterval is the delay between phase checks of async jobs.
	PollInterval time.Duration
}

// New returns a Client for the given service and login endpoints.
func New(baseURL, loginURL string) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		LoginURL:     loginURL,
		HTTP: &http.Client{
			Jar: jar,
			// UWS answers with 303 redirects whose Location is the job URL.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		PollInterval: defaultPollInterval,
	}, nil
}

// Login posts the archive credentials. The session cookie set by the
// archive authenticates every later request.
func (c *Client) Login(ctx context.Context, user, password string) error {
	form := url.Values{
		"login":    {user},
		"password": {password},
		"submit":   {"Sign+In"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.LoginURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/plain")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("login failed: %s", resp.Status)
	}
	log.Printf("Logged in to %s as %s", c.LoginURL, user)
	return nil
}

func queryForm(query string) url.Values {
	return url.Values{
		"REQUEST": {"doQuery"},
		"LANG":    {"ADQL"},
		"FORMAT":  {"csv"},
		"QUERY":   {query},
	}
}

func (c *Client) postForm(ctx context.Context, u string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.HTTP.Do(req)
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.HTTP.Do(req)
}

// RunSync runs a query on the synchronous endpoint and returns the result
// table.
func (c *Client) RunSync(ctx context.Context, query string) (*catalog.Table, error) {
	resp, err := c.postForm(ctx, c.BaseURL+"/sync", queryForm(query))
	if err != nil {
		queriesMetric.WithLabelValues("sync", "error").Inc()
		return nil, err
	}
	defer drain(resp)
	t, err := readResult(resp, query)
	if err != nil {
		queriesMetric.WithLabelValues("sync", "error").Inc()
		return nil, err
	}
	queriesMetric.WithLabelValues("sync", "ok").Inc()
	return t, nil
}

// RunAsync submits a query as an asynchronous job, starts it, waits for it
// to finish and returns its result table.
func (c *Client) RunAsync(ctx context.Context, query string) (*catalog.Table, error) {
	t, err := c.runAsync(ctx, query)
	if err != nil {
		queriesMetric.WithLabelValues("async", "error").Inc()
		return nil, err
	}
	queriesMetric.WithLabelValues("async", "ok").Inc()
	return t, nil
}

func (c *Client) runAsync(ctx context.Context, query string) (*catalog.Table, error) {
	jobURL, err := c.submit(ctx, query)
	if err != nil {
		return nil, err
	}
	log.Printf("Submitted job %s", jobURL)

	resp, err := c.postForm(ctx, jobURL+"/phase", url.Values{"PHASE": {"RUN"}})
	if err != nil {
		return nil, err
	}
	drain(resp)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("cannot start job %s: %s", jobURL, resp.Status)
	}

	start := time.Now()
	phase, err := c.wait(ctx, jobURL)
	jobWaitMetric.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if phase != PhaseCompleted {
		return nil, &QueryError{Query: query, Message: c.jobError(ctx, jobURL, phase)}
	}

	resp, err = c.get(ctx, jobURL+"/results/result")
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	return readResult(resp, query)
}

// submit creates the job and returns its URL.
func (c *Client) submit(ctx context.Context, query string) (string, error) {
	endpoint := c.BaseURL + "/async"
	resp, err := c.postForm(ctx, endpoint, queryForm(query))
	if err != nil {
		return "", err
	}
	defer drain(resp)
	if resp.StatusCode >= 400 {
		return "", &QueryError{Query: query, Message: errorMessage(resp)}
	}
	if loc, err := resp.Location(); err == nil {
		return strings.TrimRight(loc.String(), "/"), nil
	}
	job, err := decodeJob(resp.Body)
	if err != nil || job.ID == "" {
		return "", errNoJobURL
	}
	return endpoint + "/" + job.ID, nil
}

// wait polls the job phase until it reaches a final phase.
func (c *Client) wait(ctx context.Context, jobURL string) (string, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	for {
		phase, err := c.phase(ctx, jobURL)
		if err != nil {
			return "", err
		}
		switch phase {
		case PhaseCompleted, PhaseError, PhaseAborted:
			return phase, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Client) phase(ctx context.Context, jobURL string) (string, error) {
	resp, err := c.get(ctx, jobURL+"/phase")
	if err != nil {
		return "", err
	}
	defer drain(resp)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("cannot read phase of %s: %s", jobURL, resp.Status)
	}
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strings.TrimSpace(string(b))), nil
}

// jobError fetches the error summary of a failed job.
func (c *Client) jobError(ctx context.Context, jobURL, phase string) string {
	resp, err := c.get(ctx, jobURL+"/error")
	if err != nil || resp.StatusCode >= 400 {
		if resp != nil {
			drain(resp)
		}
		return "job ended in phase " + phase
	}
	defer drain(resp)
	return errorMessage(resp)
}

// readResult converts a query response into a table.
func readResult(resp *http.Response, query string) (*catalog.Table, error) {
	if resp.StatusCode >= 400 || isXML(resp) {
		return nil, &QueryError{Query: query, Message: errorMessage(resp)}
	}
	return catalog.ReadCSV("result", resp.Body)
}

func isXML(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "xml")
}

// errorMessage extracts a readable message from an error response, which
// may be a VOTable, a UWS error document or plain text.
func errorMessage(resp *http.Response) string {
	b, _ := ioutil.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if msg, ok := voTableError(b); ok {
		return msg
	}
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return resp.Status
	}
	return msg
}

func drain(resp *http.Response) {
	io.Copy(ioutil.Discard, resp.Body)
	resp.Body.Close()
}

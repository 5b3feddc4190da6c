package tap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UWS execution phases.
const (
	PhasePending   = "PENDING"
	PhaseQueued    = "QUEUED"
	PhaseExecuting = "EXECUTING"
	PhaseCompleted = "COMPLETED"
	PhaseError     = "ERROR"
	PhaseAborted   = "ABORTED"
)

var jobsDeletedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tap_jobs_deleted_total",
	Help: "Asynchronous jobs deleted from the TAP service",
}, []string{
	"status",
})

// Job is an entry of the asynchronous job list.
type Job struct {
	ID    string `xml:"id,attr"`
	Phase string `xml:"phase"`
}

type jobList struct {
	Jobs []Job `xml:"jobref"`
}

type jobSummary struct {
	ID    string `xml:"jobId"`
	Phase string `xml:"phase"`
}

func decodeJob(r io.Reader) (jobSummary, error) {
	var j jobSummary
	err := xml.NewDecoder(r).Decode(&j)
	return j, err
}

// Jobs lists the asynchronous jobs owned by the session.
func (c *Client) Jobs(ctx context.Context) ([]Job, error) {
	resp, err := c.get(ctx, c.BaseURL+"/async")
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("cannot list jobs: %s", resp.Status)
	}
	var l jobList
	if err := xml.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, fmt.Errorf("cannot parse job list: %w", err)
	}
	return l.Jobs, nil
}

// DeleteJob removes a job. It first issues an HTTP DELETE on the job
// resource and falls back to posting ACTION=DELETE.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	jobURL := c.BaseURL + "/async/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, jobURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err == nil {
		drain(resp)
		if resp.StatusCode < 400 {
			return nil
		}
		err = fmt.Errorf("DELETE %s: %s", jobURL, resp.Status)
	}
	log.Printf("Delete of %s failed (%v), retrying with ACTION=DELETE", id, err)
	resp, err = c.postForm(ctx, jobURL, url.Values{"ACTION": {"DELETE"}})
	if err != nil {
		return err
	}
	drain(resp)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("cannot delete job %s: %s", id, resp.Status)
	}
	return nil
}

// CleanJobs deletes every job of the session, one at a time, pausing after
// each deletion. Failures are logged and do not stop the loop.
func (c *Client) CleanJobs(ctx context.Context, pause time.Duration) (deleted, failed int, err error) {
	jobs, err := c.Jobs(ctx)
	if err != nil {
		return 0, 0, err
	}
	log.Printf("Found %d jobs", len(jobs))
	for _, j := range jobs {
		log.Printf("Deleting %s (%s)...", j.ID, j.Phase)
		if err := c.DeleteJob(ctx, j.ID); err != nil {
			log.Printf("Cannot delete %s: %v", j.ID, err)
			jobsDeletedMetric.WithLabelValues("error").Inc()
			failed++
			continue
		}
		jobsDeletedMetric.WithLabelValues("ok").Inc()
		deleted++
		select {
		case <-ctx.Done():
			return deleted, failed, ctx.Err()
		case <-time.After(pause):
		}
	}
	return deleted, failed, nil
}

// voTableError looks for the QUERY_STATUS=ERROR INFO element of a VOTable
// and returns its text.
func voTableError(b []byte) (string, bool) {
	d := xml.NewDecoder(bytes.NewReader(b))
	for {
		tok, err := d.Token()
		if err != nil {
			return "", false
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "INFO" {
			continue
		}
		var name, value string
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "name":
				name = a.Value
			case "value":
				value = a.Value
			}
		}
		if name != "QUERY_STATUS" || value != "ERROR" {
			continue
		}
		var text string
		if err := d.DecodeElement(&text, &se); err != nil {
			return "", false
		}
		return strings.TrimSpace(text), true
	}
}

package tap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-lab/go/prometheusx/promtest"
	"github.com/m-lab/go/testingx"
)

const (
	sessionCookie = "JSESSIONID"
	resultCSV     = "number,tile_id,mag_isdss_cor\n1,100,17.5\n2,100,18.25\n"
	errorVOTable  = `<?xml version="1.0"?>
<VOTABLE version="1.3"><RESOURCE type="results">
<INFO name="QUERY_STATUS" value="ERROR">Column foo not found</INFO>
</RESOURCE></VOTABLE>`
)

// fakeService is an in-memory TAP service with one async job slot per
// submitted query.
type fakeService struct {
	mu           sync.Mutex
	jobs         map[string]*fakeJob
	order        []string
	deleted      []string
	refuseDELETE bool
	polls        int
}

type fakeJob struct {
	query string
	phase string
}

func newFakeService() *fakeService {
	return &fakeService{jobs: make(map[string]*fakeJob)}
}

func (s *fakeService) authorized(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	return err == nil && c.Value == "ok"
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.URL.Path == "/login" {
		r.ParseForm()
		if r.Form.Get("login") != "user" || r.Form.Get("password") != "secret" ||
			r.Form.Get("submit") != "Sign+In" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "ok", Path: "/"})
		w.Write([]byte("welcome"))
		return
	}
	if !s.authorized(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case parts[0] == "sync":
		r.ParseForm()
		s.writeResult(w, r.Form.Get("QUERY"))
	case parts[0] == "async" && len(parts) == 1 && r.Method == http.MethodPost:
		r.ParseForm()
		id := fmt.Sprintf("job%d", len(s.order)+1)
		s.jobs[id] = &fakeJob{query: r.Form.Get("QUERY"), phase: PhasePending}
		s.order = append(s.order, id)
		http.Redirect(w, r, "/async/"+id, http.StatusSeeOther)
	case parts[0] == "async" && len(parts) == 1:
		fmt.Fprint(w, `<uws:jobs xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0">`)
		for _, id := range s.order {
			fmt.Fprintf(w, `<uws:jobref id="%s"><uws:phase>%s</uws:phase></uws:jobref>`,
				id, s.jobs[id].phase)
		}
		fmt.Fprint(w, `</uws:jobs>`)
	default:
		s.serveJob(w, r, parts)
	}
}

func (s *fakeService) serveJob(w http.ResponseWriter, r *http.Request, parts []string) {
	j, ok := s.jobs[parts[1]]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case len(parts) == 2 && r.Method == http.MethodDelete:
		if s.refuseDELETE {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.remove(parts[1])
	case len(parts) == 2 && r.Method == http.MethodPost:
		r.ParseForm()
		if r.Form.Get("ACTION") == "DELETE" {
			s.remove(parts[1])
			http.Redirect(w, r, "/async", http.StatusSeeOther)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	case len(parts) == 2:
		fmt.Fprintf(w, `<uws:job xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0">`+
			`<uws:jobId>%s</uws:jobId><uws:phase>%s</uws:phase></uws:job>`, parts[1], j.phase)
	case parts[2] == "phase" && r.Method == http.MethodPost:
		r.ParseForm()
		if r.Form.Get("PHASE") == "RUN" {
			j.phase = PhaseExecuting
		}
		http.Redirect(w, r, "/async/"+parts[1], http.StatusSeeOther)
	case parts[2] == "phase":
		s.polls++
		if j.phase == PhaseExecuting && s.polls > 1 {
			if strings.Contains(j.query, "BAD") {
				j.phase = PhaseError
			} else {
				j.phase = PhaseCompleted
			}
		}
		fmt.Fprint(w, j.phase)
	case parts[2] == "error":
		fmt.Fprint(w, "Column foo not found")
	case parts[2] == "results":
		s.writeResult(w, j.query)
	}
}

func (s *fakeService) remove(id string) {
	delete(s.jobs, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.deleted = append(s.deleted, id)
}

func (s *fakeService) writeResult(w http.ResponseWriter, query string) {
	if strings.Contains(query, "BAD") {
		w.Header().Set("Content-Type", "application/x-votable+xml")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(errorVOTable))
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Write([]byte(resultCSV))
}

func newTestClient(t *testing.T, login bool) (*Client, *fakeService) {
	svc := newFakeService()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", srv.URL+"/login")
	testingx.Must(t, err, "cannot create client")
	c.PollInterval = time.Millisecond
	if login {
		testingx.Must(t, c.Login(context.Background(), "user", "secret"), "cannot log in")
	}
	return c, svc
}

func TestClient_Login(t *testing.T) {
	c, _ := newTestClient(t, false)
	if err := c.Login(context.Background(), "user", "wrong"); err == nil {
		t.Errorf("Login(): expected err for bad credentials")
	}
	if _, err := c.RunSync(context.Background(), "SELECT 1"); err == nil {
		t.Errorf("RunSync(): expected err without session")
	}
	testingx.Must(t, c.Login(context.Background(), "user", "secret"), "cannot log in")
	if _, err := c.RunSync(context.Background(), "SELECT 1"); err != nil {
		t.Errorf("RunSync(): unexpected err after login: %v", err)
	}
}

func TestClient_Run(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		async    bool
		wantRows int
		wantErr  string
	}{
		{name: "sync", query: "SELECT 1", wantRows: 2},
		{name: "sync-error", query: "SELECT BAD", wantErr: "Column foo not found"},
		{name: "async", query: "SELECT 1", async: true, wantRows: 2},
		{name: "async-error", query: "SELECT BAD", async: true, wantErr: "Column foo not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, true)
			run := c.RunSync
			if tt.async {
				run = c.RunAsync
			}
			tbl, err := run(context.Background(), tt.query)
			if tt.wantErr != "" {
				var qe *QueryError
				if !errors.As(err, &qe) {
					t.Fatalf("Run(): expected QueryError, got %v", err)
				}
				if qe.Message != tt.wantErr || qe.Query != tt.query {
					t.Errorf("Run(): unexpected QueryError %+v", qe)
				}
				return
			}
			testingx.Must(t, err, "query failed")
			if tbl.Len() != tt.wantRows || tbl.Value(1, "mag_isdss_cor") != 18.25 {
				t.Errorf("Run(): unexpected result %v", tbl.Rows)
			}
		})
	}
}

func TestClient_submit(t *testing.T) {
	jobGets := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/async":
			http.Redirect(w, r, "/async/job9", http.StatusSeeOther)
		case "/async/job9":
			jobGets++
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	c, err := New(srv.URL, srv.URL+"/login")
	testingx.Must(t, err, "cannot create client")

	got, err := c.submit(context.Background(), "SELECT 1")
	testingx.Must(t, err, "submit failed")
	if got != srv.URL+"/async/job9" {
		t.Errorf("submit() = %q, want %q", got, srv.URL+"/async/job9")
	}
	if jobGets != 0 {
		t.Errorf("submit() followed the redirect %d times", jobGets)
	}
}

func TestClient_RunAsync_canceled(t *testing.T) {
	c, svc := newTestClient(t, true)
	c.PollInterval = time.Hour
	svc.polls = -1000
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.RunAsync(ctx, "SELECT 1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunAsync(): expected deadline error, got %v", err)
	}
}

func TestClient_CleanJobs(t *testing.T) {
	tests := []struct {
		name         string
		refuseDELETE bool
	}{
		{name: "http-delete"},
		{name: "action-delete-fallback", refuseDELETE: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, svc := newTestClient(t, true)
			for i := 0; i < 3; i++ {
				_, err := c.RunAsync(context.Background(), "SELECT 1")
				testingx.Must(t, err, "cannot run job")
			}
			svc.refuseDELETE = tt.refuseDELETE

			jobs, err := c.Jobs(context.Background())
			testingx.Must(t, err, "cannot list jobs")
			if len(jobs) != 3 || jobs[0].ID != "job1" || jobs[0].Phase != PhaseCompleted {
				t.Fatalf("Jobs(): unexpected list %+v", jobs)
			}

			deleted, failed, err := c.CleanJobs(context.Background(), time.Millisecond)
			testingx.Must(t, err, "cannot clean jobs")
			if deleted != 3 || failed != 0 || len(svc.order) != 0 {
				t.Errorf("CleanJobs(): deleted=%d failed=%d remaining=%v",
					deleted, failed, svc.order)
			}
		})
	}
}

func TestClient_DeleteJob_missing(t *testing.T) {
	c, _ := newTestClient(t, true)
	if err := c.DeleteJob(context.Background(), "nope"); err == nil {
		t.Errorf("DeleteJob(): expected err for unknown job")
	}
}

func TestVOTableError(t *testing.T) {
	if msg, ok := voTableError([]byte(errorVOTable)); !ok || msg != "Column foo not found" {
		t.Errorf("voTableError(): got %q, %v", msg, ok)
	}
	if _, ok := voTableError([]byte("plain text")); ok {
		t.Errorf("voTableError(): plain text is not a VOTable")
	}
}

func TestPrometheusMetrics(t *testing.T) {
	queriesMetric.WithLabelValues("x", "y")
	jobsDeletedMetric.WithLabelValues("x")
	promtest.LintMetrics(t)
}

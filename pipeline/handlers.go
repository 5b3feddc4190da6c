package pipeline

import (
	"encoding/json"
	"log"
	"net/http"
)

// Handler runs the pipeline on request. Only one run can be in progress.
type Handler struct {
	runner *Runner

	pipelineCanRun chan struct{}
}

// NewHandler returns a Handler serving runner.
func NewHandler(runner *Runner) *Handler {
	h := &Handler{
		runner:         runner,
		pipelineCanRun: make(chan struct{}, 1),
	}
	h.pipelineCanRun <- struct{}{}
	return h
}

// ServeHTTP handles requests to the /v0/pipeline endpoint.
//
// The querystring parameters are:
// - step (mandatory): download, select, sed or all.
//
// This endpoint accepts only POST requests. The response body is a JSON
// Result.
func (h *Handler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	result := Result{
		CompletedSteps: []Step{},
		Errors:         []string{},
	}
	if req.Method != http.MethodPost {
		result.Errors = append(result.Errors, http.StatusText(http.StatusMethodNotAllowed))
		sendResponse(rw, http.StatusMethodNotAllowed, result)
		return
	}
	steps, err := ParseSteps(req.URL.Query().Get("step"))
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		sendResponse(rw, http.StatusBadRequest, result)
		return
	}

	select {
	case <-h.pipelineCanRun:
		defer func() { h.pipelineCanRun <- struct{}{} }()
	default:
		result.Errors = append(result.Errors, errAlreadyRunning.Error())
		sendResponse(rw, http.StatusConflict, result)
		return
	}

	result = h.runner.Run(req.Context(), steps)
	status := http.StatusOK
	if len(result.Errors) > 0 {
		status = http.StatusInternalServerError
	}
	sendResponse(rw, status, result)
}

func sendResponse(rw http.ResponseWriter, status int, result Result) {
	b, err := json.Marshal(result)
	if err != nil {
		log.Printf("Cannot marshal response: %v", err)
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if _, err := rw.Write(b); err != nil {
		log.Printf("Cannot write response: %v", err)
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	var opts []job.Option
	if req.RunAt != nil {
		opts = append(opts, job.WithRunAt(*req.RunAt))
	}

	j, err := a.eng.Create(r.Context(), req.ActorID, req.Queue, opts...)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	state, err := job.ParseState(q.Get("state"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	var queue job.Queue
	if raw := q.Get("queue"); raw != "" {
		queue, err = job.ParseQueue(raw)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
	}

	limit, err := intParam(q.Get("limit"), defaultListLimit)
	if err != nil || limit <= 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %q", q.Get("limit")))
		return
	}
	limit = min(limit, maxListLimit)

	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid offset: %q", q.Get("offset")))
		return
	}

	jobs, err := a.eng.List(r.Context(), job.ListOpts{
		State:  state,
		Queue:  queue,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeErr(w, statusFor(err), fmt.Errorf("list jobs: %w", err))
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid job ID: %w", err))
		return
	}

	j, err := a.eng.Get(r.Context(), jobID)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) runJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid job ID: %w", err))
		return
	}

	if _, err := a.eng.Get(r.Context(), jobID); err != nil {
		writeErr(w, statusFor(err), err)
		return
	}

	outcome, err := a.eng.Run(r.Context(), jobID)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}

	j, err := a.eng.Get(r.Context(), jobID)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Outcome: string(outcome), Job: j})
}

func (a *API) sweep(w http.ResponseWriter, r *http.Request) {
	n, err := a.eng.Sweep(r.Context())
	if err != nil {
		writeErr(w, statusFor(err), fmt.Errorf("sweep: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Dispatched: n})
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

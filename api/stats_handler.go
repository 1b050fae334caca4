package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/delayed/job"
)

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	for _, state := range []job.State{job.StatePending, job.StateRunning, job.StateDone, job.StateFailed} {
		count, err := a.eng.Count(r.Context(), job.CountOpts{State: state})
		if err != nil {
			writeErr(w, statusFor(err), fmt.Errorf("count jobs (%s): %w", state, err))
			return
		}
		switch state {
		case job.StatePending:
			resp.Pending = count
		case job.StateRunning:
			resp.Running = count
		case job.StateDone:
			resp.Done = count
		case job.StateFailed:
			resp.Failed = count
		}
		resp.Total += count
	}
	writeJSON(w, http.StatusOK, resp)
}

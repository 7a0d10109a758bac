package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/finlake/tradeflow/model"
)

// maxTriggerBytes bounds the POST /process request body.
const maxTriggerBytes = 1 << 20

// handleProcess accepts a pipeline trigger. Valid triggers return 202 with
// the new session ID; duplicates within the dedup window also return 202,
// flagged, without starting a second run.
func (d *Dependencies) handleProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTriggerBytes))
	if err != nil {
		WriteBadRequest(w, "unable to read request body")
		return
	}

	var req model.ProcessRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteBadRequest(w, "request body is not valid JSON")
		return
	}

	resp, err := d.Orchestrator.Start(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, resp)
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lawsker/lawsker/internal/sequencer"
	"github.com/lawsker/lawsker/internal/store"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB)
const maxRequestBodySize = 1 << 20

// Command is a demo control message, sent as a websocket envelope or derived
// from a REST call.
type Command struct {
	Action string `json:"action"`
	Step   int    `json:"step,omitempty"`
	Key    string `json:"key,omitempty"`
}

var (
	errUnknownAction   = errors.New("unknown action")
	errStepRange       = errors.New("step out of range")
	errMissingKey      = errors.New("key is required")
	errTooManyCommands = errors.New("too many demo commands, slow down")
)

// dispatch applies cmd to the sequencer.
func dispatch(seq *sequencer.Sequencer, cmd Command) error {
	switch cmd.Action {
	case "start":
		seq.Start()
	case "goto":
		if cmd.Step < 1 || cmd.Step > seq.Total() {
			return fmt.Errorf("%w: %d (1-%d)", errStepRange, cmd.Step, seq.Total())
		}
		seq.GoTo(cmd.Step)
	case "next":
		seq.Next()
	case "prev":
		seq.Prev()
	case "autoplay":
		seq.ToggleAutoPlay()
	case "reset":
		seq.Reset()
	case "key":
		if cmd.Key == "" {
			return errMissingKey
		}
		seq.HandleKey(cmd.Key)
	default:
		return fmt.Errorf("%w: %q", errUnknownAction, cmd.Action)
	}
	return nil
}

// apiOps lists every demo API operation; true marks a command, which
// changes demo state and is sent as POST. The rest are GET/HEAD reads.
var apiOps = map[string]bool{
	"state": false,
	"steps": false,
	"runs":  false,

	"start":    true,
	"goto":     true,
	"next":     true,
	"prev":     true,
	"autoplay": true,
	"reset":    true,
	"key":      true,
}

// apiOp extracts the operation name from an /api/demo/{op} path.
func apiOp(urlPath string) string {
	return strings.Trim(strings.TrimPrefix(urlPath, "/api/demo"), "/")
}

// opMethods returns the Allow value for op, or false for an unknown op.
func opMethods(op string) (string, bool) {
	command, ok := apiOps[op]
	switch {
	case !ok:
		return "", false
	case command:
		return http.MethodPost, true
	default:
		return "GET, HEAD", true
	}
}

func methodListed(allow, method string) bool {
	for _, m := range strings.Split(allow, ", ") {
		if m == method {
			return true
		}
	}
	return false
}

// APIHandler serves the demo REST API under /api/demo/.
//
// Commands answer with the snapshot after the command applied. A goto to a
// step outside 1..N is rejected with 400 rather than ignored, and leaves the
// demo untouched like the in-page navigation does.
type APIHandler struct {
	seq     *sequencer.Sequencer
	counter store.Counter
	logger  *zap.Logger
}

// NewAPIHandler creates a demo API handler. counter may be nil.
func NewAPIHandler(seq *sequencer.Sequencer, counter store.Counter, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{seq: seq, counter: counter, logger: logger.Named("api")}
}

// ServeHTTP handles API requests.
// Expected path format: /api/demo/{operation}
func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op := apiOp(r.URL.Path)

	allow, ok := opMethods(op)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown endpoint: "+op)
		return
	}
	if !methodListed(allow, r.Method) {
		h.methodNotAllowed(w, allow)
		return
	}

	switch op {
	case "state":
		writeJSON(w, http.StatusOK, h.seq.Snapshot())
	case "steps":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total": h.seq.Total(),
			"steps": h.seq.Steps(),
		})
	case "runs":
		h.handleRuns(w, r)
	default:
		h.handleCommand(w, r, op)
	}
}

func (h *APIHandler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if h.counter == nil {
		writeJSON(w, http.StatusOK, map[string]int64{"completedRuns": h.seq.Snapshot().CompletedRuns})
		return
	}
	n, err := h.counter.Count(r.Context())
	if err != nil {
		h.logger.Error("read run counter", zap.Error(err))
		writeJSONError(w, http.StatusServiceUnavailable, "run counter unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"completedRuns": n})
}

func (h *APIHandler) handleCommand(w http.ResponseWriter, r *http.Request, op string) {
	cmd := Command{Action: op}

	if op == "goto" || op == "key" {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var body Command
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		cmd.Step = body.Step
		cmd.Key = body.Key
	}

	if err := dispatch(h.seq, cmd); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Debug("command applied", zap.String("action", cmd.Action), zap.Int("step", cmd.Step), zap.String("key", cmd.Key))
	writeJSON(w, http.StatusOK, h.seq.Snapshot())
}

func (h *APIHandler) methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

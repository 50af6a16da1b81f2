package ghttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gordian-engine/gledger/gbatch"
	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gchain"
	"github.com/gordian-engine/gledger/gchainstore"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/gordian-engine/gledger/gindex"
	"github.com/gordian-engine/gledger/gledger"
	"github.com/gordian-engine/gledger/glock"
	"github.com/gorilla/mux"
)

type api struct {
	log    *slog.Logger
	l      *gledger.Ledger
	signer gcrypto.Signer
	codec  gblock.JSONCodec
}

// AppendRequest is the body of POST /blocks.
type AppendRequest struct {
	Data        []byte `json:",omitempty"`
	OffChainRef string `json:",omitempty"`
}

// AppendResponse is the body returned from POST /blocks.
type AppendResponse struct {
	Block json.RawMessage

	// Zero if indexing could not be scheduled.
	IndexTask uint64 `json:",omitempty"`
}

// ValidateResponse is the body returned from GET /validate.
type ValidateResponse struct {
	First, Last uint64

	Checked      uint64
	InvalidCount uint64
	Valid        bool

	Invalid   []InvalidEntry `json:",omitempty"`
	Truncated bool
}

type InvalidEntry struct {
	Sequence uint64
	Field    string
	Reason   string
	Detail   string `json:",omitempty"`
}

// SearchResponse is the body returned from GET /search.
type SearchResponse struct {
	Term      string
	Hits      []json.RawMessage
	Stale     int `json:",omitempty"`
	Truncated bool
}

// ScheduleResponse is the body returned from POST /index.
type ScheduleResponse struct {
	TaskID      uint64
	First, Last uint64
}

func (a *api) handleTail(w http.ResponseWriter, req *http.Request) {
	b, err := a.l.Tail(req.Context())
	if err != nil {
		a.writeError(w, "failed to load tail", err)
		return
	}
	a.writeBlock(w, b)
}

func (a *api) handleGet(w http.ResponseWriter, req *http.Request) {
	seq, err := strconv.ParseUint(mux.Vars(req)["seq"], 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid sequence: %v", err), http.StatusBadRequest)
		return
	}

	b, err := a.l.Get(req.Context(), seq)
	if err != nil {
		a.writeError(w, "failed to load block", err)
		return
	}
	a.writeBlock(w, b)
}

func (a *api) handleAppend(w http.ResponseWriter, req *http.Request) {
	var ar AppendRequest
	if err := json.NewDecoder(req.Body).Decode(&ar); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}

	b, f, err := a.l.AppendSingle(req.Context(), gbatch.Request{
		Payload: gblock.Payload{
			Data:        ar.Data,
			OffChainRef: ar.OffChainRef,
		},
		Signer: a.signer,
	})
	if err != nil {
		a.writeError(w, "failed to append block", err)
		return
	}

	j, err := a.codec.MarshalBlock(b)
	if err != nil {
		a.writeError(w, "failed to encode block", err)
		return
	}
	resp := AppendResponse{Block: j}
	if f != nil {
		resp.IndexTask = f.ID()
	}
	a.writeJSON(w, http.StatusCreated, resp)
}

func (a *api) handleValidate(w http.ResponseWriter, req *http.Request) {
	r, ok := parseRange(w, req)
	if !ok {
		return
	}

	rep, err := a.l.ValidateRange(req.Context(), r)
	if err != nil {
		a.writeError(w, "failed to validate range", err)
		return
	}

	resp := ValidateResponse{
		First:        rep.Range.First,
		Last:         rep.Range.Last,
		Checked:      rep.Checked,
		InvalidCount: rep.InvalidCount,
		Valid:        rep.Valid(),
		Truncated:    rep.Truncated,
		Invalid:      make([]InvalidEntry, len(rep.Invalid)),
	}
	for i, ib := range rep.Invalid {
		e := InvalidEntry{Sequence: ib.Sequence}
		if ib.Err != nil {
			e.Field = ib.Err.Field
			if ib.Err.Reason != nil {
				e.Reason = ib.Err.Reason.Error()
			}
			if ib.Err.Cause != nil {
				e.Detail = ib.Err.Cause.Error()
			}
		}
		resp.Invalid[i] = e
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleSearch(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	term := q.Get("q")
	if term == "" {
		http.Error(w, "missing query parameter q", http.StatusBadRequest)
		return
	}

	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
			return
		}
		limit = n
	}

	var (
		res gledger.SearchResult
		err error
	)
	if scan, _ := strconv.ParseBool(q.Get("scan")); scan {
		r, ok := parseRange(w, req)
		if !ok {
			return
		}
		res, err = a.l.ScanSearch(req.Context(), term, r, limit)
	} else {
		res, err = a.l.Search(req.Context(), term, limit)
	}
	if err != nil {
		a.writeError(w, "search failed", err)
		return
	}

	resp := SearchResponse{
		Term:      res.Term,
		Hits:      make([]json.RawMessage, len(res.Hits)),
		Stale:     res.Stale,
		Truncated: res.Truncated,
	}
	for i, b := range res.Hits {
		j, err := a.codec.MarshalBlock(b)
		if err != nil {
			a.writeError(w, "failed to encode block", err)
			return
		}
		resp.Hits[i] = j
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleSchedule(w http.ResponseWriter, req *http.Request) {
	r, ok := parseRange(w, req)
	if !ok {
		return
	}
	if r.Last == math.MaxUint64 {
		tail, err := a.l.Tail(req.Context())
		if err != nil {
			a.writeError(w, "failed to load tail", err)
			return
		}
		r.Last = tail.Sequence
	}

	f, err := a.l.ScheduleIndexing(req.Context(), r)
	if err != nil {
		a.writeError(w, "failed to schedule indexing", err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, ScheduleResponse{
		TaskID: f.ID(),
		First:  r.First,
		Last:   r.Last,
	})
}

func (a *api) handleIndexStats(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.l.IndexStats())
}

// parseRange reads the optional first and last query parameters.
// A missing last means the end of the chain.
func parseRange(w http.ResponseWriter, req *http.Request) (gblock.Range, bool) {
	q := req.URL.Query()
	r := gblock.RangeFrom(0)

	for name, dst := range map[string]*uint64{"first": &r.First, "last": &r.Last} {
		s := q.Get(name)
		if s == "" {
			continue
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid %s: %v", name, err), http.StatusBadRequest)
			return gblock.Range{}, false
		}
		*dst = n
	}

	if !r.Valid() {
		http.Error(w, fmt.Sprintf("invalid range %s", r), http.StatusBadRequest)
		return gblock.Range{}, false
	}
	return r, true
}

func (a *api) writeBlock(w http.ResponseWriter, b gblock.Block) {
	j, err := a.codec.MarshalBlock(b)
	if err != nil {
		a.writeError(w, "failed to encode block", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(j)
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn("Failed to write response", "err", err)
	}
}

func (a *api) writeError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.log.Warn("Request failed", "msg", msg, "err", err)
	}
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), status)
}

func statusFor(err error) int {
	var (
		ve  *gchain.ValidationError
		cee *gbatch.CapacityExceededError
		ste *gindex.SubmitTimeoutError
	)
	switch {
	case errors.Is(err, gchainstore.ErrBlockNotFound), errors.Is(err, gchainstore.ErrEmpty):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.As(err, &cee):
		return http.StatusBadRequest
	case errors.Is(err, glock.ErrConcurrencyTimeout),
		errors.As(err, &ste),
		errors.Is(err, gindex.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

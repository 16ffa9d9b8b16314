package fillreg

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Handler returns an http.Handler serving all fillreg endpoints.
// The caller must strip the URL prefix before passing requests.
//
//	chi:      r.Mount("/fillreg", http.StripPrefix("/fillreg", reg.Handler()))
//	ServeMux: reg.RegisterMux(mux, "/fillreg")
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(wr http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodPost && req.URL.Path == "/events":
			r.handleIngest(wr, req)
		case req.Method == http.MethodGet && req.URL.Path == "/profile":
			r.handleGetProfile(wr, req)
		case req.Method == http.MethodGet && req.URL.Path == "/profiles":
			r.handleListProfiles(wr, req)
		case req.Method == http.MethodGet && req.URL.Path == "/style":
			r.handleChooseStyle(wr, req)
		case req.Method == http.MethodGet && req.URL.Path == "/styles":
			r.handleListStyles(wr, req)
		case req.Method == http.MethodGet && req.URL.Path == "/stats":
			r.handleStats(wr, req)
		case req.Method == http.MethodGet && req.URL.Path == "/leaderboard":
			r.handleLeaderboard(wr, req)
		default:
			http.NotFound(wr, req)
		}
	})
}

// RegisterMux registers fillreg routes directly on a standard ServeMux
// with explicit method+path patterns (Go 1.22+).
func (r *Registry) RegisterMux(mux *http.ServeMux, basePath string) {
	bp := strings.TrimRight(basePath, "/")
	mux.HandleFunc("POST "+bp+"/events", r.handleIngest)
	mux.HandleFunc("GET "+bp+"/profile", r.handleGetProfile)
	mux.HandleFunc("GET "+bp+"/profiles", r.handleListProfiles)
	mux.HandleFunc("GET "+bp+"/style", r.handleChooseStyle)
	mux.HandleFunc("GET "+bp+"/styles", r.handleListStyles)
	mux.HandleFunc("GET "+bp+"/stats", r.handleStats)
	mux.HandleFunc("GET "+bp+"/leaderboard", r.handleLeaderboard)
}

func (r *Registry) handleIngest(wr http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(wr, req.Body, 1<<20)

	var body struct {
		Events []*RawEvent `json:"events"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		jsonErr(wr, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(body.Events) == 0 {
		jsonErr(wr, "events is required", http.StatusBadRequest)
		return
	}

	res, err := r.IngestBatch(req.Context(), body.Events)
	if err != nil {
		jsonErr(wr, "internal error", http.StatusInternalServerError)
		return
	}
	if res.Skipped > 0 || len(res.Rejected) > 0 {
		r.logger.Info("ingest: events dropped during scrub",
			"accepted", res.Accepted, "skipped", res.Skipped, "rejected", len(res.Rejected))
	}

	// Fire and forget: the client never blocks on ingest bookkeeping.
	wr.WriteHeader(http.StatusAccepted)
}

func (r *Registry) handleGetProfile(wr http.ResponseWriter, req *http.Request) {
	host := req.URL.Query().Get("host")
	schemaHash := req.URL.Query().Get("schema_hash")
	if host == "" || schemaHash == "" {
		jsonErr(wr, "host and schema_hash are required", http.StatusBadRequest)
		return
	}

	resp, err := r.GetProfile(req.Context(), host, schemaHash)
	if err != nil {
		jsonErr(wr, "internal error", http.StatusInternalServerError)
		return
	}
	if resp == nil {
		jsonErr(wr, "no profile for this form", http.StatusNotFound)
		return
	}

	wr.Header().Set("Content-Type", "application/json")
	json.NewEncoder(wr).Encode(resp)
}

func (r *Registry) handleListProfiles(wr http.ResponseWriter, req *http.Request) {
	host := req.URL.Query().Get("host")
	limit := queryInt(req, "limit", 50, 500)

	profiles, err := r.ListProfiles(req.Context(), host, limit)
	if err != nil {
		jsonErr(wr, "internal error", http.StatusInternalServerError)
		return
	}
	if profiles == nil {
		profiles = []*FormProfile{}
	}

	wr.Header().Set("Content-Type", "application/json")
	json.NewEncoder(wr).Encode(profiles)
}

func (r *Registry) handleChooseStyle(wr http.ResponseWriter, req *http.Request) {
	host := req.URL.Query().Get("host")
	schemaHash := req.URL.Query().Get("schema_hash")
	if host == "" || schemaHash == "" {
		jsonErr(wr, "host and schema_hash are required", http.StatusBadRequest)
		return
	}

	d, err := r.ChooseStyle(req.Context(), host, schemaHash)
	if err != nil {
		jsonErr(wr, "internal error", http.StatusInternalServerError)
		return
	}

	wr.Header().Set("Content-Type", "application/json")
	json.NewEncoder(wr).Encode(d)
}

func (r *Registry) handleListStyles(wr http.ResponseWriter, req *http.Request) {
	styles, err := r.ListStyles(req.Context())
	if err != nil {
		jsonErr(wr, "internal error", http.StatusInternalServerError)
		return
	}
	if styles == nil {
		styles = []StyleVariant{}
	}

	wr.Header().Set("Content-Type", "application/json")
	json.NewEncoder(wr).Encode(styles)
}

func (r *Registry) handleStats(wr http.ResponseWriter, req *http.Request) {
	stats, err := r.Stats(req.Context())
	if err != nil {
		jsonErr(wr, "internal error", http.StatusInternalServerError)
		return
	}

	wr.Header().Set("Content-Type", "application/json")
	json.NewEncoder(wr).Encode(stats)
}

func (r *Registry) handleLeaderboard(wr http.ResponseWriter, req *http.Request) {
	limit := queryInt(req, "limit", 50, 500)

	entries, err := r.HostLeaderboard(req.Context(), limit)
	if err != nil {
		jsonErr(wr, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*LeaderboardEntry{}
	}

	wr.Header().Set("Content-Type", "application/json")
	json.NewEncoder(wr).Encode(entries)
}

func queryInt(req *http.Request, key string, def, max int) int {
	v := req.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

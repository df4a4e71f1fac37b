package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voldyman/typesense/internal/analytics"
	"github.com/voldyman/typesense/internal/collection"
	"github.com/voldyman/typesense/internal/replication"
	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/internal/search/cache"
	"github.com/voldyman/typesense/pkg/config"
	"github.com/voldyman/typesense/pkg/errors"
	"github.com/voldyman/typesense/pkg/metrics"
	"github.com/voldyman/typesense/pkg/postgres"
)

// apiServer is the thin HTTP surface over the collection manager and the
// replicated write path. Writes are serialized through the raft node; reads
// run against the local in-memory indexes.
type apiServer struct {
	manager    *collection.Manager
	node       *replication.Node
	cache      *cache.QueryCache
	publisher  *analytics.Publisher
	aggregator *analytics.Aggregator
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func newAPIServer(manager *collection.Manager, node *replication.Node, qc *cache.QueryCache,
	publisher *analytics.Publisher, aggregator *analytics.Aggregator, m *metrics.Metrics) *apiServer {
	return &apiServer{
		manager:    manager,
		node:       node,
		cache:      qc,
		publisher:  publisher,
		aggregator: aggregator,
		metrics:    m,
		logger:     slog.Default().With("component", "api"),
	}
}

func (s *apiServer) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /collections", s.handleCreateCollection)
	mux.HandleFunc("GET /collections", s.handleListCollections)
	mux.HandleFunc("DELETE /collections/{collection}", s.handleDropCollection)
	mux.HandleFunc("POST /collections/{collection}/documents", s.handleAddDocument)
	mux.HandleFunc("GET /collections/{collection}/documents/search", s.handleSearch)
	mux.HandleFunc("GET /collections/{collection}/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /collections/{collection}/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /operations/snapshot", s.handleSnapshot)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, errors.HTTPStatusCode(err), map[string]string{"message": err.Error()})
}

func (s *apiServer) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		schema.Schema
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errors.Validation("invalid request body: %v", err))
		return
	}
	if _, err := s.node.Write(replication.Operation{
		Type:       replication.OpCollectionCreate,
		Collection: body.Name,
		Schema:     &body.Schema,
	}); err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.manager.Get(body.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c.Summary())
}

func (s *apiServer) handleListCollections(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.List())
}

func (s *apiServer) handleDropCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	if _, err := s.node.Write(replication.Operation{
		Type:       replication.OpCollectionDrop,
		Collection: name,
	}); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (s *apiServer) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	mode := r.URL.Query().Get("action")
	if mode == "" {
		mode = string(collection.ModeCreate)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.writeError(w, errors.Validation("invalid document body: %v", err))
		return
	}
	result, err := s.node.Write(replication.Operation{
		Type:       replication.OpDocWrite,
		Collection: name,
		Mode:       mode,
		Document:   raw,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.cache != nil {
		s.cache.Invalidate(r.Context(), name)
	}
	docID, _ := result.Document["id"].(string)
	s.publisher.PublishChange(r.Context(), analytics.DocumentChangeEvent{
		Collection: name,
		DocID:      docID,
		Operation:  mode,
		OccurredAt: time.Now().UTC(),
	})
	s.aggregator.RecordWrite(analytics.DocumentChangeEvent{Collection: name, DocID: docID, Operation: mode})
	s.metrics.DocsIndexedTotal.WithLabelValues(mode).Inc()
	s.writeJSON(w, http.StatusCreated, result.Document)
}

func (s *apiServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	c, err := s.manager.Get(r.PathValue("collection"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	doc, err := c.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *apiServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	result, err := s.node.Write(replication.Operation{
		Type:       replication.OpDocDelete,
		Collection: name,
		DocID:      r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.cache != nil {
		s.cache.Invalidate(r.Context(), name)
	}
	s.metrics.DocsDeletedTotal.Inc()
	s.writeJSON(w, http.StatusOK, result.Document)
}

func (s *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := r.PathValue("collection")
	c, err := s.manager.Get(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	params := searchParamsFromQuery(r)

	var result *collection.SearchResult
	cacheStatus := "bypass"
	if s.cache != nil {
		var hit bool
		result, hit, err = s.cache.GetOrCompute(r.Context(), name, params, func() (*collection.SearchResult, error) {
			return c.Search(params)
		})
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
			s.metrics.CacheHitsTotal.Inc()
		} else {
			s.metrics.CacheMissesTotal.Inc()
		}
	} else {
		result, err = c.Search(params)
	}
	if err != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		s.writeError(w, err)
		return
	}

	resultType := "hit"
	if result.Found == 0 {
		resultType = "zero_result"
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	s.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	s.metrics.SearchResultsCount.Observe(float64(result.Found))

	ev := analytics.SearchEvent{
		Collection: name,
		Query:      params.Q,
		NumResults: result.Found,
		TookMS:     result.TookMS,
		OccurredAt: time.Now().UTC(),
	}
	s.publisher.PublishSearch(r.Context(), ev)
	s.aggregator.RecordSearch(ev)

	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Snapshot(); err != nil {
		s.metrics.RaftSnapshotsTotal.WithLabelValues("error").Inc()
		s.writeError(w, err)
		return
	}
	s.metrics.RaftSnapshotsTotal.WithLabelValues("ok").Inc()
	s.writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

// searchParamsFromQuery maps URL query parameters onto SearchParams.
func searchParamsFromQuery(r *http.Request) collection.SearchParams {
	q := r.URL.Query()
	intVal := func(name string) int {
		n, _ := strconv.Atoi(q.Get(name))
		return n
	}
	listVal := func(name string) []string {
		raw := q.Get(name)
		if raw == "" {
			return nil
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return collection.SearchParams{
		Q:                       q.Get("q"),
		QueryBy:                 listVal("query_by"),
		FilterBy:                q.Get("filter_by"),
		FacetBy:                 listVal("facet_by"),
		SortBy:                  listVal("sort_by"),
		NumTypos:                intVal("num_typos"),
		Page:                    intVal("page"),
		PerPage:                 intVal("per_page"),
		Prefix:                  q.Get("prefix") == "true",
		DropTokensThreshold:     intVal("drop_tokens_threshold"),
		TypoTokensThreshold:     intVal("typo_tokens_threshold"),
		IncludeFields:           listVal("include_fields"),
		ExcludeFields:           listVal("exclude_fields"),
		FacetQuery:              q.Get("facet_query"),
		MaxFacetValues:          intVal("max_facet_values"),
		HighlightFullFields:     listVal("highlight_full_fields"),
		HighlightAffixNumTokens: intVal("highlight_affix_num_tokens"),
		HighlightStartTag:       q.Get("highlight_start_tag"),
		HighlightEndTag:         q.Get("highlight_end_tag"),
		GroupBy:                 listVal("group_by"),
		GroupLimit:              intVal("group_limit"),
		PinnedHits:              q.Get("pinned_hits"),
		HiddenHits:              q.Get("hidden_hits"),
	}
}

// newAnalyticsStore connects to the analytics database.
func newAnalyticsStore(cfg *config.Config) (*analytics.Store, error) {
	pg, err := postgres.New(cfg.Analytics.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connecting analytics store: %w", err)
	}
	return analytics.NewStore(pg), nil
}

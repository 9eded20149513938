package index

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/sync/errgroup"

	"github.com/keerthi16/SwiftSearch/internal/engine"
)

// Search runs q on the main and real-time indexes in parallel and merges
// the hits. A message present in both is reported once, from the main index.
func (e *Engine) Search(ctx context.Context, q engine.Query) (*engine.Results, error) {
	if !e.IsLibInit() {
		return nil, engine.ErrNotInitialized
	}

	q = e.normalize(q)
	key := cacheKey(q)
	if cached, ok := e.cache.Get(key); ok {
		e.opts.Metrics.SearchCache(true)
		return cloneResults(cached), nil
	}
	e.opts.Metrics.SearchCache(false)
	gen := e.generation.Load()

	bq := buildQuery(q)
	// Each index returns its own top rows up to the end of the requested
	// page; the page is cut after merging. Past MaxWindow only the totals
	// are fetched and the page is empty.
	window := 0
	if q.StartingRow <= e.opts.MaxWindow-q.Limit {
		window = q.StartingRow + q.Limit
	}

	var mainRes, rtRes *bleve.SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(recoverSearch(e.main.name, func() error {
		var err error
		mainRes, err = e.main.search(gctx, newRequest(bq, window, q.SortBy))
		return err
	}))
	g.Go(recoverSearch(e.realtime.name, func() error {
		var err error
		rtRes, err = e.realtime.search(gctx, newRequest(bq, window, q.SortBy))
		return err
	}))
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := merge(mainRes, rtRes, q)
	if e.generation.Load() == gen {
		e.cache.Add(key, results)
	}
	return cloneResults(results), nil
}

// recoverSearch turns a panic inside an index search into an error so it
// cannot escape the errgroup goroutine.
func recoverSearch(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s search panicked: %v", name, r)
			}
		}()
		return fn()
	}
}

// normalize applies the configured limit bounds.
func (e *Engine) normalize(q engine.Query) engine.Query {
	if q.Limit <= 0 {
		q.Limit = e.opts.DefaultLimit
	}
	if q.Limit > e.opts.MaxLimit {
		q.Limit = e.opts.MaxLimit
	}
	if q.StartingRow < 0 {
		q.StartingRow = 0
	}
	if q.SortBy != engine.SortByDate {
		q.SortBy = engine.SortByScore
	}
	return q
}

// buildQuery translates q into a bleve conjunction: the text match (or
// match-all) plus one clause per filter.
func buildQuery(q engine.Query) query.Query {
	var clauses []query.Query

	if text := strings.TrimSpace(q.Q); text != "" {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(fieldText)
		mq.SetOperator(query.MatchQueryOperatorAnd)
		clauses = append(clauses, mq)
	} else {
		clauses = append(clauses, bleve.NewMatchAllQuery())
	}

	if c := anyOf(fieldSenderID, q.SenderIDs); c != nil {
		clauses = append(clauses, c)
	}
	if c := anyOf(fieldThreadID, q.ThreadIDs); c != nil {
		clauses = append(clauses, c)
	}
	for _, kind := range q.Has {
		tq := bleve.NewTermQuery(kind)
		tq.SetField(fieldHas)
		clauses = append(clauses, tq)
	}

	if q.StartDate > 0 || q.EndDate > 0 {
		var lo, hi *float64
		inclusive := true
		if q.StartDate > 0 {
			v := float64(q.StartDate)
			lo = &v
		}
		if q.EndDate > 0 {
			v := float64(q.EndDate)
			hi = &v
		}
		rq := bleve.NewNumericRangeInclusiveQuery(lo, hi, &inclusive, &inclusive)
		rq.SetField(fieldIngestionDate)
		clauses = append(clauses, rq)
	}

	if len(clauses) == 1 {
		return clauses[0]
	}
	return bleve.NewConjunctionQuery(clauses...)
}

// anyOf matches documents whose field equals one of values.
func anyOf(field string, values []string) query.Query {
	if len(values) == 0 {
		return nil
	}
	terms := make([]query.Query, 0, len(values))
	for _, v := range values {
		tq := bleve.NewTermQuery(v)
		tq.SetField(field)
		terms = append(terms, tq)
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return bleve.NewDisjunctionQuery(terms...)
}

func newRequest(q query.Query, size int, sortBy engine.SortBy) *bleve.SearchRequest {
	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	req.Fields = []string{"*"}
	if sortBy == engine.SortByDate {
		req.SortBy([]string{"-" + fieldIngestionDate, "-_score", "_id"})
	} else {
		req.SortBy([]string{"-_score", "-" + fieldIngestionDate, "_id"})
	}
	return req
}

// merge combines both result sets, drops real-time duplicates of main hits,
// orders them and cuts the requested page.
func merge(mainRes, rtRes *bleve.SearchResult, q engine.Query) *engine.Results {
	seen := make(map[string]struct{}, len(mainRes.Hits)+len(rtRes.Hits))
	hits := make([]engine.Hit, 0, len(mainRes.Hits)+len(rtRes.Hits))
	dups := 0

	for _, res := range []*bleve.SearchResult{mainRes, rtRes} {
		for _, h := range res.Hits {
			if _, ok := seen[h.ID]; ok {
				dups++
				continue
			}
			seen[h.ID] = struct{}{}
			hits = append(hits, hitFromMatch(h))
		}
	}

	sortHits(hits, q.SortBy)

	total := int(mainRes.Total) + int(rtRes.Total) - dups
	if total < len(hits) {
		total = len(hits)
	}

	page := []engine.Hit{}
	if q.StartingRow < len(hits) {
		end := len(hits)
		if q.Limit < end-q.StartingRow {
			end = q.StartingRow + q.Limit
		}
		page = hits[q.StartingRow:end]
	}

	return &engine.Results{
		Messages: page,
		Returned: len(page),
		Total:    total,
		More:     q.StartingRow < total-len(page),
	}
}

func sortHits(hits []engine.Hit, sortBy engine.SortBy) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if sortBy == engine.SortByDate {
			if a.IngestionDate != b.IngestionDate {
				return a.IngestionDate > b.IngestionDate
			}
			if a.Score != b.Score {
				return a.Score > b.Score
			}
		} else {
			if a.Score != b.Score {
				return a.Score > b.Score
			}
			if a.IngestionDate != b.IngestionDate {
				return a.IngestionDate > b.IngestionDate
			}
		}
		return a.MessageID < b.MessageID
	})
}

// hitFromMatch rebuilds a message from the stored fields of a hit.
func hitFromMatch(h *search.DocumentMatch) engine.Hit {
	hit := engine.Hit{Score: h.Score}
	hit.MessageID = h.ID
	hit.ThreadID = stringField(h.Fields, fieldThreadID)
	hit.SenderID = stringField(h.Fields, fieldSenderID)
	hit.Text = stringField(h.Fields, fieldText)
	hit.ChatType = stringField(h.Fields, fieldChatType)
	hit.Has = stringsField(h.Fields, fieldHas)
	if v, ok := h.Fields[fieldIngestionDate].(float64); ok {
		hit.IngestionDate = int64(v)
	}
	return hit
}

func stringField(fields map[string]interface{}, name string) string {
	switch v := fields[name].(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			return fmt.Sprint(v[0])
		}
	}
	return ""
}

// stringsField reads a multi-valued field. bleve returns a bare value when
// only one was indexed.
func stringsField(fields map[string]interface{}, name string) []string {
	switch v := fields[name].(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

func cacheKey(q engine.Query) string {
	return fmt.Sprintf("%q|%q|%q|%q|%d|%d|%d|%d|%s",
		q.Q, q.SenderIDs, q.ThreadIDs, q.Has,
		q.StartDate, q.EndDate, q.Limit, q.StartingRow, q.SortBy)
}

func cloneResults(r *engine.Results) *engine.Results {
	out := *r
	out.Messages = make([]engine.Hit, len(r.Messages))
	copy(out.Messages, r.Messages)
	return &out
}

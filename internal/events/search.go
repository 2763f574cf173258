package events

import (
	"context"
	"fmt"

	"collab-auth/internal/client"
	"collab-auth/internal/config"
	"collab-auth/internal/models"
)

// Searcher answers admin queries against the indexed security events.
type Searcher struct {
	es    *client.ESClient
	index string
}

func NewSearcher(cfg *config.Config, es *client.ESClient) *Searcher {
	return &Searcher{
		es:    es,
		index: cfg.Elasticsearch.Index,
	}
}

type searchHits struct {
	Hits struct {
		Hits []struct {
			Source models.SecurityEvent `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchEvents builds a bool query from the filter's non-empty fields,
// newest first.
func (s *Searcher) SearchEvents(ctx context.Context, userID, ip, eventType string, limit int) ([]*models.SecurityEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var must []map[string]interface{}
	if userID != "" {
		must = append(must, term("user_id", userID))
	}
	if ip != "" {
		must = append(must, term("ip_address", ip))
	}
	if eventType != "" {
		must = append(must, term("event_type", eventType))
	}
	if len(must) == 0 {
		must = append(must, map[string]interface{}{"match_all": map[string]interface{}{}})
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"event_time": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		},
	}

	res, err := s.es.Search(ctx, s.index, query)
	if err != nil {
		return nil, fmt.Errorf("event search: %w", err)
	}

	var hits searchHits
	if err := s.es.ParseResponse(res, &hits); err != nil {
		return nil, fmt.Errorf("event search: %w", err)
	}

	results := make([]*models.SecurityEvent, 0, len(hits.Hits.Hits))
	for i := range hits.Hits.Hits {
		event := hits.Hits.Hits[i].Source
		results = append(results, &event)
	}
	return results, nil
}

func term(field, value string) map[string]interface{} {
	return map[string]interface{}{
		"term": map[string]interface{}{field: value},
	}
}

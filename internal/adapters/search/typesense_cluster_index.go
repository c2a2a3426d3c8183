package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
	tsclient "github.com/zatekoja/keywordclusters/internal/infrastructure/clients/typesense"
	"github.com/zatekoja/keywordclusters/pkg/similarity"
)

const (
	listPageSize     = 250
	maxIndexKeywords = 200
)

// TypesenseClusterIndex keeps one document per cluster in Typesense.
type TypesenseClusterIndex struct {
	client *tsclient.Client
}

var _ providers.ClusterSearchIndex = (*TypesenseClusterIndex)(nil)

// NewTypesenseClusterIndex creates a new Typesense-backed cluster index
func NewTypesenseClusterIndex(client *tsclient.Client) *TypesenseClusterIndex {
	return &TypesenseClusterIndex{client: client}
}

func siteKey(userID, siteURL string) string {
	return userID + "|" + siteURL
}

func siteFilter(userID, siteURL string) string {
	return fmt.Sprintf("site_key:=`%s`", strings.ReplaceAll(siteKey(userID, siteURL), "`", ""))
}

// buildClusterDocument flattens a cluster into its search document. Keywords
// are capped so very large clusters stay within document limits.
func buildClusterDocument(userID, siteURL string, cluster *entities.Cluster) map[string]interface{} {
	keywords := make([]string, 0, len(cluster.Memberships))
	for _, m := range cluster.Memberships {
		if len(keywords) == maxIndexKeywords {
			break
		}
		keywords = append(keywords, m.Keyword)
	}
	return map[string]interface{}{
		"id":         cluster.ID,
		"site_key":   siteKey(userID, siteURL),
		"name":       cluster.Name,
		"keywords":   keywords,
		"size":       len(cluster.Memberships),
		"created_at": cluster.CreatedAt.Unix(),
	}
}

// IndexSite upserts the new generation and removes documents of older ones.
func (i *TypesenseClusterIndex) IndexSite(ctx context.Context, userID, siteURL string, clusters []*entities.Cluster) error {
	keep := make(map[string]struct{}, len(clusters))
	for _, c := range clusters {
		doc := buildClusterDocument(userID, siteURL, c)
		if _, err := i.client.Client().Collection(tsclient.ClustersCollection).Documents().Upsert(ctx, doc); err != nil {
			return fmt.Errorf("failed to index cluster %s: %w", c.ID, err)
		}
		keep[c.ID] = struct{}{}
	}

	existing, err := i.listSiteDocumentIDs(ctx, userID, siteURL)
	if err != nil {
		return err
	}

	removed := 0
	for _, id := range existing {
		if _, ok := keep[id]; ok {
			continue
		}
		if _, err := i.client.Client().Collection(tsclient.ClustersCollection).Document(id).Delete(ctx); err != nil {
			return fmt.Errorf("failed to remove stale cluster %s: %w", id, err)
		}
		removed++
	}

	log.Debug().
		Str("user_id", userID).
		Str("site_url", siteURL).
		Int("indexed", len(clusters)).
		Int("removed", removed).
		Msg("Indexed cluster generation")
	return nil
}

func (i *TypesenseClusterIndex) listSiteDocumentIDs(ctx context.Context, userID, siteURL string) ([]string, error) {
	ids := make([]string, 0)
	for page := 1; ; page++ {
		params := &api.SearchCollectionParams{
			Q:             pointer.String("*"),
			QueryBy:       pointer.String("name"),
			FilterBy:      pointer.String(siteFilter(userID, siteURL)),
			IncludeFields: pointer.String("id"),
			Page:          pointer.Int(page),
			PerPage:       pointer.Int(listPageSize),
		}
		result, err := i.client.Client().Collection(tsclient.ClustersCollection).Documents().Search(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to list indexed clusters: %w", err)
		}
		if result.Hits == nil || len(*result.Hits) == 0 {
			return ids, nil
		}
		for _, hit := range *result.Hits {
			if hit.Document == nil {
				continue
			}
			if id, ok := (*hit.Document)["id"].(string); ok {
				ids = append(ids, id)
			}
		}
		if len(*result.Hits) < listPageSize {
			return ids, nil
		}
	}
}

// Search runs a typo-tolerant query over cluster names and keywords. Hits are
// rescored with the keyword similarity so scores are comparable with the
// in-memory fallback.
func (i *TypesenseClusterIndex) Search(ctx context.Context, userID, siteURL, query string, limit int) ([]providers.ClusterSearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	params := &api.SearchCollectionParams{
		Q:        pointer.String(query),
		QueryBy:  pointer.String("name,keywords"),
		FilterBy: pointer.String(siteFilter(userID, siteURL)),
		Page:     pointer.Int(1),
		PerPage:  pointer.Int(limit),
	}
	result, err := i.client.Client().Collection(tsclient.ClustersCollection).Documents().Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to search clusters: %w", err)
	}

	hits := make([]providers.ClusterSearchHit, 0)
	if result.Hits == nil {
		return hits, nil
	}
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		if h, ok := parseClusterHit(*hit.Document, query); ok {
			hits = append(hits, h)
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	return hits, nil
}

func parseClusterHit(doc map[string]interface{}, query string) (providers.ClusterSearchHit, bool) {
	id, ok := doc["id"].(string)
	if !ok {
		return providers.ClusterSearchHit{}, false
	}
	name, _ := doc["name"].(string)
	var keywords []string
	if raw, ok := doc["keywords"].([]interface{}); ok {
		for _, k := range raw {
			if s, ok := k.(string); ok {
				keywords = append(keywords, s)
			}
		}
	}

	best := similarity.Score(query, name)
	for _, k := range keywords {
		if s := similarity.Score(query, k); s > best {
			best = s
		}
	}
	return providers.ClusterSearchHit{ClusterID: id, Name: name, Keywords: keywords, Score: best}, true
}

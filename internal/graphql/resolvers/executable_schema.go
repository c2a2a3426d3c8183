package resolvers

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

//go:embed schema.graphql
var schemaSource string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphql", Input: schemaSource})

type executableSchema struct {
	resolver *Resolver
}

// NewExecutableSchema serves schema.graphql from the resolver. gqlgen's
// handler parses and validates each operation against Schema before Exec
// runs it, so Exec only walks valid selections.
func NewExecutableSchema(resolver *Resolver) graphql.ExecutableSchema {
	return &executableSchema{resolver: resolver}
}

func (e *executableSchema) Schema() *ast.Schema {
	return parsedSchema
}

// Complexity assigns no custom field costs.
func (e *executableSchema) Complexity(ctx context.Context, typeName, field string, childComplexity int, rawArgs map[string]any) (int, bool) {
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)
	first := true

	return func(ctx context.Context) *graphql.Response {
		if !first {
			return nil
		}
		first = false

		if opCtx.Operation.Operation != ast.Query {
			return graphql.ErrorResponse(ctx, "unsupported GraphQL operation")
		}

		ctx = e.resolver.withLoaders(ctx)
		ex := &execution{resolver: e.resolver, opCtx: opCtx}
		data, err := json.Marshal(ex.query(ctx, opCtx.Operation.SelectionSet))
		if err != nil {
			return graphql.ErrorResponse(ctx, "failed to encode response: %v", err)
		}
		return &graphql.Response{Data: data, Errors: ex.errs}
	}
}

// execution walks one operation. Field errors null the field and are
// collected; sibling fields still resolve.
type execution struct {
	resolver *Resolver
	opCtx    *graphql.OperationContext

	mu   sync.Mutex
	errs gqlerror.List
}

func (ex *execution) fail(ctx context.Context, path ast.Path, err error) {
	gqlErr := &gqlerror.Error{Err: err, Path: path}
	status := apperrors.HTTPStatus(err)
	var appErr *apperrors.AppError
	code := apperrors.ErrorTypeInternal
	if errors.As(err, &appErr) {
		code = appErr.Type
	}
	gqlErr.Extensions = map[string]interface{}{"code": string(code)}
	if appErr != nil && status < http.StatusInternalServerError {
		gqlErr.Message = appErr.Message
	} else {
		// server-side causes stay in the log
		observability.LoggerFromContext(ctx).Error().Err(err).Str("path", path.String()).Msg("GraphQL field failed")
		gqlErr.Message = http.StatusText(status)
	}

	ex.mu.Lock()
	ex.errs = append(ex.errs, gqlErr)
	ex.mu.Unlock()
}

func (ex *execution) collect(sel ast.SelectionSet, typeName string) []graphql.CollectedField {
	return graphql.CollectFields(ex.opCtx, sel, []string{typeName})
}

func (ex *execution) query(ctx context.Context, sel ast.SelectionSet) object {
	fields := ex.collect(sel, "Query")
	out := make(object, len(fields))
	for i, f := range fields {
		path := ast.Path{ast.PathName(f.Alias)}
		args := f.ArgumentMap(ex.opCtx.Variables)
		var value interface{}

		switch f.Name {
		case "__typename":
			value = "Query"
		case "__schema", "__type":
			ex.fail(ctx, path, apperrors.NewValidationError("introspection disabled"))
		case "clusters":
			clusters, err := ex.resolver.Clusters(ctx, stringArg(args, "siteUrl"))
			if err != nil {
				ex.fail(ctx, path, err)
				break
			}
			value = ex.clusterList(ctx, path, f.Selections, clusters)
		case "cluster":
			cluster, err := ex.resolver.Cluster(ctx, stringArg(args, "id"))
			if err != nil {
				ex.fail(ctx, path, err)
				break
			}
			if cluster != nil {
				value = ex.cluster(ctx, path, f.Selections, cluster)
			}
		case "searchClusters":
			hits, err := ex.resolver.SearchClusters(ctx, stringArg(args, "siteUrl"), stringArg(args, "query"), intArg(args, "limit"))
			if err != nil {
				ex.fail(ctx, path, err)
				break
			}
			value = ex.hits(f.Selections, hits)
		case "clusteringJob":
			job, err := ex.resolver.ClusteringJob(ctx, stringArg(args, "id"))
			if err != nil {
				ex.fail(ctx, path, err)
				break
			}
			if job != nil {
				value = ex.job(f.Selections, job)
			}
		}
		out[i] = objectField{key: f.Alias, value: value}
	}
	return out
}

// clusterList resolves clusters concurrently so their member and coverage
// loads land in the same loader batch.
func (ex *execution) clusterList(ctx context.Context, path ast.Path, sel ast.SelectionSet, clusters []*entities.Cluster) []interface{} {
	out := make([]interface{}, len(clusters))
	var wg sync.WaitGroup
	for i, c := range clusters {
		wg.Add(1)
		go func(i int, c *entities.Cluster) {
			defer wg.Done()
			elemPath := appendPath(path, ast.PathIndex(i))
			defer func() {
				if r := recover(); r != nil {
					ex.fail(ctx, elemPath, fmt.Errorf("panic resolving cluster: %v", r))
				}
			}()
			out[i] = ex.cluster(ctx, elemPath, sel, c)
		}(i, c)
	}
	wg.Wait()
	return out
}

func (ex *execution) cluster(ctx context.Context, path ast.Path, sel ast.SelectionSet, c *entities.Cluster) object {
	fields := ex.collect(sel, "Cluster")
	out := make(object, len(fields))
	for i, f := range fields {
		fieldPath := appendPath(path, ast.PathName(f.Alias))
		var value interface{}

		switch f.Name {
		case "__typename":
			value = "Cluster"
		case "id":
			value = c.ID
		case "siteUrl":
			value = c.SiteURL
		case "name":
			value = c.Name
		case "createdAt":
			value = c.CreatedAt
		case "size":
			members, err := ex.resolver.Members(ctx, c)
			if err != nil {
				ex.fail(ctx, fieldPath, err)
				break
			}
			value = len(members)
		case "members":
			members, err := ex.resolver.Members(ctx, c)
			if err != nil {
				ex.fail(ctx, fieldPath, err)
				break
			}
			list := make([]interface{}, len(members))
			for j, m := range members {
				list[j] = ex.leaf("ClusterMember", f.Selections, map[string]interface{}{
					"keyword":        m.Keyword,
					"relevanceScore": m.RelevanceScore,
				})
			}
			value = list
		case "coverage":
			rows, err := ex.resolver.Coverage(ctx, c)
			if err != nil {
				ex.fail(ctx, fieldPath, err)
				break
			}
			list := make([]interface{}, len(rows))
			for j, row := range rows {
				list[j] = ex.leaf("ContentCoverage", f.Selections, map[string]interface{}{
					"contentId":     row.ContentID,
					"coverageScore": row.CoverageScore,
					"updatedAt":     row.UpdatedAt,
				})
			}
			value = list
		}
		out[i] = objectField{key: f.Alias, value: value}
	}
	return out
}

func (ex *execution) hits(sel ast.SelectionSet, hits []providers.ClusterSearchHit) []interface{} {
	out := make([]interface{}, len(hits))
	for i, h := range hits {
		keywords := h.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		out[i] = ex.leaf("ClusterHit", sel, map[string]interface{}{
			"clusterId": h.ClusterID,
			"name":      h.Name,
			"keywords":  keywords,
			"score":     h.Score,
		})
	}
	return out
}

func (ex *execution) job(sel ast.SelectionSet, job *entities.ClusteringJob) object {
	values := map[string]interface{}{
		"id":            job.ID,
		"siteUrl":       job.SiteURL,
		"kind":          string(job.Kind),
		"status":        string(job.Status),
		"minSimilarity": job.MinSimilarity,
		"keywordCount":  job.KeywordCount,
		"clusterCount":  job.ClusterCount,
		"error":         nil,
		"createdAt":     job.CreatedAt,
		"startedAt":     optionalTime(job.StartedAt),
		"finishedAt":    optionalTime(job.FinishedAt),
	}
	if job.ErrorMessage != "" {
		values["error"] = job.ErrorMessage
	}
	return ex.leaf("ClusteringJob", sel, values)
}

// leaf projects a scalar-only object onto the selection.
func (ex *execution) leaf(typeName string, sel ast.SelectionSet, values map[string]interface{}) object {
	fields := ex.collect(sel, typeName)
	out := make(object, len(fields))
	for i, f := range fields {
		if f.Name == "__typename" {
			out[i] = objectField{key: f.Alias, value: typeName}
			continue
		}
		out[i] = objectField{key: f.Alias, value: values[f.Name]}
	}
	return out
}

// object is a JSON object that keeps the selection order of its fields.
type object []objectField

type objectField struct {
	key   string
	value interface{}
}

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func appendPath(path ast.Path, elem ast.PathElement) ast.Path {
	out := make(ast.Path, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

func optionalTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

// intArg accepts the numeric forms literals and decoded variables take.
func intArg(args map[string]interface{}, name string) int {
	switch v := args[name].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

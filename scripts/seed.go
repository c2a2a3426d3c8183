package main

import (
	"context"
	"os"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/observability"
	"github.com/zatekoja/keywordclusters/pkg/config"
)

const (
	demoUser = "demo-user"
	demoSite = "https://demo-shop.example.com"
)

type demoKeyword struct {
	keyword     string
	page        string
	clicks      int
	impressions int
	position    float64
}

type demoPage struct {
	path      string
	title     string
	wordCount int
	pageviews int
	avgTime   float64
	bounce    float64
}

var demoKeywords = []demoKeyword{
	{"running shoes", "/running-shoes", 420, 9800, 3.1},
	{"best running shoes", "/running-shoes", 310, 7200, 4.4},
	{"running shoe", "/running-shoes", 120, 2600, 5.0},
	{"trail running shoes", "/trail-running", 150, 4100, 6.2},
	{"trail shoes for running", "/trail-running", 60, 1900, 8.7},
	{"marathon training plan", "/marathon-plan", 210, 5300, 2.8},
	{"marathon training schedule", "/marathon-plan", 95, 2400, 4.9},
	{"half marathon training plan", "/marathon-plan", 80, 2100, 7.3},
	{"how to clean running shoes", "/blog/cleaning", 45, 1300, 9.5},
	{"gift cards", "/gift-cards", 30, 900, 11.0},
}

var demoPages = []demoPage{
	{"/running-shoes", "Running Shoes", 1400, 380, 95, 0.35},
	{"/trail-running", "Trail Running Shoes", 1100, 160, 140, 0.42},
	{"/marathon-plan", "Marathon Training Plans", 2600, 240, 260, 0.28},
	{"/blog/cleaning", "How to Clean Running Shoes", 900, 60, 70, 0.61},
	{"/about", "About Us", 300, 20, 25, 0.8},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	observability.InitLogger("seed", cfg.App.Environment, cfg.App.LogLevel)

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to DB")
	}
	defer pgClient.Close()

	ctx := context.Background()
	if err := pgClient.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate schema")
	}

	if os.Getenv("RESET_DB") == "true" {
		log.Info().Msg("RESET_DB=true detected, truncating tables before seeding")
		_, err := pgClient.DB().ExecContext(ctx, `
			TRUNCATE TABLE
				content_analytics_history,
				content_cluster_mappings,
				keyword_cluster_mappings,
				keyword_clusters,
				content_inventory,
				keyword_data,
				clustering_jobs
			CASCADE
		`)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to reset tables")
		}
	}

	db := goqu.New("postgres", pgClient.DB())

	keywordRows := make([]interface{}, 0, len(demoKeywords))
	for _, k := range demoKeywords {
		keywordRows = append(keywordRows, goqu.Record{
			"user_id":     demoUser,
			"site_url":    demoSite,
			"keyword":     k.keyword,
			"page":        demoSite + k.page,
			"clicks":      k.clicks,
			"impressions": k.impressions,
			"ctr":         float64(k.clicks) / float64(k.impressions),
			"position":    k.position,
		})
	}
	if _, err := db.Insert("keyword_data").Rows(keywordRows...).OnConflict(goqu.DoNothing()).Executor().ExecContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed keyword data")
	}
	log.Info().Int("count", len(keywordRows)).Msg("Seeded keyword data")

	today := time.Now().UTC().Truncate(24 * time.Hour)
	seeded := 0
	for _, p := range demoPages {
		id := uuid.New().String()
		inserted, err := db.Insert("content_inventory").Rows(goqu.Record{
			"id":           id,
			"user_id":      demoUser,
			"site_url":     demoSite,
			"page_url":     demoSite + p.path,
			"title":        p.title,
			"word_count":   p.wordCount,
			"last_crawled": today,
		}).OnConflict(goqu.DoNothing()).Executor().ExecContext(ctx)
		if err != nil {
			log.Error().Err(err).Str("page", p.path).Msg("Failed to seed content item")
			continue
		}
		if n, _ := inserted.RowsAffected(); n == 0 {
			log.Info().Str("page", p.path).Msg("Content item already present, skipping analytics")
			continue
		}

		history := make([]interface{}, 0, 30)
		for day := 0; day < 30; day++ {
			views := p.pageviews + (day%7)*p.pageviews/10
			history = append(history, goqu.Record{
				"content_id":       id,
				"date":             today.AddDate(0, 0, -day),
				"pageviews":        views,
				"unique_pageviews": views * 4 / 5,
				"avg_time_on_page": p.avgTime,
				"bounce_rate":      p.bounce,
				"exit_rate":        p.bounce / 2,
			})
		}
		if _, err := db.Insert("content_analytics_history").Rows(history...).Executor().ExecContext(ctx); err != nil {
			log.Error().Err(err).Str("page", p.path).Msg("Failed to seed analytics history")
			continue
		}
		seeded++
	}

	log.Info().
		Str("user_id", demoUser).
		Str("site_url", demoSite).
		Int("content_items", seeded).
		Msg("Seeding complete; run clusterctl to build clusters")
}

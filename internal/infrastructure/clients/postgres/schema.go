package postgres

// keyword_data, content_inventory and content_analytics_history are owned by
// the ingestion jobs; they are created here so a fresh database is usable.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS keyword_data (
		user_id     TEXT NOT NULL,
		site_url    TEXT NOT NULL,
		keyword     TEXT NOT NULL,
		page        TEXT NOT NULL DEFAULT '',
		clicks      INTEGER NOT NULL DEFAULT 0,
		impressions INTEGER NOT NULL DEFAULT 0,
		ctr         DOUBLE PRECISION NOT NULL DEFAULT 0,
		position    DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, site_url, keyword, page)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_keyword_data_page ON keyword_data (user_id, site_url, page)`,
	`CREATE TABLE IF NOT EXISTS keyword_clusters (
		id         UUID PRIMARY KEY,
		user_id    TEXT NOT NULL,
		site_url   TEXT NOT NULL,
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_keyword_clusters_site ON keyword_clusters (user_id, site_url)`,
	`CREATE TABLE IF NOT EXISTS keyword_cluster_mappings (
		cluster_id      UUID NOT NULL REFERENCES keyword_clusters (id) ON DELETE CASCADE,
		keyword         TEXT NOT NULL,
		relevance_score DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (cluster_id, keyword)
	)`,
	`CREATE TABLE IF NOT EXISTS content_inventory (
		id                UUID PRIMARY KEY,
		user_id           TEXT NOT NULL,
		site_url          TEXT NOT NULL,
		page_url          TEXT NOT NULL,
		title             TEXT NOT NULL DEFAULT '',
		word_count        INTEGER NOT NULL DEFAULT 0,
		last_crawled      TIMESTAMPTZ,
		performance_score DOUBLE PRECISION,
		performance_updated_at TIMESTAMPTZ,
		UNIQUE (user_id, site_url, page_url)
	)`,
	`CREATE TABLE IF NOT EXISTS content_cluster_mappings (
		content_id     UUID NOT NULL REFERENCES content_inventory (id) ON DELETE CASCADE,
		cluster_id     UUID NOT NULL REFERENCES keyword_clusters (id) ON DELETE CASCADE,
		coverage_score DOUBLE PRECISION NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (content_id, cluster_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_content_cluster_mappings_cluster ON content_cluster_mappings (cluster_id)`,
	`CREATE TABLE IF NOT EXISTS content_analytics_history (
		content_id       UUID NOT NULL REFERENCES content_inventory (id) ON DELETE CASCADE,
		date             DATE NOT NULL,
		pageviews        INTEGER NOT NULL DEFAULT 0,
		unique_pageviews INTEGER NOT NULL DEFAULT 0,
		avg_time_on_page DOUBLE PRECISION NOT NULL DEFAULT 0,
		bounce_rate      DOUBLE PRECISION NOT NULL DEFAULT 0,
		exit_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (content_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS clustering_jobs (
		id             UUID PRIMARY KEY,
		user_id        TEXT NOT NULL,
		site_url       TEXT NOT NULL,
		kind           TEXT NOT NULL,
		status         TEXT NOT NULL,
		min_similarity DOUBLE PRECISION NOT NULL DEFAULT 0,
		keyword_count  INTEGER NOT NULL DEFAULT 0,
		cluster_count  INTEGER NOT NULL DEFAULT 0,
		error_message  TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at     TIMESTAMPTZ,
		finished_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clustering_jobs_active ON clustering_jobs (user_id, site_url, status)`,
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/keywordclusters/internal/domain/entities"
	"github.com/zatekoja/keywordclusters/internal/domain/providers"
	"github.com/zatekoja/keywordclusters/internal/domain/repositories"
	"github.com/zatekoja/keywordclusters/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/keywordclusters/pkg/errors"
)

// ClusterBuilder builds and stores a site's cluster generation.
type ClusterBuilder interface {
	CreateClusters(ctx context.Context, userID, siteURL string, minSimilarity float64) ([]*entities.Cluster, error)
}

// CoverageRecomputer rescores a site's content against its clusters.
type CoverageRecomputer interface {
	RecomputeSite(ctx context.Context, userID, siteURL string) (*CoverageSummary, error)
}

// ClusteringJobConfig controls background runs.
type ClusteringJobConfig struct {
	DefaultMinSimilarity float64
	MaxConcurrentRuns    int
	LockTTL              time.Duration
}

// StartResult is returned by the trigger operations.
type StartResult struct {
	Accepted bool                    `json:"accepted"`
	Job      *entities.ClusteringJob `json:"job"`
}

// ClusteringJobService triggers clustering and coverage runs and tracks them
// as job records. Runs for one site never overlap; runs for different sites
// proceed independently up to MaxConcurrentRuns.
type ClusteringJobService struct {
	jobRepo     repositories.ClusteringJobRepository
	keywordRepo repositories.KeywordRepository
	builder     ClusterBuilder
	coverage    CoverageRecomputer
	locker      providers.SiteLocker
	searchIndex providers.ClusterSearchIndex
	eventBus    providers.EventBus
	metrics     *observability.Metrics
	cfg         ClusteringJobConfig

	startMu  sync.Mutex
	inflight map[string]struct{}
	sem      chan struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	closing  bool
}

// NewClusteringJobService creates a new clustering job service
func NewClusteringJobService(
	jobRepo repositories.ClusteringJobRepository,
	keywordRepo repositories.KeywordRepository,
	builder ClusterBuilder,
	coverage CoverageRecomputer,
	locker providers.SiteLocker,
	cfg ClusteringJobConfig,
) *ClusteringJobService {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.DefaultMinSimilarity <= 0 || cfg.DefaultMinSimilarity > 1 {
		cfg.DefaultMinSimilarity = DefaultMinSimilarity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ClusteringJobService{
		jobRepo:     jobRepo,
		keywordRepo: keywordRepo,
		builder:     builder,
		coverage:    coverage,
		locker:      locker,
		cfg:         cfg,
		inflight:    make(map[string]struct{}),
		sem:         make(chan struct{}, cfg.MaxConcurrentRuns),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetSearchIndex enables indexing of each new generation.
func (s *ClusteringJobService) SetSearchIndex(index providers.ClusterSearchIndex) {
	s.searchIndex = index
}

// SetEventBus enables change notifications.
func (s *ClusteringJobService) SetEventBus(bus providers.EventBus) {
	s.eventBus = bus
}

// SetMetrics enables run metrics.
func (s *ClusteringJobService) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

func validateSite(userID, siteURL string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.NewValidationError("user_id is required")
	}
	if strings.TrimSpace(siteURL) == "" {
		return apperrors.NewValidationError("site_url is required")
	}
	return nil
}

func (s *ClusteringJobService) resolveMinSimilarity(minSimilarity float64) (float64, error) {
	if minSimilarity == 0 {
		return s.cfg.DefaultMinSimilarity, nil
	}
	if minSimilarity < 0 || minSimilarity > 1 {
		return 0, apperrors.NewValidationError("min_similarity must be in (0, 1]")
	}
	return minSimilarity, nil
}

// StartClustering queues a clustering run for the site. It fails fast with an
// insufficient-data error when the site has no keywords, and reports
// Accepted=false with the in-flight job when a run is already queued.
func (s *ClusteringJobService) StartClustering(ctx context.Context, userID, siteURL string, minSimilarity float64) (*StartResult, error) {
	job, result, err := s.prepare(ctx, userID, siteURL, entities.JobKindClustering, minSimilarity)
	if err != nil || result != nil {
		return result, err
	}
	s.launch(job)
	return &StartResult{Accepted: true, Job: job}, nil
}

// StartCoverage queues a coverage-only run against the stored clusters.
func (s *ClusteringJobService) StartCoverage(ctx context.Context, userID, siteURL string) (*StartResult, error) {
	job, result, err := s.prepare(ctx, userID, siteURL, entities.JobKindCoverage, 0)
	if err != nil || result != nil {
		return result, err
	}
	s.launch(job)
	return &StartResult{Accepted: true, Job: job}, nil
}

// RunClustering performs a clustering run inline and returns the finished job.
func (s *ClusteringJobService) RunClustering(ctx context.Context, userID, siteURL string, minSimilarity float64) (*entities.ClusteringJob, error) {
	return s.runInline(ctx, userID, siteURL, entities.JobKindClustering, minSimilarity)
}

// RunCoverage performs a coverage-only run inline and returns the finished job.
func (s *ClusteringJobService) RunCoverage(ctx context.Context, userID, siteURL string) (*entities.ClusteringJob, error) {
	return s.runInline(ctx, userID, siteURL, entities.JobKindCoverage, 0)
}

func (s *ClusteringJobService) runInline(ctx context.Context, userID, siteURL string, kind entities.JobKind, minSimilarity float64) (*entities.ClusteringJob, error) {
	job, result, err := s.prepare(ctx, userID, siteURL, kind, minSimilarity)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result.Job, apperrors.NewConflictError(fmt.Sprintf("job %s is already %s for this site", result.Job.ID, result.Job.Status))
	}
	if err := s.execute(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// prepare validates the request and inserts a pending job. A non-nil
// StartResult means the request was not accepted.
func (s *ClusteringJobService) prepare(ctx context.Context, userID, siteURL string, kind entities.JobKind, minSimilarity float64) (*entities.ClusteringJob, *StartResult, error) {
	if err := validateSite(userID, siteURL); err != nil {
		return nil, nil, err
	}
	minSim, err := s.resolveMinSimilarity(minSimilarity)
	if err != nil {
		return nil, nil, err
	}

	if kind == entities.JobKindClustering {
		count, err := s.keywordRepo.CountForSite(ctx, userID, siteURL)
		if err != nil {
			return nil, nil, err
		}
		if count == 0 {
			return nil, nil, apperrors.NewInsufficientDataError(fmt.Sprintf("no keyword data for site %s", siteURL))
		}
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.closing {
		return nil, nil, apperrors.NewConflictError("service is shutting down")
	}

	active, err := s.findLiveJob(ctx, userID, siteURL)
	if err != nil {
		return nil, nil, err
	}
	if active != nil {
		return nil, &StartResult{Accepted: false, Job: active}, nil
	}

	job := &entities.ClusteringJob{
		UserID:        userID,
		SiteURL:       siteURL,
		Kind:          kind,
		Status:        entities.JobStatusPending,
		MinSimilarity: minSim,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, nil, err
	}
	s.inflight[job.ID] = struct{}{}
	return job, nil, nil
}

// JobInterruptedMessage is recorded on runs abandoned by a crashed process.
const JobInterruptedMessage = "interrupted"

// findLiveJob returns the site's active job, first failing any active job
// that this process is not running and that has not moved for LockTTL.
// Callers hold startMu.
func (s *ClusteringJobService) findLiveJob(ctx context.Context, userID, siteURL string) (*entities.ClusteringJob, error) {
	for {
		active, err := s.jobRepo.FindActive(ctx, userID, siteURL)
		if err != nil || active == nil || !s.isStale(active) {
			return active, err
		}

		now := time.Now().UTC()
		active.Status = entities.JobStatusFailed
		active.ErrorMessage = JobInterruptedMessage
		active.FinishedAt = &now
		if err := s.jobRepo.Update(ctx, active); err != nil {
			return nil, err
		}
		log.Warn().
			Str("job_id", active.ID).
			Str("user_id", active.UserID).
			Str("site_url", active.SiteURL).
			Msg("Failed stale job")
	}
}

func (s *ClusteringJobService) isStale(job *entities.ClusteringJob) bool {
	if _, ok := s.inflight[job.ID]; ok {
		return false
	}
	touched := job.CreatedAt
	if job.StartedAt != nil {
		touched = *job.StartedAt
	}
	return time.Since(touched) > s.cfg.LockTTL
}

// FailStaleJobs fails every job left pending or running for longer than
// LockTTL, such as runs cut off by a restart. Call it before serving.
func (s *ClusteringJobService) FailStaleJobs(ctx context.Context) (int, error) {
	n, err := s.jobRepo.FailStale(ctx, time.Now().UTC().Add(-s.cfg.LockTTL), JobInterruptedMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Warn().Int("jobs", n).Msg("Failed stale jobs")
	}
	return n, nil
}

func (s *ClusteringJobService) launch(job *entities.ClusteringJob) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// request contexts end with the HTTP response; runs use the service context
		if err := s.execute(s.ctx, job); err != nil {
			log.Error().Err(err).
				Str("job_id", job.ID).
				Str("user_id", job.UserID).
				Str("site_url", job.SiteURL).
				Msg("Background run failed")
		}
	}()
}

// execute runs a pending job to a terminal state.
func (s *ClusteringJobService) execute(ctx context.Context, job *entities.ClusteringJob) (err error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.finish(job, ctx.Err())
		return ctx.Err()
	}

	started := time.Now()
	defer func() {
		status := string(entities.JobStatusDone)
		if err != nil {
			status = string(entities.JobStatusFailed)
		}
		observability.RecordJobRun(context.Background(), s.metrics, string(job.Kind), status, time.Since(started))
	}()

	release, err := s.locker.Acquire(ctx, providers.SiteLockKey(job.UserID, job.SiteURL), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, providers.ErrLockHeld) {
			err = apperrors.NewConflictError("another run holds the lock for this site")
		}
		s.finish(job, err)
		return err
	}
	defer release()

	now := time.Now().UTC()
	job.Status = entities.JobStatusRunning
	job.StartedAt = &now
	if err = s.jobRepo.Update(ctx, job); err != nil {
		s.finish(job, err)
		return err
	}

	ctx, span := observability.StartSpan(ctx, "ClusteringJobService.execute")
	defer span.End()

	switch job.Kind {
	case entities.JobKindClustering:
		err = s.runClustering(ctx, job)
	case entities.JobKindCoverage:
		err = s.runCoverage(ctx, job)
	default:
		err = apperrors.NewValidationError(fmt.Sprintf("unknown job kind %q", job.Kind))
	}
	if err != nil {
		observability.RecordError(span, err)
	}
	s.finish(job, err)
	return err
}

func (s *ClusteringJobService) runClustering(ctx context.Context, job *entities.ClusteringJob) error {
	clusters, err := s.builder.CreateClusters(ctx, job.UserID, job.SiteURL, job.MinSimilarity)
	if err != nil {
		return err
	}
	job.ClusterCount = len(clusters)
	job.KeywordCount = 0
	for _, c := range clusters {
		job.KeywordCount += len(c.Memberships)
	}

	// coverage reads the generation that was just committed
	if _, err := s.coverage.RecomputeSite(ctx, job.UserID, job.SiteURL); err != nil {
		return err
	}

	s.indexClusters(ctx, job, clusters)
	s.publish(ctx, job, entities.ClusterEventGenerationReplaced)
	return nil
}

func (s *ClusteringJobService) runCoverage(ctx context.Context, job *entities.ClusteringJob) error {
	summary, err := s.coverage.RecomputeSite(ctx, job.UserID, job.SiteURL)
	if err != nil {
		return err
	}
	job.ClusterCount = summary.Clusters
	s.publish(ctx, job, entities.ClusterEventCoverageRecomputed)
	return nil
}

// indexClusters is best effort: search falls back to the database.
func (s *ClusteringJobService) indexClusters(ctx context.Context, job *entities.ClusteringJob, clusters []*entities.Cluster) {
	if s.searchIndex == nil {
		return
	}
	if err := s.searchIndex.IndexSite(ctx, job.UserID, job.SiteURL, clusters); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Str("site_url", job.SiteURL).Msg("Failed to index clusters")
	}
}

func (s *ClusteringJobService) publish(ctx context.Context, job *entities.ClusteringJob, eventType entities.ClusterEventType) {
	if s.eventBus == nil {
		return
	}
	event := entities.NewClusterEvent(eventType, job.UserID, job.SiteURL, job.ID)
	event.ClusterCount = job.ClusterCount
	for _, channel := range []string{providers.EventChannelClusterUpdates, providers.SiteEventChannel(job.UserID, job.SiteURL)} {
		if err := s.eventBus.Publish(ctx, channel, event); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Str("channel", channel).Msg("Failed to publish cluster event")
		}
	}
}

// finish records the terminal state. It uses its own context so a cancelled
// run is still recorded as failed.
func (s *ClusteringJobService) finish(job *entities.ClusteringJob, runErr error) {
	s.startMu.Lock()
	delete(s.inflight, job.ID)
	s.startMu.Unlock()

	now := time.Now().UTC()
	job.FinishedAt = &now
	if runErr != nil {
		job.Status = entities.JobStatusFailed
		job.ErrorMessage = runErr.Error()
	} else {
		job.Status = entities.JobStatusDone
		job.ErrorMessage = ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.jobRepo.Update(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record job result")
		return
	}

	event := log.Info()
	if runErr != nil {
		event = log.Warn().Err(runErr)
	}
	event.
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("user_id", job.UserID).
		Str("site_url", job.SiteURL).
		Str("status", string(job.Status)).
		Int("clusters", job.ClusterCount).
		Msg("Job finished")
}

// GetJob returns a job owned by userID.
func (s *ClusteringJobService) GetJob(ctx context.Context, userID, jobID string) (*entities.ClusteringJob, error) {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("job %s not found", jobID))
	}
	return job, nil
}

// Shutdown stops accepting runs and waits for in-flight runs. When ctx ends
// first, remaining runs are cancelled and recorded as failed.
func (s *ClusteringJobService) Shutdown(ctx context.Context) error {
	s.startMu.Lock()
	s.closing = true
	s.startMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

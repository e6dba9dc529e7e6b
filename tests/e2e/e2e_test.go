// Package e2e runs end-to-end scenarios through the assembled dependency
// graph on in-memory backends: CSV feed to scored portfolio, document
// pipeline, weight tuning, scheduling, and retention.
package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/batch"
	"github.com/govmatch-ai/govmatch/internal/config"
	"github.com/govmatch-ai/govmatch/internal/match"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/opportunity"
	"github.com/govmatch-ai/govmatch/internal/profile"
	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
	"github.com/govmatch-ai/govmatch/internal/weights"
)

const feedCSV = `NoticeId,Title,PostedDate,ResponseDeadLine,ArchiveDate,NAICSCode,SetASide,PopState,Active,Description
E2E-0001,Custom Software Development Services,2026-08-01,2099-09-15,2099-12-01,541511,Small Business Set-Aside,VA,Yes,Agency requires agile software development and cloud migration support
E2E-0002,Highway Resurfacing,2026-08-02,2099-09-20,2099-12-05,237310,,CO,Yes,Resurfacing of state highway segments
E2E-0003,Cybersecurity Assessment,2026-08-03,2099-09-25,2099-12-10,541512,8(a) Set-Aside,MD,Yes,Comprehensive security assessment of agency systems
`

func newEnv(t *testing.T) *app.Dependencies {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.SQLite.Path = ":memory:"
	cfg.ObjectStore.Driver = "memory"
	cfg.Observability.MetricsEnabled = false

	deps, err := app.New(context.Background(), cfg, observability.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(deps.Close)
	return deps
}

func seedCompany(t *testing.T, deps *app.Dependencies, tenantID, companyID, statement string, naics ...string) {
	t.Helper()
	require.NoError(t, deps.Repos.Companies.Upsert(context.Background(), &storage.CompanyProfile{
		CompanyID:           companyID,
		TenantID:            tenantID,
		LegalName:           companyID + " LLC",
		NAICSCodes:          naics,
		Certifications:      []string{"Small Business"},
		Locations:           []storage.Location{{City: "Arlington", State: "VA"}},
		CapabilityStatement: statement,
	}))
}

// ingestFeed serves the CSV over a local HTTP server and runs the full
// download, normalize, enqueue, and process path.
func ingestFeed(t *testing.T, deps *app.Dependencies, csv string) *opportunity.IngestResult {
	t.Helper()
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(csv))
	}))
	t.Cleanup(srv.Close)

	ingestor := opportunity.NewIngestor(opportunity.IngestorConfig{
		SourceURL: srv.URL + "/feed.csv",
		AllowHTTP: true,
		Queue:     deps.Queue,
		Blobs:     deps.Blobs,
		MaxBytes:  deps.Config.Ingestion.MaxCSVBytes,
		Logger:    deps.Logger,
	})
	result, err := ingestor.Run(ctx)
	require.NoError(t, err)

	for {
		msgs, err := deps.Queue.Receive(ctx, queue.QueueOpportunityBatches, 10)
		require.NoError(t, err)
		if len(msgs) == 0 {
			return result
		}
		for _, msg := range msgs {
			var rows opportunity.RowBatch
			require.NoError(t, json.Unmarshal(msg.Body, &rows))
			for i := range rows.Opportunities {
				_, err := deps.OppProc.Process(ctx, &rows.Opportunities[i])
				require.NoError(t, err)
			}
			require.NoError(t, deps.Queue.Delete(ctx, queue.QueueOpportunityBatches, msg))
		}
	}
}

// drainMatchQueue plays the worker's role: score every queued pair and
// record batch progress so coordinations complete.
func drainMatchQueue(ctx context.Context, t *testing.T, deps *app.Dependencies) int {
	t.Helper()
	scoredTotal := 0
	for {
		msgs, err := deps.Queue.Receive(ctx, queue.QueueMatchPairs, 10)
		require.NoError(t, err)
		if len(msgs) == 0 {
			return scoredTotal
		}
		for _, msg := range msgs {
			batchMsg, err := batch.DecodeMessage(msg.Body)
			require.NoError(t, err)
			var pairs []batch.MatchPairItem
			require.NoError(t, batchMsg.Items(&pairs))

			started := time.Now()
			scored, errored := 0, 0
			for _, pair := range pairs {
				opp, err := deps.Repos.Opportunities.GetByNoticeID(ctx, pair.NoticeID)
				if err != nil {
					errored++
					continue
				}
				company, err := deps.Repos.Companies.GetByID(ctx, pair.TenantID, pair.CompanyID)
				if err != nil {
					errored++
					continue
				}
				if _, err := deps.Matcher.Match(ctx, match.Request{
					Opportunity: opp,
					Profile:     company,
					UseCache:    true,
				}); err != nil {
					errored++
					continue
				}
				scored++
			}
			_, err = deps.Tracker.Record(ctx, batch.Update{
				CoordinationID: batchMsg.CoordinationID,
				BatchID:        batchMsg.BatchID,
				BatchIndex:     batchMsg.BatchIndex,
				ItemsProcessed: scored,
				ItemsTotal:     len(pairs),
				ErrorsCount:    errored,
				Duration:       time.Since(started),
				Status:         storage.BatchStatusCompleted,
			})
			require.NoError(t, err)
			scoredTotal += scored
			require.NoError(t, deps.Queue.Delete(ctx, queue.QueueMatchPairs, msg))
		}
	}
}

// TestFeedIngestionToActivePortfolio drives a CSV feed through download,
// normalization, queueing, and processing into the active portfolio.
func TestFeedIngestionToActivePortfolio(t *testing.T) {
	deps := newEnv(t)
	ctx := context.Background()

	result := ingestFeed(t, deps, feedCSV)
	assert.Equal(t, 3, result.RowsParsed)
	assert.Equal(t, 3, result.RowsQueued)

	active, err := deps.Repos.Opportunities.ListActive(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	stored, err := deps.Repos.Opportunities.GetByNoticeID(ctx, "E2E-0001")
	require.NoError(t, err)
	assert.Equal(t, "Custom Software Development Services", stored.Title)
	assert.Equal(t, "541511", stored.NAICSCode)
	assert.Equal(t, storage.OpportunityStatusActive, stored.Status)
	require.NotNil(t, stored.PlaceOfPerformance)
	assert.Equal(t, "VA", stored.PlaceOfPerformance.State)

	// Re-running the same feed deduplicates at the queue, so nothing is
	// processed twice.
	again := ingestFeed(t, deps, feedCSV)
	assert.Equal(t, 0, again.BatchesSent)
	assert.Equal(t, again.BatchesDeduped, result.BatchesSent)
}

// TestNightlyRunScoresEveryPair runs the coordinated nightly batch across
// all seeded companies and opportunities.
func TestNightlyRunScoresEveryPair(t *testing.T) {
	deps := newEnv(t)
	ctx := context.Background()

	ingestFeed(t, deps, feedCSV)
	seedCompany(t, deps, "tenant-a", "acme-software",
		"Custom software development and cybersecurity for federal agencies", "541511", "541512")
	seedCompany(t, deps, "tenant-a", "granite-roadworks",
		"Highway construction and resurfacing", "237310")

	done := make(chan struct{})
	var runResult *batch.RunResult
	var runErr error
	go func() {
		defer close(done)
		runResult, runErr = deps.Runner.RunNightly(ctx)
	}()

	deadline := time.After(30 * time.Second)
	for {
		select {
		case <-done:
			require.NoError(t, runErr)
			assert.Equal(t, storage.CoordinationStatusCompleted, runResult.Status)
			assert.Equal(t, 6, runResult.TotalItems)

			matches, err := deps.Repos.Matches.ListByCompany(ctx, "acme-software", 10, 0)
			require.NoError(t, err)
			assert.Len(t, matches, 3)
			return
		case <-deadline:
			t.Fatal("nightly run did not complete")
		default:
			drainMatchQueue(ctx, t, deps)
			time.Sleep(50 * time.Millisecond)
		}
	}
}

// TestDocumentLifecycle uploads a capability statement, processes it, and
// walks the list, download, and delete operations.
func TestDocumentLifecycle(t *testing.T) {
	deps := newEnv(t)
	ctx := context.Background()
	seedCompany(t, deps, "tenant-docs", "company-docs",
		"Custom software development", "541511")
	id := profile.Identity{TenantID: "tenant-docs", CompanyID: "company-docs", UserID: "user-1"}

	content := []byte("We deliver custom software development and cloud migration for civilian agencies.")
	grant, err := deps.Profiles.CreateUploadIntent(ctx, id, profile.UploadRequest{
		Filename:  "capability.txt",
		SizeBytes: int64(len(content)),
		MimeType:  "text/plain",
		Category:  storage.CategoryCapabilityStatements,
	})
	require.NoError(t, err)
	require.NoError(t, deps.Blobs.RawDocuments.Put(ctx, grant.Key, content))
	_, err = deps.Profiles.ConfirmUpload(ctx, id, grant.DocumentID)
	require.NoError(t, err)

	// Drain the processing queue the way the worker does.
	msgs, err := deps.Queue.Receive(ctx, queue.QueueProfileDocuments, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var docMsg profile.DocumentMessage
	require.NoError(t, json.Unmarshal(msgs[0].Body, &docMsg))
	procResult, err := deps.ProfileProc.ProcessDocument(ctx, docMsg)
	require.NoError(t, err)
	assert.Equal(t, grant.DocumentID, procResult.DocumentID)
	require.NoError(t, deps.Queue.Delete(ctx, queue.QueueProfileDocuments, msgs[0]))

	docs, total, err := deps.Profiles.ListDocuments(ctx, id, profile.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, storage.DocumentStatusProcessed, docs[0].Status)

	download, err := deps.Profiles.GrantDownload(ctx, id, grant.DocumentID)
	require.NoError(t, err)
	assert.NotEmpty(t, download.Token)

	require.NoError(t, deps.Profiles.DeleteDocument(ctx, id, grant.DocumentID))
	_, total, err = deps.Profiles.ListDocuments(ctx, id, profile.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

// TestWeightTuningInvalidatesCachedScores changes tenant weights between
// two scoring passes and expects the second pass to recompute.
func TestWeightTuningInvalidatesCachedScores(t *testing.T) {
	deps := newEnv(t)
	ctx := context.Background()

	ingestFeed(t, deps, feedCSV)
	seedCompany(t, deps, "tenant-tune", "tuned-co",
		"Custom software development for federal agencies", "541511")

	opp, err := deps.Repos.Opportunities.GetByNoticeID(ctx, "E2E-0001")
	require.NoError(t, err)
	company, err := deps.Repos.Companies.GetByID(ctx, "tenant-tune", "tuned-co")
	require.NoError(t, err)

	first, err := deps.Matcher.Match(ctx, match.Request{Opportunity: opp, Profile: company, UseCache: true})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	cached, err := deps.Matcher.Match(ctx, match.Request{Opportunity: opp, Profile: company, UseCache: true})
	require.NoError(t, err)
	assert.True(t, cached.Cached)

	_, err = deps.Weights.Update(ctx, "tenant-tune", weights.Update{
		Weights: map[string]float64{
			match.ComponentSemantic: 0.30,
			match.ComponentKeyword:  0.10,
		},
	}, "e2e")
	require.NoError(t, err)

	// New weights change the fingerprint, so the cache entry no longer
	// applies.
	retuned, err := deps.Matcher.Match(ctx, match.Request{Opportunity: opp, Profile: company, UseCache: true})
	require.NoError(t, err)
	assert.False(t, retuned.Cached)

	audits, err := deps.Repos.Audit.ListByTenant(ctx, "tenant-tune", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, audits)
}

// TestScheduledNightlyTrigger creates the nightly schedule, triggers it
// manually, and confirms the dispatched coordination completes.
func TestScheduledNightlyTrigger(t *testing.T) {
	deps := newEnv(t)
	ctx := context.Background()

	ingestFeed(t, deps, feedCSV)
	seedCompany(t, deps, "tenant-sched", "sched-co",
		"Cybersecurity assessments for federal systems", "541512")

	sched, err := deps.Schedules.Create("nightly-match", "0 2 * * *", batch.TargetNightlyMatch, nil)
	require.NoError(t, err)
	assert.True(t, sched.NextRun.After(time.Now().Add(-time.Minute)))

	exec, err := deps.Schedules.Trigger(ctx, "nightly-match", nil)
	require.NoError(t, err)
	require.NotEmpty(t, exec.Handle)

	drainMatchQueue(ctx, t, deps)

	require.Eventually(t, func() bool {
		rec, err := deps.Repos.Coordination.GetByID(ctx, exec.Handle)
		return err == nil && rec.Status == storage.CoordinationStatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	report, err := deps.Monitor.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Healthy)
}

// TestRetentionPurge expires cached match results and verifies purging
// removes them exactly once.
func TestRetentionPurge(t *testing.T) {
	deps := newEnv(t)
	ctx := context.Background()

	require.NoError(t, deps.Repos.MatchCache.Put(ctx, "stale-key", []byte(`{"total_score":0.5}`), time.Millisecond))
	require.NoError(t, deps.Repos.MatchCache.Put(ctx, "fresh-key", []byte(`{"total_score":0.7}`), time.Hour))
	time.Sleep(20 * time.Millisecond)

	purged, err := deps.Repos.MatchCache.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	_, err = deps.Repos.MatchCache.Get(ctx, "fresh-key")
	require.NoError(t, err)

	purged, err = deps.Repos.MatchCache.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, purged)
}

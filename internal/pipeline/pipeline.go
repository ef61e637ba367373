// Package pipeline sequences crawling, extraction, embedding and persistence
// for ingestion, and embedding, matching and selection for donor queries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/compass/internal/config"
	"github.com/sells-group/compass/internal/extract"
	"github.com/sells-group/compass/internal/match"
	"github.com/sells-group/compass/internal/model"
	"github.com/sells-group/compass/internal/queue"
	"github.com/sells-group/compass/internal/store"
)

// ExtractedTextChars caps the crawl text kept on the organization.
const ExtractedTextChars = 15000

// Crawler fetches an organization's website.
type Crawler interface {
	Crawl(ctx context.Context, rootURL string, budget int) (*model.CrawledSite, error)
}

// Extractor turns a crawled site into a profile and movements. It never
// fails; degraded results carry OK=false.
type Extractor interface {
	ExtractProfile(ctx context.Context, site *model.CrawledSite) extract.ProfileResult
	ExtractMovements(ctx context.Context, site *model.CrawledSite) extract.MovementsResult
}

// Embedder maps text to vectors. A nil vector means failure.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
	EmbedAll(ctx context.Context, texts []string) map[string][]float32
}

// Selector picks recommendations from grouped matches.
type Selector interface {
	Select(ctx context.Context, query string, grouped model.GroupedMatches) ([]model.Recommendation, error)
}

// Pipeline owns the components and is the only writer to the store.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	crawler   Crawler
	extractor Extractor
	embedder  Embedder
	selector  Selector
	tasks     *queue.Queue[*model.ResearchResult]
}

// New creates a Pipeline. The research queue is sized from cfg.Queue.
func New(cfg *config.Config, st store.Store, c Crawler, ex Extractor, em Embedder, sel Selector) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		crawler:   c,
		extractor: ex,
		embedder:  em,
		selector:  sel,
		tasks:     queue.New[*model.ResearchResult](cfg.Queue.Workers, cfg.Queue.Retain),
	}
}

// Close waits for queued research runs to finish.
func (p *Pipeline) Close() {
	p.tasks.Close()
}

// run tracks one research request in the run log. Run log writes are best
// effort: a failing store never aborts research on their account.
type run struct {
	p      *Pipeline
	id     string
	result *model.ResearchResult
	log    *zap.Logger
}

func (r *run) setStatus(ctx context.Context, status model.RunStatus) {
	r.log.Info("pipeline: stage", zap.String("status", string(status)))
	if r.id == "" {
		return
	}
	if err := r.p.store.UpdateRunStatus(ctx, r.id, status); err != nil {
		r.log.Warn("pipeline: failed to update run status", zap.Error(err))
	}
}

func (r *run) finish(ctx context.Context, status model.RunStatus) *model.ResearchResult {
	if r.id != "" {
		if err := r.p.store.CompleteRun(ctx, r.id, status, r.result); err != nil {
			r.log.Warn("pipeline: failed to record run result", zap.Error(err))
		}
	}
	return r.result
}

func (r *run) fail(ctx context.Context, reason string) *model.ResearchResult {
	r.result.Success = false
	r.result.Error = reason
	r.log.Warn("pipeline: research failed", zap.String("reason", reason))
	return r.finish(ctx, model.RunStatusError)
}

// Research crawls, extracts, embeds and persists one organization and
// blocks until done. Failures are reported in the result. A run is only
// unsuccessful when the organization or its website is missing, the crawl
// yields no pages, or the organization cannot be saved; nothing is written
// in the first three cases.
func (p *Pipeline) Research(ctx context.Context, orgID int64, maxPages int) *model.ResearchResult {
	if maxPages <= 0 {
		maxPages = p.cfg.Crawl.MaxPages
	}
	r := &run{
		p:      p,
		result: &model.ResearchResult{OrganizationID: orgID},
		log:    zap.L().With(zap.Int64("organization_id", orgID)),
	}

	rec, err := p.store.CreateRun(ctx, orgID)
	if err != nil {
		r.log.Warn("pipeline: failed to create run record", zap.Error(err))
	} else {
		r.id = rec.ID
		r.result.RunID = rec.ID
		r.log = r.log.With(zap.String("run_id", rec.ID))
	}
	r.log.Info("pipeline: research starting", zap.Int("max_pages", maxPages))

	org, err := p.store.GetOrganization(ctx, orgID)
	if errors.Is(err, store.ErrNotFound) {
		return r.fail(ctx, fmt.Sprintf("organization %d not found", orgID))
	}
	if err != nil {
		return r.fail(ctx, eris.Wrap(err, "pipeline: load organization").Error())
	}
	if strings.TrimSpace(org.WebsiteURL) == "" {
		return r.fail(ctx, "organization has no website")
	}

	r.setStatus(ctx, model.RunStatusCrawling)
	site, err := p.crawler.Crawl(ctx, org.WebsiteURL, maxPages)
	if err != nil {
		r.result.CrawlMethod = model.CrawlMethodFailed
		return r.fail(ctx, err.Error())
	}
	r.result.CrawlMethod = site.CrawlMethod
	r.result.PagesCrawled = len(site.Pages)
	if len(site.Pages) == 0 {
		return r.fail(ctx, "crawl returned no pages for "+org.WebsiteURL)
	}

	r.setStatus(ctx, model.RunStatusExtracting)
	var profile extract.ProfileResult
	var movements extract.MovementsResult
	var g errgroup.Group
	g.Go(func() error {
		profile = p.extractor.ExtractProfile(ctx, site)
		return nil
	})
	g.Go(func() error {
		movements = p.extractor.ExtractMovements(ctx, site)
		return nil
	})
	_ = g.Wait()

	changed := extract.MergeProfile(org, profile.Profile)
	if org.ExtractedTextData == "" {
		org.ExtractedTextData = site.CombinedContent(ExtractedTextChars)
	}
	r.log.Info("pipeline: extraction complete",
		zap.Bool("profile_ok", profile.OK),
		zap.Strings("changed_fields", changed),
		zap.Bool("movements_ok", movements.OK),
		zap.Int("movements", len(movements.Movements)),
	)

	r.setStatus(ctx, model.RunStatusEmbedding)
	refreshOrg := len(org.Embedding) == 0 || slices.Contains(changed, "description")
	texts := make([]string, 0, len(movements.Movements)+1)
	if refreshOrg {
		texts = append(texts, org.ProfileText())
	}
	for i := range movements.Movements {
		texts = append(texts, movements.Movements[i].EmbeddingText())
	}
	vectors := p.embedder.EmbedAll(ctx, texts)
	if refreshOrg {
		if v := vectors[org.ProfileText()]; v != nil {
			org.Embedding = v
		} else {
			r.log.Warn("pipeline: organization embedding unavailable")
		}
	}

	r.setStatus(ctx, model.RunStatusPersisting)
	if err := p.store.SaveOrganization(ctx, org); err != nil {
		return r.fail(ctx, eris.Wrap(err, "pipeline: save organization").Error())
	}
	r.result.MovementsFound = p.persistMovements(ctx, r.log, org.ID, movements.Movements, vectors)

	r.result.Success = true
	r.log.Info("pipeline: research complete",
		zap.Int("pages", r.result.PagesCrawled),
		zap.Int("movements", r.result.MovementsFound),
		zap.String("crawl_method", string(r.result.CrawlMethod)),
	)
	return r.finish(ctx, model.RunStatusDone)
}

// persistMovements upserts each movement under a unique slug and returns
// how many were stored. A movement that cannot be stored is skipped.
func (p *Pipeline) persistMovements(ctx context.Context, log *zap.Logger, orgID int64, movements []model.ExtractedMovement, vectors map[string][]float32) int {
	claimed := make(map[string]bool, len(movements))
	stored := 0
	for i := range movements {
		m := &movements[i]
		slug, err := p.resolveSlug(ctx, orgID, m.Title, claimed)
		if err != nil {
			log.Warn("pipeline: slug lookup failed, skipping movement", zap.String("title", m.Title), zap.Error(err))
			continue
		}
		if slug == "" {
			log.Warn("pipeline: no free slug, skipping movement",
				zap.String("title", m.Title),
				zap.Int("max_suffix", MaxSlugSuffix),
			)
			continue
		}
		claimed[slug] = true

		fields := model.MovementFields{
			Title:           m.Title,
			Summary:         m.Summary,
			Category:        m.Category,
			Geography:       m.Geography,
			StartDate:       m.StartDate,
			SourceURLs:      m.SourceURLs,
			ConfidenceScore: m.Confidence,
			Embedding:       vectors[m.EmbeddingText()],
		}
		if _, err := p.store.UpsertMovement(ctx, orgID, slug, fields); err != nil {
			log.Warn("pipeline: movement upsert failed, skipping", zap.String("slug", slug), zap.Error(err))
			continue
		}
		stored++
	}
	return stored
}

// resolveSlug finds the slug for title. A stored movement with the same
// title keeps its slug and is updated in place; slugs claimed earlier in
// this run or held by another title get a numeric suffix. An empty slug
// means every candidate up to MaxSlugSuffix was taken.
func (p *Pipeline) resolveSlug(ctx context.Context, orgID int64, title string, claimed map[string]bool) (string, error) {
	base := Slugify(title)
	for n := 0; n <= MaxSlugSuffix; n++ {
		slug := withSuffix(base, n)
		if claimed[slug] {
			continue
		}
		exists, err := p.store.ExistsSlug(ctx, orgID, slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		existing, err := p.store.GetMovementBySlug(ctx, orgID, slug)
		if err != nil {
			return "", err
		}
		if strings.EqualFold(strings.TrimSpace(existing.Title), strings.TrimSpace(title)) {
			return slug, nil
		}
	}
	return "", nil
}

// ResearchAsync starts Research in the background and returns at once.
// Outcomes are only logged.
func (p *Pipeline) ResearchAsync(orgID int64, maxPages int) {
	p.Submit(orgID, maxPages)
}

// Submit queues Research for orgID and returns a handle to await it.
func (p *Pipeline) Submit(orgID int64, maxPages int) queue.Handle {
	return p.tasks.Submit(fmt.Sprintf("research:%d", orgID), func(ctx context.Context) (*model.ResearchResult, error) {
		res := p.Research(ctx, orgID, maxPages)
		if res.Success {
			zap.L().Info("pipeline: background research finished",
				zap.Int64("organization_id", orgID),
				zap.Int("movements", res.MovementsFound),
			)
		} else {
			zap.L().Warn("pipeline: background research failed",
				zap.Int64("organization_id", orgID),
				zap.String("error", res.Error),
			)
		}
		return res, nil
	})
}

// Await blocks until the research behind h finishes.
func (p *Pipeline) Await(ctx context.Context, h queue.Handle) (*model.ResearchResult, error) {
	res, err := p.tasks.Await(ctx, h)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: await research")
	}
	return res, nil
}

// Task returns the queued research task with the given id.
func (p *Pipeline) Task(id string) (queue.Task[*model.ResearchResult], bool) {
	return p.tasks.Status(id)
}

// Match answers a donor query. It never returns an error: a failed query
// embedding or candidate load is reported in Error, a failed selection in
// SelectionError with the matches still present.
func (p *Pipeline) Match(ctx context.Context, query string, topK int) *model.MatchResponse {
	if topK <= 0 {
		topK = p.cfg.Match.TopK
	}
	resp := &model.MatchResponse{
		Query:           query,
		GroupedMatches:  model.GroupedMatches{},
		RawMatches:      []model.MatchResult{},
		Recommendations: []model.Recommendation{},
	}
	log := zap.L().With(zap.Int("top_k", topK))
	state := func(s model.QueryStatus) {
		log.Debug("pipeline: query stage", zap.String("status", string(s)))
	}
	state(model.QueryStatusPending)

	if strings.TrimSpace(query) == "" {
		resp.Error = "query is empty"
		return resp
	}

	state(model.QueryStatusEmbedding)
	vec := p.embedder.Embed(ctx, query)
	if vec == nil {
		log.Warn("pipeline: query embedding failed")
		resp.Error = "query embedding failed"
		return resp
	}

	state(model.QueryStatusMatching)
	candidates, err := p.store.ListMatchCandidates(ctx)
	if err != nil {
		log.Error("pipeline: load match candidates", zap.Error(err))
		resp.Error = "failed to load match candidates"
		return resp
	}
	ranked := match.Rank(vec, candidates, topK, p.cfg.Match.MinScore)
	resp.RawMatches = append(resp.RawMatches, ranked...)
	resp.GroupedMatches = match.Group(ranked)

	if len(resp.GroupedMatches) == 0 {
		log.Info("pipeline: no candidates matched", zap.Int("candidates", len(candidates)))
		state(model.QueryStatusDone)
		return resp
	}

	state(model.QueryStatusSelecting)
	recs, err := p.selector.Select(ctx, query, resp.GroupedMatches)
	if err != nil {
		log.Warn("pipeline: selection failed", zap.Error(err))
		resp.SelectionError = err.Error()
	} else {
		resp.Recommendations = append(resp.Recommendations, recs...)
	}

	state(model.QueryStatusDone)
	log.Info("pipeline: match complete",
		zap.Int("raw_matches", len(resp.RawMatches)),
		zap.Int("groups", len(resp.GroupedMatches)),
		zap.Int("recommendations", len(resp.Recommendations)),
	)
	return resp
}

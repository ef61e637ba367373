package model

import "time"

// RunStatus represents the current state of a research run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusCrawling   RunStatus = "crawling"
	RunStatusExtracting RunStatus = "extracting"
	RunStatusEmbedding  RunStatus = "embedding"
	RunStatusPersisting RunStatus = "persisting"
	RunStatusDone       RunStatus = "done"
	RunStatusError      RunStatus = "error"
)

// QueryStatus represents the stage of a match request.
type QueryStatus string

const (
	QueryStatusPending   QueryStatus = "pending"
	QueryStatusEmbedding QueryStatus = "embedding"
	QueryStatusMatching  QueryStatus = "matching"
	QueryStatusSelecting QueryStatus = "selecting"
	QueryStatusDone      QueryStatus = "done"
)

// Run is one research request for an organization.
type Run struct {
	ID             string          `json:"id"`
	OrganizationID int64           `json:"organization_id"`
	Status         RunStatus       `json:"status"`
	Result         *ResearchResult `json:"result,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// RunFilter narrows run listings.
type RunFilter struct {
	OrganizationID int64
	Status         RunStatus
	Limit          int
}

// ResearchResult is the outcome of researching one organization.
type ResearchResult struct {
	Success        bool        `json:"success"`
	OrganizationID int64       `json:"organization_id"`
	PagesCrawled   int         `json:"pages_crawled"`
	MovementsFound int         `json:"movements_found"`
	Error          string      `json:"error,omitempty"`
	RunID          string      `json:"run_id,omitempty"`
	CrawlMethod    CrawlMethod `json:"crawl_method,omitempty"`
}

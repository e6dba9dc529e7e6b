// Package storage provides persistence models and repositories for the match engine.
package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProcessingStatus represents the ingestion state of an opportunity record.
type ProcessingStatus string

const (
	ProcessingStatusPending       ProcessingStatus = "pending"
	ProcessingStatusCompleted     ProcessingStatus = "completed"
	ProcessingStatusError         ProcessingStatus = "error"
	ProcessingStatusAlreadyExists ProcessingStatus = "already_exists"
)

// OpportunityStatus represents the lifecycle state derived from date arithmetic.
type OpportunityStatus string

const (
	OpportunityStatusActive   OpportunityStatus = "active"
	OpportunityStatusExpired  OpportunityStatus = "expired"
	OpportunityStatusArchived OpportunityStatus = "archived"
)

// DocumentStatus represents the upload lifecycle of a company document.
type DocumentStatus string

const (
	DocumentStatusUploading DocumentStatus = "uploading"
	DocumentStatusUploaded  DocumentStatus = "uploaded"
	DocumentStatusProcessed DocumentStatus = "processed"
	DocumentStatusFailed    DocumentStatus = "failed"
)

// DocumentCategory classifies an uploaded company document.
type DocumentCategory string

const (
	CategoryTeamResumes          DocumentCategory = "team-resumes"
	CategoryCapabilityStatements DocumentCategory = "capability-statements"
	CategoryPastPerformance      DocumentCategory = "past-performance"
	CategoryCertifications       DocumentCategory = "certifications"
	CategoryFinancial            DocumentCategory = "financial"
	CategoryOther                DocumentCategory = "other"
)

// ConfidenceLevel buckets a match score by strength and consistency.
type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "HIGH"
	ConfidenceMedium  ConfidenceLevel = "MEDIUM"
	ConfidenceLow     ConfidenceLevel = "LOW"
	ConfidenceNoMatch ConfidenceLevel = "NO_MATCH"
)

// CoordinationStatus represents the aggregate state of a batch run.
type CoordinationStatus string

const (
	CoordinationStatusPending             CoordinationStatus = "pending"
	CoordinationStatusProcessing          CoordinationStatus = "processing"
	CoordinationStatusCompleted           CoordinationStatus = "completed"
	CoordinationStatusCompletedWithErrors CoordinationStatus = "completed_with_errors"
	CoordinationStatusFailed              CoordinationStatus = "failed"
)

// BatchStatus represents the state of one batch inside a coordination.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// VectorEntityType identifies what kind of entity a vector index entry points at.
type VectorEntityType string

const (
	VectorEntityOpportunity     VectorEntityType = "opportunity"
	VectorEntityCompanyDocument VectorEntityType = "company_document"
	VectorEntityCompanyProfile  VectorEntityType = "company_profile"
)

// RevenueRange is a coarse annual-revenue band for a company.
type RevenueRange string

const (
	RevenueUnder1M RevenueRange = "under_1m"
	Revenue1To5M   RevenueRange = "1m_to_5m"
	Revenue5To10M  RevenueRange = "5m_to_10m"
	Revenue10To50M RevenueRange = "10m_to_50m"
	RevenueOver50M RevenueRange = "over_50m"
)

// EmployeeBand is a coarse headcount band for a company.
type EmployeeBand string

const (
	Employees1To10    EmployeeBand = "1_to_10"
	Employees11To50   EmployeeBand = "11_to_50"
	Employees51To200  EmployeeBand = "51_to_200"
	Employees201To500 EmployeeBand = "201_to_500"
	EmployeesOver500  EmployeeBand = "over_500"
)

// Contact is a named point of contact on an opportunity or profile.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Location is a physical address associated with an opportunity or company.
type Location struct {
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
}

// AwardInfo carries award details when an opportunity has been awarded.
type AwardInfo struct {
	Number  string          `json:"number,omitempty"`
	Date    *time.Time      `json:"date,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
	Awardee string          `json:"awardee,omitempty"`
}

// AttachmentInfo describes one attachment on an opportunity notice.
type AttachmentInfo struct {
	AttachmentID string `json:"attachment_id"`
	Filename     string `json:"filename"`
	URL          string `json:"url,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
}

// EmbeddingMetadata tracks the object-store keys of embeddings generated
// for one entity. Keys are deterministic so re-ingestion replaces in place.
type EmbeddingMetadata struct {
	SummaryKey    string            `json:"summary_key,omitempty"`
	SegmentKeys   map[string]string `json:"segment_keys,omitempty"`
	SectionKeys   []string          `json:"section_keys,omitempty"`
	ChunkKeys     []string          `json:"chunk_keys,omitempty"`
	ParagraphKeys []string          `json:"paragraph_keys,omitempty"`
}

// Opportunity is a single government contracting notice.
type Opportunity struct {
	NoticeID           string             `json:"notice_id" db:"notice_id"`
	Title              string             `json:"title" db:"title"`
	SolicitationNumber string             `json:"solicitation_number,omitempty" db:"solicitation_number"`
	Department         string             `json:"department,omitempty" db:"department"`
	Agency             string             `json:"agency,omitempty" db:"agency"`
	Office             string             `json:"office,omitempty" db:"office"`
	PostedDate         time.Time          `json:"posted_date" db:"posted_date"`
	ResponseDeadline   *time.Time         `json:"response_deadline,omitempty" db:"response_deadline"`
	ArchiveDate        *time.Time         `json:"archive_date,omitempty" db:"archive_date"`
	NoticeType         string             `json:"notice_type,omitempty" db:"notice_type"`
	NAICSCode          string             `json:"naics_code,omitempty" db:"naics_code"`
	SetAsideCode       string             `json:"set_aside_code,omitempty" db:"set_aside_code"`
	SetAside           string             `json:"set_aside,omitempty" db:"set_aside"`
	PlaceOfPerformance *Location          `json:"place_of_performance,omitempty" db:"place_of_performance"`
	Award              *AwardInfo         `json:"award,omitempty" db:"award"`
	PrimaryContact     *Contact           `json:"primary_contact,omitempty" db:"primary_contact"`
	SecondaryContact   *Contact           `json:"secondary_contact,omitempty" db:"secondary_contact"`
	Description        string             `json:"description,omitempty" db:"description"`
	Active             bool               `json:"active" db:"active"`
	Status             OpportunityStatus  `json:"status" db:"status"`
	Attachments        []AttachmentInfo   `json:"attachments,omitempty" db:"attachments"`
	EmbeddingMetadata  *EmbeddingMetadata `json:"embedding_metadata,omitempty" db:"embedding_metadata"`
	ProcessingStatus   ProcessingStatus   `json:"processing_status" db:"processing_status"`
	ErrorMessage       *string            `json:"error_message,omitempty" db:"error_message"`
	RetryCount         int                `json:"retry_count" db:"retry_count"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// PastPerformance is one prior contract a company reports.
type PastPerformance struct {
	Client      string          `json:"client"`
	Description string          `json:"description,omitempty"`
	Value       decimal.Decimal `json:"value"`
	StartDate   *time.Time      `json:"start_date,omitempty"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
	Agency      string          `json:"agency,omitempty"`
}

// CompanyDocument is one uploaded document attached to a company profile.
// StorageKey always begins with tenants/<company_id>/.
type CompanyDocument struct {
	DocumentID   string           `json:"document_id"`
	Filename     string           `json:"filename"`
	Category     DocumentCategory `json:"category"`
	StorageKey   string           `json:"s3_key"`
	Status       DocumentStatus   `json:"status"`
	SizeBytes    int64            `json:"size_bytes"`
	MimeType     string           `json:"mime_type,omitempty"`
	Tags         []string         `json:"tags,omitempty"`
	Version      int              `json:"version"`
	UploadedAt   *time.Time       `json:"uploaded_at,omitempty"`
	ProcessedAt  *time.Time       `json:"processed_at,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
}

// CompanyProfile is the per-tenant company record matched against opportunities.
type CompanyProfile struct {
	CompanyID           string             `json:"company_id" db:"company_id"`
	TenantID            string             `json:"tenant_id" db:"tenant_id"`
	LegalName           string             `json:"legal_name" db:"legal_name"`
	PrimaryContact      *Contact           `json:"primary_contact,omitempty" db:"primary_contact"`
	WebsiteURL          string             `json:"website_url,omitempty" db:"website_url"`
	NAICSCodes          []string           `json:"naics_codes,omitempty" db:"naics_codes"`
	Certifications      []string           `json:"certifications,omitempty" db:"certifications"`
	RevenueRange        RevenueRange       `json:"revenue_range,omitempty" db:"revenue_range"`
	EmployeeCount       EmployeeBand       `json:"employee_count,omitempty" db:"employee_count"`
	Locations           []Location         `json:"locations,omitempty" db:"locations"`
	CapabilityStatement string             `json:"capability_statement,omitempty" db:"capability_statement"`
	PastPerformance     []PastPerformance  `json:"past_performance,omitempty" db:"past_performance"`
	Documents           []CompanyDocument  `json:"documents,omitempty" db:"documents"`
	EmbeddingMetadata   *EmbeddingMetadata `json:"embedding_metadata,omitempty" db:"embedding_metadata"`
	CreatedAt           time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at" db:"updated_at"`
}

// ComponentScore is the output of one scoring component inside a match.
type ComponentScore struct {
	Score            float64                `json:"score"`
	Status           string                 `json:"status"` // ok, error, no_data
	Evidence         map[string]interface{} `json:"evidence,omitempty"`
	Recommendations  []string               `json:"recommendations,omitempty"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
}

// MatchResult is one scored (company, opportunity) pair.
// Scores are converted to fixed-precision decimals at the storage boundary.
type MatchResult struct {
	CompanyID        string                    `json:"company_id" db:"company_id"`
	OpportunityID    string                    `json:"opportunity_id" db:"opportunity_id"`
	TotalScore       float64                   `json:"total_score" db:"total_score"`
	Confidence       ConfidenceLevel           `json:"confidence" db:"confidence"`
	ComponentScores  map[string]ComponentScore `json:"component_scores" db:"component_scores"`
	MatchReasons     []string                  `json:"match_reasons,omitempty" db:"match_reasons"`
	NonMatchReasons  []string                  `json:"non_match_reasons,omitempty" db:"non_match_reasons"`
	Recommendations  []string                  `json:"recommendations,omitempty" db:"recommendations"`
	ActionItems      []string                  `json:"action_items,omitempty" db:"action_items"`
	Cached           bool                      `json:"cached" db:"-"`
	ProcessingTimeMs int64                     `json:"processing_time_ms" db:"processing_time_ms"`
	CreatedAt        time.Time                 `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at" db:"updated_at"`
}

// CoordinationRecord summarizes one logical batch-processing run.
type CoordinationRecord struct {
	CoordinationID      string             `json:"coordination_id" db:"coordination_id"`
	ProcessingType      string             `json:"processing_type" db:"processing_type"`
	Status              CoordinationStatus `json:"status" db:"status"`
	TotalBatches        int                `json:"total_batches" db:"total_batches"`
	CompletedBatches    int                `json:"completed_batches" db:"completed_batches"`
	FailedBatches       int                `json:"failed_batches" db:"failed_batches"`
	ProcessingBatches   int                `json:"processing_batches" db:"processing_batches"`
	TotalItems          int                `json:"total_items" db:"total_items"`
	TotalItemsProcessed int                `json:"total_items_processed" db:"total_items_processed"`
	TotalErrors         int                `json:"total_errors" db:"total_errors"`
	ProgressPercentage  float64            `json:"progress_percentage" db:"progress_percentage"`
	NotifiedThresholds  []int              `json:"notified_thresholds,omitempty" db:"notified_thresholds"`
	StartedAt           time.Time          `json:"started_at" db:"started_at"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt           time.Time          `json:"updated_at" db:"updated_at"`
}

// BatchProgressRecord tracks a single batch slice inside a coordination.
type BatchProgressRecord struct {
	CoordinationID     string      `json:"coordination_id" db:"coordination_id"`
	BatchID            string      `json:"batch_id" db:"batch_id"`
	BatchIndex         int         `json:"batch_index" db:"batch_index"`
	ItemsProcessed     int         `json:"items_processed" db:"items_processed"`
	ItemsTotal         int         `json:"items_total" db:"items_total"`
	ErrorsCount        int         `json:"errors_count" db:"errors_count"`
	ProcessingDuration int64       `json:"processing_duration_ms" db:"processing_duration_ms"`
	Status             BatchStatus `json:"status" db:"status"`
	RetryCount         int         `json:"retry_count" db:"retry_count"`
	LastError          *string     `json:"last_error,omitempty" db:"last_error"`
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at"`
	ExpiresAt          *time.Time  `json:"expires_at,omitempty" db:"expires_at"`
}

// ConfidenceLevels holds the score thresholds for confidence bands.
type ConfidenceLevels struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
	Low    float64 `json:"low"`
}

// AlgorithmParams holds tunable matching parameters.
type AlgorithmParams struct {
	CacheTTLHours               int     `json:"cache_ttl_hours"`
	MinScoreThreshold           float64 `json:"min_score_threshold"`
	MaxConcurrentMatches        int     `json:"max_concurrent_matches"`
	SemanticSimilarityThreshold float64 `json:"semantic_similarity_threshold"`
	ScoreConsistencyThreshold   float64 `json:"score_consistency_threshold"`
}

// WeightConfig is a versioned matching configuration, global or per tenant.
type WeightConfig struct {
	ConfigKey        string             `json:"config_key" db:"config_key"`
	Timestamp        time.Time          `json:"timestamp" db:"timestamp"`
	Weights          map[string]float64 `json:"weights" db:"weights"`
	ConfidenceLevels ConfidenceLevels   `json:"confidence_levels" db:"confidence_levels"`
	AlgorithmParams  AlgorithmParams    `json:"algorithm_params" db:"algorithm_params"`
	Version          int                `json:"version" db:"version"`
	UpdatedBy        string             `json:"updated_by" db:"updated_by"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty" db:"expires_at"`
}

// VectorIndexEntry points at a stored embedding and carries denormalized
// filters so similarity retrieval can prefilter without reading blobs.
type VectorIndexEntry struct {
	EntityType   VectorEntityType `json:"entity_type" db:"entity_type"`
	EntityID     string           `json:"entity_id" db:"entity_id"`
	ContentType  string           `json:"content_type" db:"content_type"`
	EmbeddingURI string           `json:"embedding_uri" db:"embedding_uri"`
	TenantID     string           `json:"tenant_id,omitempty" db:"tenant_id"`
	NAICSCode    string           `json:"naics_code,omitempty" db:"naics_code"`
	Agency       string           `json:"agency,omitempty" db:"agency"`
	State        string           `json:"state,omitempty" db:"state"`
	PostedDate   *time.Time       `json:"posted_date,omitempty" db:"posted_date"`
	ArchiveDate  *time.Time       `json:"archive_date,omitempty" db:"archive_date"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// MatchCacheEntry is a TTL-bounded cached match result keyed by fingerprint.
type MatchCacheEntry struct {
	CacheKey  string    `json:"cache_key" db:"cache_key"`
	Payload   []byte    `json:"payload" db:"payload"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AuditRecord is an immutable mutation log row, retained for 90 days.
type AuditRecord struct {
	TenantID     string                 `json:"tenant_id" db:"tenant_id"`
	Timestamp    time.Time              `json:"timestamp" db:"timestamp"`
	Actor        string                 `json:"actor" db:"actor"`
	Action       string                 `json:"action" db:"action"`
	ResourceType string                 `json:"resource_type" db:"resource_type"`
	ResourceID   string                 `json:"resource_id" db:"resource_id"`
	Details      map[string]interface{} `json:"details,omitempty" db:"details"`
	ExpiresAt    time.Time              `json:"expires_at" db:"expires_at"`
}

// EmbeddingRecord is the JSON blob written to the object store for each
// generated embedding.
type EmbeddingRecord struct {
	OwnerID           string                 `json:"owner_id"`
	ContentType       string                 `json:"content_type"`
	Vector            []float32              `json:"vector"`
	SourceTextPreview string                 `json:"source_text_preview,omitempty"`
	TokenCount        int                    `json:"token_count"`
	ModelID           string                 `json:"model_id"`
	GeneratedAt       time.Time              `json:"generated_at"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

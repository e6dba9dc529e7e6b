package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Common errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrConflict      = errors.New("record conflict")
	ErrInvalidTenant = errors.New("invalid tenant")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// toStorable converts an in-memory float score to the fixed-precision decimal
// persisted in the database. All score writes go through this single boundary.
func toStorable(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(4)
}

// marshalJSON serializes a value for a JSON text column; nil values become NULL.
func marshalJSON(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}

// unmarshalJSON deserializes a nullable JSON text column into v.
func unmarshalJSON(src sql.NullString, v interface{}) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), v)
}

// nullTime converts an optional time for storage.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// timePtr converts a scanned nullable time back to a pointer.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// OpportunityRepository persists opportunity notices keyed by notice_id.
type OpportunityRepository struct {
	db DB
}

// NewOpportunityRepository creates a new opportunity repository.
func NewOpportunityRepository(db DB) *OpportunityRepository {
	return &OpportunityRepository{db: db}
}

const opportunityColumns = `notice_id, title, solicitation_number, department, agency, office,
	posted_date, response_deadline, archive_date, notice_type, naics_code,
	set_aside_code, set_aside, place_of_performance, award, primary_contact,
	secondary_contact, description, active, status, attachments,
	embedding_metadata, processing_status, error_message, retry_count,
	created_at, updated_at`

// Upsert inserts or replaces an opportunity keyed by notice_id.
// created_at is preserved on replace; updated_at always advances.
func (r *OpportunityRepository) Upsert(ctx context.Context, opp *Opportunity) error {
	now := time.Now().UTC()
	if opp.CreatedAt.IsZero() {
		opp.CreatedAt = now
	}
	opp.UpdatedAt = now

	pop, err := marshalJSON(opp.PlaceOfPerformance)
	if err != nil {
		return err
	}
	award, err := marshalJSON(opp.Award)
	if err != nil {
		return err
	}
	primary, err := marshalJSON(opp.PrimaryContact)
	if err != nil {
		return err
	}
	secondary, err := marshalJSON(opp.SecondaryContact)
	if err != nil {
		return err
	}
	attachments, err := marshalJSON(opp.Attachments)
	if err != nil {
		return err
	}
	embMeta, err := marshalJSON(opp.EmbeddingMetadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO opportunities (` + opportunityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
		ON CONFLICT (notice_id) DO UPDATE SET
			title = EXCLUDED.title,
			solicitation_number = EXCLUDED.solicitation_number,
			department = EXCLUDED.department,
			agency = EXCLUDED.agency,
			office = EXCLUDED.office,
			posted_date = EXCLUDED.posted_date,
			response_deadline = EXCLUDED.response_deadline,
			archive_date = EXCLUDED.archive_date,
			notice_type = EXCLUDED.notice_type,
			naics_code = EXCLUDED.naics_code,
			set_aside_code = EXCLUDED.set_aside_code,
			set_aside = EXCLUDED.set_aside,
			place_of_performance = EXCLUDED.place_of_performance,
			award = EXCLUDED.award,
			primary_contact = EXCLUDED.primary_contact,
			secondary_contact = EXCLUDED.secondary_contact,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			status = EXCLUDED.status,
			attachments = EXCLUDED.attachments,
			embedding_metadata = EXCLUDED.embedding_metadata,
			processing_status = EXCLUDED.processing_status,
			error_message = EXCLUDED.error_message,
			retry_count = EXCLUDED.retry_count,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		opp.NoticeID, opp.Title, opp.SolicitationNumber, opp.Department, opp.Agency, opp.Office,
		opp.PostedDate, nullTime(opp.ResponseDeadline), nullTime(opp.ArchiveDate), opp.NoticeType, opp.NAICSCode,
		opp.SetAsideCode, opp.SetAside, pop, award, primary,
		secondary, opp.Description, opp.Active, opp.Status, attachments,
		embMeta, opp.ProcessingStatus, opp.ErrorMessage, opp.RetryCount,
		opp.CreatedAt, opp.UpdatedAt,
	)
	return err
}

// GetByNoticeID retrieves an opportunity by its notice ID.
func (r *OpportunityRepository) GetByNoticeID(ctx context.Context, noticeID string) (*Opportunity, error) {
	query := `SELECT ` + opportunityColumns + ` FROM opportunities WHERE notice_id = $1`
	row := r.db.QueryRowContext(ctx, query, noticeID)
	return scanOpportunity(row)
}

// ListByAgency lists opportunities for one agency, newest first.
func (r *OpportunityRepository) ListByAgency(ctx context.Context, agency string, limit int) ([]*Opportunity, error) {
	query := `SELECT ` + opportunityColumns + ` FROM opportunities
		WHERE agency = $1 ORDER BY posted_date DESC LIMIT $2`
	return r.list(ctx, query, agency, limit)
}

// ListByNAICS lists opportunities with the given NAICS code, newest first.
func (r *OpportunityRepository) ListByNAICS(ctx context.Context, naicsCode string, limit int) ([]*Opportunity, error) {
	query := `SELECT ` + opportunityColumns + ` FROM opportunities
		WHERE naics_code = $1 ORDER BY posted_date DESC LIMIT $2`
	return r.list(ctx, query, naicsCode, limit)
}

// ListActive lists non-archived opportunities, newest first.
func (r *OpportunityRepository) ListActive(ctx context.Context, limit int) ([]*Opportunity, error) {
	query := `SELECT ` + opportunityColumns + ` FROM opportunities
		WHERE active = TRUE ORDER BY posted_date DESC LIMIT $1`
	return r.list(ctx, query, limit)
}

// MarkError persists a minimal failure record for a notice.
func (r *OpportunityRepository) MarkError(ctx context.Context, noticeID, message string, retryCount int) error {
	query := `
		UPDATE opportunities
		SET processing_status = $1, error_message = $2, retry_count = $3, updated_at = $4
		WHERE notice_id = $5
	`
	res, err := r.db.ExecContext(ctx, query, ProcessingStatusError, message, retryCount, time.Now().UTC(), noticeID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *OpportunityRepository) list(ctx context.Context, query string, args ...interface{}) ([]*Opportunity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opps []*Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		opps = append(opps, opp)
	}
	return opps, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan code.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOpportunity(row rowScanner) (*Opportunity, error) {
	opp := &Opportunity{}
	var (
		pop, award, primary, secondary, attachments, embMeta sql.NullString
		responseDeadline, archiveDate                        sql.NullTime
		solicitation, department, agency, office             sql.NullString
		noticeType, naics, setAsideCode, setAside            sql.NullString
		description, errorMessage                            sql.NullString
	)

	err := row.Scan(
		&opp.NoticeID, &opp.Title, &solicitation, &department, &agency, &office,
		&opp.PostedDate, &responseDeadline, &archiveDate, &noticeType, &naics,
		&setAsideCode, &setAside, &pop, &award, &primary,
		&secondary, &description, &opp.Active, &opp.Status, &attachments,
		&embMeta, &opp.ProcessingStatus, &errorMessage, &opp.RetryCount,
		&opp.CreatedAt, &opp.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	opp.SolicitationNumber = solicitation.String
	opp.Department = department.String
	opp.Agency = agency.String
	opp.Office = office.String
	opp.NoticeType = noticeType.String
	opp.NAICSCode = naics.String
	opp.SetAsideCode = setAsideCode.String
	opp.SetAside = setAside.String
	opp.Description = description.String
	opp.ResponseDeadline = timePtr(responseDeadline)
	opp.ArchiveDate = timePtr(archiveDate)
	if errorMessage.Valid {
		opp.ErrorMessage = &errorMessage.String
	}

	if err := unmarshalJSON(pop, &opp.PlaceOfPerformance); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(award, &opp.Award); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(primary, &opp.PrimaryContact); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(secondary, &opp.SecondaryContact); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(attachments, &opp.Attachments); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(embMeta, &opp.EmbeddingMetadata); err != nil {
		return nil, err
	}
	return opp, nil
}

// CompanyRepository persists company profiles keyed by company_id.
type CompanyRepository struct {
	db DB
}

// NewCompanyRepository creates a new company repository.
func NewCompanyRepository(db DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

const companyColumns = `company_id, tenant_id, legal_name, primary_contact, website_url,
	naics_codes, certifications, revenue_range, employee_count, locations,
	capability_statement, past_performance, documents, embedding_metadata,
	created_at, updated_at`

// Upsert inserts or replaces a company profile.
func (r *CompanyRepository) Upsert(ctx context.Context, company *CompanyProfile) error {
	now := time.Now().UTC()
	if company.CreatedAt.IsZero() {
		company.CreatedAt = now
	}
	company.UpdatedAt = now

	primary, err := marshalJSON(company.PrimaryContact)
	if err != nil {
		return err
	}
	naics, err := marshalJSON(company.NAICSCodes)
	if err != nil {
		return err
	}
	certs, err := marshalJSON(company.Certifications)
	if err != nil {
		return err
	}
	locations, err := marshalJSON(company.Locations)
	if err != nil {
		return err
	}
	pastPerf, err := marshalJSON(company.PastPerformance)
	if err != nil {
		return err
	}
	documents, err := marshalJSON(company.Documents)
	if err != nil {
		return err
	}
	embMeta, err := marshalJSON(company.EmbeddingMetadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO companies (` + companyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (company_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			legal_name = EXCLUDED.legal_name,
			primary_contact = EXCLUDED.primary_contact,
			website_url = EXCLUDED.website_url,
			naics_codes = EXCLUDED.naics_codes,
			certifications = EXCLUDED.certifications,
			revenue_range = EXCLUDED.revenue_range,
			employee_count = EXCLUDED.employee_count,
			locations = EXCLUDED.locations,
			capability_statement = EXCLUDED.capability_statement,
			past_performance = EXCLUDED.past_performance,
			documents = EXCLUDED.documents,
			embedding_metadata = EXCLUDED.embedding_metadata,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		company.CompanyID, company.TenantID, company.LegalName, primary, company.WebsiteURL,
		naics, certs, company.RevenueRange, company.EmployeeCount, locations,
		company.CapabilityStatement, pastPerf, documents, embMeta,
		company.CreatedAt, company.UpdatedAt,
	)
	return err
}

// GetByID retrieves a company profile with tenant scoping.
func (r *CompanyRepository) GetByID(ctx context.Context, tenantID, companyID string) (*CompanyProfile, error) {
	query := `SELECT ` + companyColumns + ` FROM companies
		WHERE company_id = $1 AND tenant_id = $2`
	row := r.db.QueryRowContext(ctx, query, companyID, tenantID)
	return scanCompany(row)
}

// ListByTenant lists all company profiles for a tenant.
func (r *CompanyRepository) ListByTenant(ctx context.Context, tenantID string) ([]*CompanyProfile, error) {
	query := `SELECT ` + companyColumns + ` FROM companies
		WHERE tenant_id = $1 ORDER BY legal_name`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var companies []*CompanyProfile
	for rows.Next() {
		company, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, company)
	}
	return companies, rows.Err()
}

// ListAll lists company profiles across every tenant, for batch fan-out.
func (r *CompanyRepository) ListAll(ctx context.Context) ([]*CompanyProfile, error) {
	query := `SELECT ` + companyColumns + ` FROM companies ORDER BY tenant_id, legal_name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var companies []*CompanyProfile
	for rows.Next() {
		company, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, company)
	}
	return companies, rows.Err()
}

// UpdateDocuments replaces the document list for a company.
func (r *CompanyRepository) UpdateDocuments(ctx context.Context, tenantID, companyID string, docs []CompanyDocument) error {
	documents, err := marshalJSON(docs)
	if err != nil {
		return err
	}
	query := `
		UPDATE companies SET documents = $1, updated_at = $2
		WHERE company_id = $3 AND tenant_id = $4
	`
	res, err := r.db.ExecContext(ctx, query, documents, time.Now().UTC(), companyID, tenantID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateEmbeddingMetadata replaces the profile-level embedding pointers.
func (r *CompanyRepository) UpdateEmbeddingMetadata(ctx context.Context, tenantID, companyID string, meta *EmbeddingMetadata) error {
	embMeta, err := marshalJSON(meta)
	if err != nil {
		return err
	}
	query := `
		UPDATE companies SET embedding_metadata = $1, updated_at = $2
		WHERE company_id = $3 AND tenant_id = $4
	`
	res, err := r.db.ExecContext(ctx, query, embMeta, time.Now().UTC(), companyID, tenantID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCompany(row rowScanner) (*CompanyProfile, error) {
	company := &CompanyProfile{}
	var (
		primary, naics, certs, locations, pastPerf, documents, embMeta sql.NullString
		websiteURL, revenueRange, employeeCount, capability            sql.NullString
	)

	err := row.Scan(
		&company.CompanyID, &company.TenantID, &company.LegalName, &primary, &websiteURL,
		&naics, &certs, &revenueRange, &employeeCount, &locations,
		&capability, &pastPerf, &documents, &embMeta,
		&company.CreatedAt, &company.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	company.WebsiteURL = websiteURL.String
	company.RevenueRange = RevenueRange(revenueRange.String)
	company.EmployeeCount = EmployeeBand(employeeCount.String)
	company.CapabilityStatement = capability.String

	if err := unmarshalJSON(primary, &company.PrimaryContact); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(naics, &company.NAICSCodes); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(certs, &company.Certifications); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(locations, &company.Locations); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(pastPerf, &company.PastPerformance); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(documents, &company.Documents); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(embMeta, &company.EmbeddingMetadata); err != nil {
		return nil, err
	}
	return company, nil
}

// MatchRepository persists scored matches partitioned by company.
type MatchRepository struct {
	db DB
}

// NewMatchRepository creates a new match repository.
func NewMatchRepository(db DB) *MatchRepository {
	return &MatchRepository{db: db}
}

const matchColumns = `company_id, opportunity_id, total_score, confidence, component_scores,
	match_reasons, non_match_reasons, recommendations, action_items,
	processing_time_ms, created_at, updated_at`

// Upsert inserts or replaces a match result for a (company, opportunity) pair.
func (r *MatchRepository) Upsert(ctx context.Context, match *MatchResult) error {
	now := time.Now().UTC()
	if match.CreatedAt.IsZero() {
		match.CreatedAt = now
	}
	match.UpdatedAt = now

	components, err := marshalJSON(match.ComponentScores)
	if err != nil {
		return err
	}
	reasons, err := marshalJSON(match.MatchReasons)
	if err != nil {
		return err
	}
	nonReasons, err := marshalJSON(match.NonMatchReasons)
	if err != nil {
		return err
	}
	recs, err := marshalJSON(match.Recommendations)
	if err != nil {
		return err
	}
	actions, err := marshalJSON(match.ActionItems)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO matches (` + matchColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (company_id, opportunity_id) DO UPDATE SET
			total_score = EXCLUDED.total_score,
			confidence = EXCLUDED.confidence,
			component_scores = EXCLUDED.component_scores,
			match_reasons = EXCLUDED.match_reasons,
			non_match_reasons = EXCLUDED.non_match_reasons,
			recommendations = EXCLUDED.recommendations,
			action_items = EXCLUDED.action_items,
			processing_time_ms = EXCLUDED.processing_time_ms,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		match.CompanyID, match.OpportunityID, toStorable(match.TotalScore), match.Confidence, components,
		reasons, nonReasons, recs, actions,
		match.ProcessingTimeMs, match.CreatedAt, match.UpdatedAt,
	)
	return err
}

// Get retrieves a single match result.
func (r *MatchRepository) Get(ctx context.Context, companyID, opportunityID string) (*MatchResult, error) {
	query := `SELECT ` + matchColumns + ` FROM matches
		WHERE company_id = $1 AND opportunity_id = $2`
	row := r.db.QueryRowContext(ctx, query, companyID, opportunityID)
	return scanMatch(row)
}

// ListByCompany lists matches for a company ordered by score descending.
func (r *MatchRepository) ListByCompany(ctx context.Context, companyID string, limit, offset int) ([]*MatchResult, error) {
	query := `SELECT ` + matchColumns + ` FROM matches
		WHERE company_id = $1 ORDER BY total_score DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, companyID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*MatchResult
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

func scanMatch(row rowScanner) (*MatchResult, error) {
	match := &MatchResult{}
	var score decimal.Decimal
	var components, reasons, nonReasons, recs, actions sql.NullString

	err := row.Scan(
		&match.CompanyID, &match.OpportunityID, &score, &match.Confidence, &components,
		&reasons, &nonReasons, &recs, &actions,
		&match.ProcessingTimeMs, &match.CreatedAt, &match.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	match.TotalScore = score.InexactFloat64()
	if err := unmarshalJSON(components, &match.ComponentScores); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(reasons, &match.MatchReasons); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(nonReasons, &match.NonMatchReasons); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(recs, &match.Recommendations); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(actions, &match.ActionItems); err != nil {
		return nil, err
	}
	return match, nil
}

// MatchCacheRepository is the durable TTL cache keyed by match fingerprint.
type MatchCacheRepository struct {
	db DB
}

// NewMatchCacheRepository creates a new match cache repository.
func NewMatchCacheRepository(db DB) *MatchCacheRepository {
	return &MatchCacheRepository{db: db}
}

// Get returns the cached payload if present and unexpired.
func (r *MatchCacheRepository) Get(ctx context.Context, cacheKey string) ([]byte, error) {
	query := `SELECT payload, expires_at FROM match_cache WHERE cache_key = $1`
	var payload []byte
	var expiresAt time.Time
	err := r.db.QueryRowContext(ctx, query, cacheKey).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(expiresAt) {
		// Lazy eviction of expired entries.
		_, _ = r.db.ExecContext(ctx, `DELETE FROM match_cache WHERE cache_key = $1`, cacheKey)
		return nil, ErrNotFound
	}
	return payload, nil
}

// Put stores a payload under the fingerprint with the given TTL.
func (r *MatchCacheRepository) Put(ctx context.Context, cacheKey string, payload []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO match_cache (cache_key, payload, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
	`
	_, err := r.db.ExecContext(ctx, query, cacheKey, payload, now.Add(ttl), now)
	return err
}

// PurgeExpired removes all expired cache entries.
func (r *MatchCacheRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM match_cache WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CoordinationRepository persists batch coordination records.
type CoordinationRepository struct {
	db DB
}

// NewCoordinationRepository creates a new coordination repository.
func NewCoordinationRepository(db DB) *CoordinationRepository {
	return &CoordinationRepository{db: db}
}

const coordinationColumns = `coordination_id, processing_type, status, total_batches,
	completed_batches, failed_batches, processing_batches, total_items,
	total_items_processed, total_errors, progress_percentage,
	notified_thresholds, started_at, completed_at, updated_at`

// Create inserts a new coordination record.
func (r *CoordinationRepository) Create(ctx context.Context, rec *CoordinationRecord) error {
	now := time.Now().UTC()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.UpdatedAt = now

	notified, err := marshalJSON(rec.NotifiedThresholds)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO batch_coordination (` + coordinationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.CoordinationID, rec.ProcessingType, rec.Status, rec.TotalBatches,
		rec.CompletedBatches, rec.FailedBatches, rec.ProcessingBatches, rec.TotalItems,
		rec.TotalItemsProcessed, rec.TotalErrors, rec.ProgressPercentage,
		notified, rec.StartedAt, nullTime(rec.CompletedAt), rec.UpdatedAt,
	)
	return err
}

// GetByID retrieves a coordination record.
func (r *CoordinationRepository) GetByID(ctx context.Context, coordinationID string) (*CoordinationRecord, error) {
	query := `SELECT ` + coordinationColumns + ` FROM batch_coordination WHERE coordination_id = $1`
	row := r.db.QueryRowContext(ctx, query, coordinationID)
	return scanCoordination(row)
}

// Update replaces the mutable fields of a coordination record.
func (r *CoordinationRepository) Update(ctx context.Context, rec *CoordinationRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	notified, err := marshalJSON(rec.NotifiedThresholds)
	if err != nil {
		return err
	}
	query := `
		UPDATE batch_coordination SET
			status = $1, total_batches = $2, completed_batches = $3,
			failed_batches = $4, processing_batches = $5, total_items = $6,
			total_items_processed = $7, total_errors = $8, progress_percentage = $9,
			notified_thresholds = $10, completed_at = $11, updated_at = $12
		WHERE coordination_id = $13
	`
	res, err := r.db.ExecContext(ctx, query,
		rec.Status, rec.TotalBatches, rec.CompletedBatches,
		rec.FailedBatches, rec.ProcessingBatches, rec.TotalItems,
		rec.TotalItemsProcessed, rec.TotalErrors, rec.ProgressPercentage,
		notified, nullTime(rec.CompletedAt), rec.UpdatedAt,
		rec.CoordinationID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveSince lists coordinations touched since the given time.
func (r *CoordinationRepository) ListActiveSince(ctx context.Context, since time.Time) ([]*CoordinationRecord, error) {
	query := `SELECT ` + coordinationColumns + ` FROM batch_coordination
		WHERE updated_at >= $1 OR started_at >= $1
		ORDER BY started_at DESC`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*CoordinationRecord
	for rows.Next() {
		rec, err := scanCoordination(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanCoordination(row rowScanner) (*CoordinationRecord, error) {
	rec := &CoordinationRecord{}
	var (
		notified    sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&rec.CoordinationID, &rec.ProcessingType, &rec.Status, &rec.TotalBatches,
		&rec.CompletedBatches, &rec.FailedBatches, &rec.ProcessingBatches, &rec.TotalItems,
		&rec.TotalItemsProcessed, &rec.TotalErrors, &rec.ProgressPercentage,
		&notified, &rec.StartedAt, &completedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.CompletedAt = timePtr(completedAt)
	if err := unmarshalJSON(notified, &rec.NotifiedThresholds); err != nil {
		return nil, err
	}
	return rec, nil
}

// ProgressRepository persists per-batch progress slices.
type ProgressRepository struct {
	db DB
}

// NewProgressRepository creates a new progress repository.
func NewProgressRepository(db DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

const progressColumns = `coordination_id, batch_id, batch_index, items_processed, items_total,
	errors_count, processing_duration_ms, status, retry_count, last_error,
	updated_at, expires_at`

// Upsert inserts or replaces a batch progress record.
func (r *ProgressRepository) Upsert(ctx context.Context, rec *BatchProgressRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO progress_tracking (` + progressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (coordination_id, batch_id) DO UPDATE SET
			batch_index = EXCLUDED.batch_index,
			items_processed = EXCLUDED.items_processed,
			items_total = EXCLUDED.items_total,
			errors_count = EXCLUDED.errors_count,
			processing_duration_ms = EXCLUDED.processing_duration_ms,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.CoordinationID, rec.BatchID, rec.BatchIndex, rec.ItemsProcessed, rec.ItemsTotal,
		rec.ErrorsCount, rec.ProcessingDuration, rec.Status, rec.RetryCount, rec.LastError,
		rec.UpdatedAt, nullTime(rec.ExpiresAt),
	)
	return err
}

// Get retrieves one batch progress record.
func (r *ProgressRepository) Get(ctx context.Context, coordinationID, batchID string) (*BatchProgressRecord, error) {
	query := `SELECT ` + progressColumns + ` FROM progress_tracking
		WHERE coordination_id = $1 AND batch_id = $2`
	row := r.db.QueryRowContext(ctx, query, coordinationID, batchID)
	return scanProgress(row)
}

// ListByCoordination lists all batch slices for one coordination.
func (r *ProgressRepository) ListByCoordination(ctx context.Context, coordinationID string) ([]*BatchProgressRecord, error) {
	query := `SELECT ` + progressColumns + ` FROM progress_tracking
		WHERE coordination_id = $1 ORDER BY batch_index`
	rows, err := r.db.QueryContext(ctx, query, coordinationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*BatchProgressRecord
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// PurgeExpired removes progress rows past their TTL.
func (r *ProgressRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM progress_tracking WHERE expires_at IS NOT NULL AND expires_at < $1`,
		time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanProgress(row rowScanner) (*BatchProgressRecord, error) {
	rec := &BatchProgressRecord{}
	var (
		lastError sql.NullString
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&rec.CoordinationID, &rec.BatchID, &rec.BatchIndex, &rec.ItemsProcessed, &rec.ItemsTotal,
		&rec.ErrorsCount, &rec.ProcessingDuration, &rec.Status, &rec.RetryCount, &lastError,
		&rec.UpdatedAt, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastError.Valid {
		rec.LastError = &lastError.String
	}
	rec.ExpiresAt = timePtr(expiresAt)
	return rec, nil
}

// WeightConfigRepository persists versioned weight configurations.
type WeightConfigRepository struct {
	db DB
}

// NewWeightConfigRepository creates a new weight config repository.
func NewWeightConfigRepository(db DB) *WeightConfigRepository {
	return &WeightConfigRepository{db: db}
}

const weightConfigColumns = `config_key, timestamp, weights, confidence_levels, algorithm_params,
	version, updated_by, expires_at`

// Insert records a new configuration version and expires the previous one.
func (r *WeightConfigRepository) Insert(ctx context.Context, cfg *WeightConfig, oldVersionTTL time.Duration) error {
	if cfg.Timestamp.IsZero() {
		cfg.Timestamp = time.Now().UTC()
	}

	weights, err := marshalJSON(cfg.Weights)
	if err != nil {
		return err
	}
	levels, err := marshalJSON(cfg.ConfidenceLevels)
	if err != nil {
		return err
	}
	params, err := marshalJSON(cfg.AlgorithmParams)
	if err != nil {
		return err
	}

	// Stamp a TTL onto superseded versions so history ages out.
	expiry := time.Now().UTC().Add(oldVersionTTL)
	if _, err := r.db.ExecContext(ctx,
		`UPDATE weight_configuration SET expires_at = $1 WHERE config_key = $2 AND expires_at IS NULL`,
		expiry, cfg.ConfigKey); err != nil {
		return err
	}

	query := `
		INSERT INTO weight_configuration (` + weightConfigColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		cfg.ConfigKey, cfg.Timestamp, weights, levels, params,
		cfg.Version, cfg.UpdatedBy, nullTime(cfg.ExpiresAt),
	)
	return err
}

// GetLatest returns the newest configuration version for a key.
func (r *WeightConfigRepository) GetLatest(ctx context.Context, configKey string) (*WeightConfig, error) {
	query := `SELECT ` + weightConfigColumns + ` FROM weight_configuration
		WHERE config_key = $1 ORDER BY timestamp DESC LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, configKey)
	return scanWeightConfig(row)
}

// History lists configuration versions for a key, newest first.
func (r *WeightConfigRepository) History(ctx context.Context, configKey string, limit int) ([]*WeightConfig, error) {
	query := `SELECT ` + weightConfigColumns + ` FROM weight_configuration
		WHERE config_key = $1 ORDER BY timestamp DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, configKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cfgs []*WeightConfig
	for rows.Next() {
		cfg, err := scanWeightConfig(rows)
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, rows.Err()
}

// DeleteAll removes every version for a key, resetting it to defaults.
func (r *WeightConfigRepository) DeleteAll(ctx context.Context, configKey string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM weight_configuration WHERE config_key = $1`, configKey)
	return err
}

func scanWeightConfig(row rowScanner) (*WeightConfig, error) {
	cfg := &WeightConfig{}
	var (
		weights, levels, params sql.NullString
		updatedBy               sql.NullString
		expiresAt               sql.NullTime
	)
	err := row.Scan(
		&cfg.ConfigKey, &cfg.Timestamp, &weights, &levels, &params,
		&cfg.Version, &updatedBy, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg.UpdatedBy = updatedBy.String
	cfg.ExpiresAt = timePtr(expiresAt)
	if err := unmarshalJSON(weights, &cfg.Weights); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(levels, &cfg.ConfidenceLevels); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(params, &cfg.AlgorithmParams); err != nil {
		return nil, err
	}
	return cfg, nil
}

// VectorIndexRepository persists embedding pointers with denormalized filters.
type VectorIndexRepository struct {
	db DB
}

// NewVectorIndexRepository creates a new vector index repository.
func NewVectorIndexRepository(db DB) *VectorIndexRepository {
	return &VectorIndexRepository{db: db}
}

const vectorIndexColumns = `entity_type, entity_id, content_type, embedding_uri, tenant_id,
	naics_code, agency, state, posted_date, archive_date, updated_at`

// Upsert inserts or replaces an index entry.
func (r *VectorIndexRepository) Upsert(ctx context.Context, entry *VectorIndexEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO vector_index (` + vectorIndexColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (entity_type, entity_id, content_type) DO UPDATE SET
			embedding_uri = EXCLUDED.embedding_uri,
			tenant_id = EXCLUDED.tenant_id,
			naics_code = EXCLUDED.naics_code,
			agency = EXCLUDED.agency,
			state = EXCLUDED.state,
			posted_date = EXCLUDED.posted_date,
			archive_date = EXCLUDED.archive_date,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.EntityType, entry.EntityID, entry.ContentType, entry.EmbeddingURI, entry.TenantID,
		entry.NAICSCode, entry.Agency, entry.State,
		nullTime(entry.PostedDate), nullTime(entry.ArchiveDate), entry.UpdatedAt,
	)
	return err
}

// ListByEntity lists all index entries for one entity.
func (r *VectorIndexRepository) ListByEntity(ctx context.Context, entityType VectorEntityType, entityID string) ([]*VectorIndexEntry, error) {
	query := `SELECT ` + vectorIndexColumns + ` FROM vector_index
		WHERE entity_type = $1 AND entity_id = $2 ORDER BY content_type`
	rows, err := r.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVectorEntries(rows)
}

// ListByType lists index entries of one entity type, ordered by entity ID,
// for full-index scans.
func (r *VectorIndexRepository) ListByType(ctx context.Context, entityType VectorEntityType, limit int) ([]*VectorIndexEntry, error) {
	query := `SELECT ` + vectorIndexColumns + ` FROM vector_index
		WHERE entity_type = $1 ORDER BY entity_id, content_type LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, entityType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVectorEntries(rows)
}

// DeleteByEntity removes all index entries for one entity. Used when a
// document is deleted and its embeddings must be dropped.
func (r *VectorIndexRepository) DeleteByEntity(ctx context.Context, entityType VectorEntityType, entityID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM vector_index WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanVectorEntries(rows *sql.Rows) ([]*VectorIndexEntry, error) {
	var entries []*VectorIndexEntry
	for rows.Next() {
		entry := &VectorIndexEntry{}
		var (
			tenantID, naics, agency, state sql.NullString
			postedDate, archiveDate        sql.NullTime
		)
		if err := rows.Scan(
			&entry.EntityType, &entry.EntityID, &entry.ContentType, &entry.EmbeddingURI, &tenantID,
			&naics, &agency, &state, &postedDate, &archiveDate, &entry.UpdatedAt,
		); err != nil {
			return nil, err
		}
		entry.TenantID = tenantID.String
		entry.NAICSCode = naics.String
		entry.Agency = agency.String
		entry.State = state.String
		entry.PostedDate = timePtr(postedDate)
		entry.ArchiveDate = timePtr(archiveDate)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// AuditRepository persists immutable mutation log rows.
type AuditRepository struct {
	db DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert appends an audit row. Timestamps are nudged forward on key
// collision so rapid writes within one tenant never clobber each other.
func (r *AuditRepository) Insert(ctx context.Context, rec *AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = rec.Timestamp.Add(90 * 24 * time.Hour)
	}
	details, err := marshalJSON(rec.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log (tenant_id, timestamp, actor, action, resource_type, resource_id, details, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for attempt := 0; attempt < 3; attempt++ {
		_, err = r.db.ExecContext(ctx, query,
			rec.TenantID, rec.Timestamp, rec.Actor, rec.Action,
			rec.ResourceType, rec.ResourceID, details, rec.ExpiresAt,
		)
		if err == nil {
			return nil
		}
		rec.Timestamp = rec.Timestamp.Add(time.Microsecond)
	}
	return err
}

// ListByTenant lists audit rows for a tenant, newest first.
func (r *AuditRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*AuditRecord, error) {
	query := `
		SELECT tenant_id, timestamp, actor, action, resource_type, resource_id, details, expires_at
		FROM audit_log WHERE tenant_id = $1 ORDER BY timestamp DESC LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*AuditRecord
	for rows.Next() {
		rec := &AuditRecord{}
		var (
			actor, resourceID, details sql.NullString
		)
		if err := rows.Scan(
			&rec.TenantID, &rec.Timestamp, &actor, &rec.Action,
			&rec.ResourceType, &resourceID, &details, &rec.ExpiresAt,
		); err != nil {
			return nil, err
		}
		rec.Actor = actor.String
		rec.ResourceID = resourceID.String
		if err := unmarshalJSON(details, &rec.Details); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// PurgeExpired removes audit rows past their retention window.
func (r *AuditRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_log WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Repositories bundles every repository over one database handle.
type Repositories struct {
	Opportunities *OpportunityRepository
	Companies     *CompanyRepository
	Matches       *MatchRepository
	MatchCache    *MatchCacheRepository
	Coordination  *CoordinationRepository
	Progress      *ProgressRepository
	WeightConfig  *WeightConfigRepository
	VectorIndex   *VectorIndexRepository
	Audit         *AuditRepository
}

// NewRepositories creates the full repository set.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Opportunities: NewOpportunityRepository(db),
		Companies:     NewCompanyRepository(db),
		Matches:       NewMatchRepository(db),
		MatchCache:    NewMatchCacheRepository(db),
		Coordination:  NewCoordinationRepository(db),
		Progress:      NewProgressRepository(db),
		WeightConfig:  NewWeightConfigRepository(db),
		VectorIndex:   NewVectorIndexRepository(db),
		Audit:         NewAuditRepository(db),
	}
}

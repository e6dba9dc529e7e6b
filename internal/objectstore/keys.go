package objectstore

import (
	"fmt"
	"strings"
	"time"
)

// Key builders. Every generated key is deterministic for its inputs so
// re-processing replaces blobs in place instead of accumulating copies.

// TenantPrefix returns the key prefix all documents of a company live under.
func TenantPrefix(companyID string) string {
	return fmt.Sprintf("tenants/%s/", companyID)
}

// HasTenantPrefix reports whether key belongs to the given company's namespace.
func HasTenantPrefix(key, companyID string) bool {
	return strings.HasPrefix(key, TenantPrefix(companyID))
}

// RawDocumentKey locates an uploaded company document in raw-documents.
func RawDocumentKey(companyID, documentID, filename string) string {
	return fmt.Sprintf("tenants/%s/raw/%s/%s", companyID, documentID, filename)
}

// ProcessedDocumentKey locates the cleaned text of a company document.
func ProcessedDocumentKey(companyID, documentID, filename string) string {
	return fmt.Sprintf("tenants/%s/processed/%s/%s.txt", companyID, documentID, filename)
}

// DocumentEmbeddingKey locates one embedding of a company document at a
// given level (summary, section, chunk, paragraph).
func DocumentEmbeddingKey(companyID, level, documentID string, index int) string {
	return fmt.Sprintf("tenants/%s/embeddings/%s/%s_%d.json", companyID, level, documentID, index)
}

// ProfileEmbeddingKey locates the aggregate profile-level embedding of a company.
func ProfileEmbeddingKey(companyID string) string {
	return fmt.Sprintf("tenants/%s/embeddings/profile/profile.json", companyID)
}

// DocumentEmbeddingPrefix returns the prefix under which all embeddings of a
// company document are stored, for bulk deletes.
func DocumentEmbeddingPrefix(companyID string) string {
	return fmt.Sprintf("tenants/%s/embeddings/", companyID)
}

// StructuredRecordKey locates the extracted structured record (resume or
// capability statement) of a company document.
func StructuredRecordKey(companyID, documentID string) string {
	return fmt.Sprintf("tenants/%s/processed/%s/structured.json", companyID, documentID)
}

// OpportunityPrefix returns the key prefix of one opportunity's artifacts.
func OpportunityPrefix(postedDate time.Time, noticeID string) string {
	return fmt.Sprintf("opportunities/%s/%s/", postedDate.UTC().Format("2006-01-02"), noticeID)
}

// OpportunitySegmentKey locates one text-segment embedding of an opportunity.
func OpportunitySegmentKey(postedDate time.Time, noticeID, segment string) string {
	return OpportunityPrefix(postedDate, noticeID) + fmt.Sprintf("embedding_%s.json", segment)
}

// AttachmentChunkKey locates one chunk embedding of an opportunity attachment.
func AttachmentChunkKey(postedDate time.Time, noticeID, attachmentID string, chunkIndex int) string {
	return OpportunityPrefix(postedDate, noticeID) + fmt.Sprintf("attachments/%s/chunk_%d.json", attachmentID, chunkIndex)
}

// AttachmentTextKey locates the cached cleaned text of an attachment.
func AttachmentTextKey(postedDate time.Time, noticeID, attachmentID string) string {
	return OpportunityPrefix(postedDate, noticeID) + fmt.Sprintf("attachments/%s/text.txt", attachmentID)
}

// DailyCSVKey locates the archived raw bytes of one day's source CSV.
// Re-ingesting the same day overwrites rather than accumulating copies.
func DailyCSVKey(fetchedAt time.Time) string {
	return fmt.Sprintf("sources/sam/%s.csv", fetchedAt.UTC().Format("2006-01-02"))
}

// TempOCRKey locates a transient blob handed to the OCR service.
func TempOCRKey(jobID, filename string) string {
	return fmt.Sprintf("ocr/%s/%s", jobID, filename)
}

// SanitizeFilename strips path separators and control characters so uploaded
// filenames cannot traverse the key space.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if out == "" || out == "." || out == ".." {
		return "document"
	}
	return out
}

package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"edushield/internal/audit/query"
)

// PrivacyNotice accompanies every export envelope.
const PrivacyNotice = "This export contains audit logs only. No student PII or raw analytics payloads included."

// ComplianceCertification labels the export for compliance reviewers.
const ComplianceCertification = "FERPA-compliant audit trail export"

// Filename builds the attachment name for an export download.
func Filename(format, startDate, endDate string) string {
	return fmt.Sprintf("audit_export_%s_to_%s.%s", startDate, endDate, format)
}

// DateRange echoes the requested range in the export envelope.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Metadata describes who exported what, when, and why.
type Metadata struct {
	GeneratedAt string    `json:"generated_at"`
	GeneratedBy string    `json:"generated_by"`
	Reason      string    `json:"reason"`
	DateRange   DateRange `json:"date_range"`
	EntryCount  int       `json:"entry_count"`
	Format      string    `json:"format"`
}

// NewMetadata builds the envelope metadata for an export happening now.
func NewMetadata(generatedBy, reason, format string, window DateRange, entryCount int) Metadata {
	return Metadata{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		GeneratedBy: generatedBy,
		Reason:      reason,
		DateRange:   window,
		EntryCount:  entryCount,
		Format:      format,
	}
}

type jsonEnvelope struct {
	ExportMetadata          Metadata               `json:"export_metadata"`
	PrivacyNotice           string                 `json:"privacy_notice"`
	ComplianceCertification string                 `json:"compliance_certification"`
	Events                  []query.SanitizedEvent `json:"events"`
}

// WriteJSON writes the export as a self-describing JSON document.
func WriteJSON(w io.Writer, meta Metadata, events []query.SanitizedEvent) error {
	if events == nil {
		events = []query.SanitizedEvent{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonEnvelope{
		ExportMetadata:          meta,
		PrivacyNotice:           PrivacyNotice,
		ComplianceCertification: ComplianceCertification,
		Events:                  events,
	}); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"Timestamp",
	"ISO Timestamp",
	"Endpoint",
	"Action",
	"User Role",
	"Client IP",
	"User Agent",
	"Request Method",
	"Success",
	"Parameters",
	"Metadata",
}

// WriteCSV writes the export as CSV with one row per event. Parameters and
// metadata are embedded as JSON strings to keep the column set flat.
func WriteCSV(w io.Writer, events []query.SanitizedEvent) error {
	out := csv.NewWriter(w)
	if err := out.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, event := range events {
		params, err := json.Marshal(event.Parameters)
		if err != nil {
			return fmt.Errorf("marshal parameters: %w", err)
		}
		meta, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		row := []string{
			strconv.FormatInt(event.Timestamp, 10),
			event.ISOTimestamp,
			event.Endpoint,
			event.Action,
			event.PrincipalRole,
			event.ClientIP,
			event.UserAgent,
			event.Method,
			strconv.FormatBool(event.Success),
			string(params),
			string(meta),
		}
		if err := out.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

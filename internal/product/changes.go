package product

import (
	"strings"
	"time"
)

// Change detection decides whether an entity write warrants a re-embed.
// Only content-relevant fields count: a bare updated_at touch or other
// administrative write must never trigger an embedding refresh.

// FeatureChanged reports whether any content-relevant field of a feature
// differs between the old and new row images.
func FeatureChanged(old, new *Feature) bool {
	return old.Name != new.Name ||
		old.Description != new.Description ||
		old.Priority != new.Priority ||
		old.WorkflowStatus != new.WorkflowStatus ||
		!datesEqual(old.StartDate, new.StartDate) ||
		!datesEqual(old.EndDate, new.EndDate)
}

// ReleaseChanged reports whether any content-relevant field of a release
// differs between the old and new row images.
func ReleaseChanged(old, new *Release) bool {
	return old.Name != new.Name ||
		old.Description != new.Description ||
		old.Status != new.Status ||
		!datesEqual(old.ReleaseDate, new.ReleaseDate)
}

func datesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// dateFormat is the rendering format for embeddable dates.
const dateFormat = "2006-01-02"

// RenderFeature builds the canonical embeddable text for a feature.
//
// The field order and labels are stable so that two renderings of the
// same entity version are byte-identical; empty optional fields are
// omitted rather than rendered as empty sections.
func RenderFeature(f *Feature) string {
	var b strings.Builder
	section(&b, "Feature", f.Name)
	section(&b, "Priority", f.Priority)
	section(&b, "Workflow Status", f.WorkflowStatus)
	if f.StartDate != nil {
		section(&b, "Start Date", f.StartDate.Format(dateFormat))
	}
	if f.EndDate != nil {
		section(&b, "End Date", f.EndDate.Format(dateFormat))
	}
	section(&b, "Description", f.Description)
	return strings.TrimRight(b.String(), "\n")
}

// RenderRelease builds the canonical embeddable text for a release.
func RenderRelease(r *Release) string {
	var b strings.Builder
	section(&b, "Release", r.Name)
	section(&b, "Status", r.Status)
	if r.ReleaseDate != nil {
		section(&b, "Release Date", r.ReleaseDate.Format(dateFormat))
	}
	section(&b, "Description", r.Description)
	return strings.TrimRight(b.String(), "\n")
}

func section(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}

// FeatureMetadata is the snapshot carried alongside a feature's embedding
// job for chat-time display without a second lookup.
func FeatureMetadata(f *Feature) map[string]any {
	return map[string]any{
		"id":       f.ID.String(),
		"name":     f.Name,
		"priority": f.Priority,
	}
}

// ReleaseMetadata is the snapshot carried alongside a release's embedding job.
func ReleaseMetadata(r *Release) map[string]any {
	return map[string]any{
		"id":     r.ID.String(),
		"name":   r.Name,
		"status": r.Status,
	}
}

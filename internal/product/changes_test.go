package product

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func baseFeature() *Feature {
	return &Feature{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		Name:           "Payment Processing",
		Description:    "Stripe integration for payments",
		Priority:       "High",
		WorkflowStatus: "In Progress",
		StartDate:      date("2026-01-15"),
		EndDate:        date("2026-03-01"),
	}
}

func TestFeatureChanged(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Feature)
		want   bool
	}{
		{
			name:   "identical rows",
			mutate: func(f *Feature) {},
			want:   false,
		},
		{
			name: "updated_at only touch",
			mutate: func(f *Feature) {
				f.UpdatedAt = time.Now().Add(time.Hour)
			},
			want: false,
		},
		{
			name:   "name changed",
			mutate: func(f *Feature) { f.Name = "Payments v2" },
			want:   true,
		},
		{
			name:   "description changed",
			mutate: func(f *Feature) { f.Description = "Adyen integration" },
			want:   true,
		},
		{
			name:   "priority changed",
			mutate: func(f *Feature) { f.Priority = "Low" },
			want:   true,
		},
		{
			name:   "workflow status changed",
			mutate: func(f *Feature) { f.WorkflowStatus = "Done" },
			want:   true,
		},
		{
			name:   "start date changed",
			mutate: func(f *Feature) { f.StartDate = date("2026-02-01") },
			want:   true,
		},
		{
			name:   "end date cleared",
			mutate: func(f *Feature) { f.EndDate = nil },
			want:   true,
		},
		{
			name: "both dates nil",
			mutate: func(f *Feature) {
				f.StartDate = nil
				f.EndDate = nil
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := baseFeature()
			updated := *old
			tt.mutate(&updated)
			assert.Equal(t, tt.want, FeatureChanged(old, &updated))
		})
	}
}

func TestFeatureChangedNilDatesEqual(t *testing.T) {
	old := baseFeature()
	old.StartDate = nil
	old.EndDate = nil
	updated := *old
	assert.False(t, FeatureChanged(old, &updated))
}

func TestReleaseChanged(t *testing.T) {
	base := &Release{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		Name:        "Q1 Launch",
		Description: "First quarter launch",
		Status:      "Planned",
		ReleaseDate: date("2026-03-31"),
	}

	tests := []struct {
		name   string
		mutate func(*Release)
		want   bool
	}{
		{"no change", func(r *Release) {}, false},
		{"touch only", func(r *Release) { r.UpdatedAt = time.Now() }, false},
		{"name", func(r *Release) { r.Name = "Q2 Launch" }, true},
		{"description", func(r *Release) { r.Description = "Delayed launch" }, true},
		{"status", func(r *Release) { r.Status = "Shipped" }, true},
		{"release date", func(r *Release) { r.ReleaseDate = date("2026-04-15") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated := *base
			tt.mutate(&updated)
			assert.Equal(t, tt.want, ReleaseChanged(base, &updated))
		})
	}
}

func TestRenderFeature(t *testing.T) {
	f := baseFeature()
	got := RenderFeature(f)

	want := "Feature: Payment Processing\n" +
		"Priority: High\n" +
		"Workflow Status: In Progress\n" +
		"Start Date: 2026-01-15\n" +
		"End Date: 2026-03-01\n" +
		"Description: Stripe integration for payments"
	assert.Equal(t, want, got)

	// Deterministic: the same entity version always renders the same bytes.
	assert.Equal(t, got, RenderFeature(f))
}

func TestRenderFeatureOmitsEmptyFields(t *testing.T) {
	f := &Feature{Name: "Minimal"}
	got := RenderFeature(f)

	assert.Equal(t, "Feature: Minimal", got)
	assert.NotContains(t, got, "Priority")
	assert.NotContains(t, got, "Description")
	assert.NotContains(t, got, "Date")
}

func TestRenderFeatureReflectsCurrentVersionOnly(t *testing.T) {
	f := baseFeature()
	f.Description = "Stripe integration for payments"
	before := RenderFeature(f)

	f.Description = "Adyen integration for payments"
	after := RenderFeature(f)

	assert.Contains(t, before, "Stripe")
	assert.Contains(t, after, "Adyen")
	assert.NotContains(t, after, "Stripe")
}

func TestRenderRelease(t *testing.T) {
	r := &Release{
		Name:        "Q1 Launch",
		Description: "First quarter launch",
		Status:      "Planned",
		ReleaseDate: date("2026-03-31"),
	}

	want := "Release: Q1 Launch\n" +
		"Status: Planned\n" +
		"Release Date: 2026-03-31\n" +
		"Description: First quarter launch"
	assert.Equal(t, want, RenderRelease(r))
}

func TestRenderReleaseNoTrailingNewline(t *testing.T) {
	r := &Release{Name: "Bare"}
	got := RenderRelease(r)
	assert.False(t, strings.HasSuffix(got, "\n"))
}

func TestFeatureMetadata(t *testing.T) {
	f := baseFeature()
	md := FeatureMetadata(f)

	assert.Equal(t, f.ID.String(), md["id"])
	assert.Equal(t, "Payment Processing", md["name"])
	assert.Equal(t, "High", md["priority"])
	assert.Len(t, md, 3)
}

func TestReleaseMetadata(t *testing.T) {
	r := &Release{ID: uuid.New(), Name: "Q1 Launch", Status: "Planned"}
	md := ReleaseMetadata(r)

	assert.Equal(t, r.ID.String(), md["id"])
	assert.Equal(t, "Q1 Launch", md["name"])
	assert.Equal(t, "Planned", md["status"])
}

package export

import (
	"strings"
	"testing"
	"time"

	"greenroom/api/internal/pipeline"
	"greenroom/api/internal/store"
)

func TestBuildReportDataSplitsReleasedAndRejected(t *testing.T) {
	release := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	tracks := []store.Track{
		{ID: "tr_1", Title: "Neon Mirage", ArtistName: "Vela", Phase: pipeline.PhaseVault,
			ReleaseDate: &release, TotalEarnings: 120.50, SpotifyPlays: 4200},
		{ID: "tr_2", Title: "Still Inbox", Phase: pipeline.PhaseInbox},
		{ID: "tr_3", Title: "Buried", Phase: pipeline.PhaseVault, Archived: true},
	}
	archived := []store.Track{
		{ID: "tr_4", Title: "Flatline", ArtistName: "Moss", RejectionReason: "off brand"},
	}

	data := buildReportData("Harbor Records", time.Now(), tracks, archived)

	if len(data.Released) != 1 {
		t.Fatalf("only non-archived vault tracks belong in the catalog, got %d", len(data.Released))
	}
	if data.Released[0].ReleaseDate != "2026-03-14" {
		t.Fatalf("unexpected release date %q", data.Released[0].ReleaseDate)
	}
	if data.TotalEarnings != 120.50 || data.TotalPlays != 4200 {
		t.Fatalf("totals wrong: %v / %d", data.TotalEarnings, data.TotalPlays)
	}
	if len(data.Rejected) != 1 || data.Rejected[0].Reason != "off brand" {
		t.Fatalf("unexpected rejected rows: %+v", data.Rejected)
	}
}

func TestRenderReportHTML(t *testing.T) {
	data := buildReportData("Harbor Records", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		[]store.Track{{Title: "Neon Mirage", ArtistName: "Vela", Genre: "House", Phase: pipeline.PhaseVault, TotalEarnings: 10}},
		[]store.Track{{Title: "Flatline", RejectionReason: "No reason provided"}})

	html, err := RenderReportHTML(data)
	if err != nil {
		t.Fatalf("RenderReportHTML failed: %v", err)
	}
	for _, want := range []string{"Harbor Records", "Neon Mirage", "house", "Flatline", "No reason provided"} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered report missing %q", want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Harbor Records 2026": "Harbor-Records-2026",
		"weird/..\\chars":     "weirdchars",
		"":                    "report",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

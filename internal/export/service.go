package export

import (
	"context"
	"fmt"
	"time"

	"greenroom/api/internal/pipeline"
	"greenroom/api/internal/scope"
	"greenroom/api/internal/store"
)

type trackSource interface {
	ListTracks(ctx context.Context, filter scope.Filter, orderBy string) ([]store.Track, error)
	ListArchived(ctx context.Context, filter scope.Filter) ([]store.Track, error)
}

// Service builds the archive report for a workspace.
type Service struct {
	source trackSource
	now    func() time.Time
}

func NewService(source trackSource) *Service {
	return &Service{source: source, now: time.Now}
}

// ArchiveReport renders the workspace's released catalog and archived
// rejections as a PDF.
func (s *Service) ArchiveReport(ctx context.Context, filter scope.Filter, workspaceLabel string) (*Result, error) {
	tracks, err := s.source.ListTracks(ctx, filter, "")
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	archived, err := s.source.ListArchived(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list archived: %w", err)
	}

	data := buildReportData(workspaceLabel, s.now(), tracks, archived)

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return exportPDF(html, "archive-report-"+workspaceLabel)
}

func buildReportData(label string, now time.Time, tracks, archived []store.Track) TemplateData {
	data := TemplateData{WorkspaceLabel: label, GeneratedAt: now}
	for _, t := range tracks {
		if t.Phase != pipeline.PhaseVault || t.Archived {
			continue
		}
		row := ReleasedRow{
			Title:      t.Title,
			ArtistName: t.ArtistName,
			Genre:      t.Genre,
			Earnings:   t.TotalEarnings,
			Plays:      t.SpotifyPlays,
		}
		if t.ReleaseDate != nil {
			row.ReleaseDate = t.ReleaseDate.Format("2006-01-02")
		}
		data.Released = append(data.Released, row)
		data.TotalEarnings += t.TotalEarnings
		data.TotalPlays += t.SpotifyPlays
	}
	for _, t := range archived {
		data.Rejected = append(data.Rejected, RejectedRow{
			Title:      t.Title,
			ArtistName: t.ArtistName,
			Reason:     t.RejectionReason,
		})
	}
	return data
}

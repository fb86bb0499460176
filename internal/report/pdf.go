// Package report renders completed code reviews as downloadable PDF documents.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/cache"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/go-pdf/fpdf"
)

var ErrNoResult = errors.New("review has no result")

// CacheTTL is how long a rendered document stays in the cache. Completed
// reviews never change, so the only cost of a long TTL is memory.
const CacheTTL = time.Hour

type Generator struct {
	cache    cache.Cache
	ttl      time.Duration
	logger   *slog.Logger
	compress bool
}

// NewGenerator creates a Generator. c may be nil to render on every call.
func NewGenerator(c cache.Cache, ttl time.Duration, logger *slog.Logger) *Generator {
	if ttl <= 0 {
		ttl = CacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{cache: c, ttl: ttl, logger: logger, compress: true}
}

// ReviewPDF returns the PDF for a completed code review job.
func (g *Generator) ReviewPDF(ctx context.Context, job *models.Job) ([]byte, error) {
	if job.Status != models.JobStatusCompleted || len(job.Result) == 0 {
		return nil, ErrNoResult
	}

	key := cache.ReviewPDFKey(job.ID)
	if g.cache != nil {
		doc, ok, err := g.cache.Get(ctx, key)
		if err != nil {
			g.logger.Debug("review pdf cache lookup", "job_id", job.ID, "error", err)
		} else if ok {
			return doc, nil
		}
	}

	var res models.ReviewResult
	if err := json.Unmarshal(job.Result, &res); err != nil {
		return nil, fmt.Errorf("decode review result: %w", err)
	}
	res.ApplyDefaults()

	doc, err := g.render(job, &res)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		if err := g.cache.Set(ctx, key, doc, g.ttl); err != nil {
			g.logger.Debug("review pdf cache store", "job_id", job.ID, "error", err)
		}
	}
	return doc, nil
}

func (g *Generator) render(job *models.Job, res *models.ReviewResult) ([]byte, error) {
	var in models.ReviewInput
	_ = json.Unmarshal(job.Input, &in)

	stamp := job.CreatedAt
	if job.CompletedAt != nil {
		stamp = *job.CompletedAt
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(g.compress)
	pdf.SetTitle("Code review "+job.ID, true)
	pdf.SetCreator("studyq", false)
	pdf.SetCreationDate(stamp.UTC())
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Code Review Report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	if in.RepoURL != "" {
		pdf.CellFormat(0, 6, tr("Repository: "+in.RepoURL), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 6, "Completed: "+stamp.UTC().Format("2006-01-02 15:04 MST"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, fmt.Sprintf("Quality score: %.1f / 10", res.QualityScore), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	heading := func(title string) {
		pdf.Ln(3)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 7, title, "B", 1, "L", false, 0, "")
		pdf.Ln(1)
		pdf.SetFont("Helvetica", "", 10)
	}
	list := func(title string, items []string) {
		heading(title)
		if len(items) == 0 {
			pdf.MultiCell(0, 5, "None noted.", "", "L", false)
			return
		}
		for _, item := range items {
			pdf.MultiCell(0, 5, tr("• "+item), "", "L", false)
		}
	}

	list("Strengths", res.Strengths)
	list("Improvements", res.Improvements)
	list("Key suggestions", res.KeySuggestions)

	if len(res.Metrics) > 0 {
		heading("Metrics")
		names := make([]string, 0, len(res.Metrics))
		for name := range res.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			label := strings.ReplaceAll(name, "_", " ")
			pdf.CellFormat(60, 5, tr(label), "", 0, "L", false, 0, "")
			pdf.CellFormat(0, 5, fmt.Sprintf("%.1f", res.Metrics[name]), "", 1, "L", false, 0, "")
		}
	}

	heading("Full review")
	pdf.MultiCell(0, 5, tr(res.FullReview), "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render review pdf: %w", err)
	}
	return buf.Bytes(), nil
}

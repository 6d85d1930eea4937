// Package report lays out classified diagnostic results and their paired
// images into a fixed-page PDF artifact.
package report

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/sirupsen/logrus"

	"github.com/inspectra-cxr-server/internal/domain"
	"github.com/inspectra-cxr-server/internal/service"
)

// State tracks a single composition invocation. Failed is terminal and only
// reachable while acquiring images, when no image at all could be obtained.
type State string

const (
	StateIdle            State = "IDLE"
	StateAcquiringImages State = "ACQUIRING_IMAGES"
	StateLayingOut       State = "LAYING_OUT"
	StateFinalized       State = "FINALIZED"
	StateFailed          State = "FAILED"
)

// Fetcher acquires a single image resource. Implementations must be safe for
// concurrent use; the composer issues its two fetches in parallel.
type Fetcher interface {
	Load(ctx context.Context, url string) (*domain.AcquiredImage, error)
}

// Layout constants, in millimeters on an A4 page.
const (
	pageMargin     = 15.0
	contentWidth   = 180.0
	columnGutter   = 6.0
	columnWidth    = (contentWidth - columnGutter) / 2
	maxImageHeight = 110.0
	rowHeight      = 7.0
)

const defaultDisclaimer = "This report was generated by an AI-assisted analysis system. " +
	"It is intended to support, not replace, the judgment of a qualified radiologist. " +
	"Findings must be confirmed by clinical review before any medical decision."

// Composer renders report artifacts. Composition calls are independent of
// each other: no cross-call cache, no dedup, one artifact per call.
type Composer struct {
	fetcher    Fetcher
	classifier *service.ClassifierService
	logger     *logrus.Logger
	cfg        domain.ReportConfig
}

// NewComposer creates a new report composer
func NewComposer(fetcher Fetcher, classifier *service.ClassifierService, logger *logrus.Logger, cfg domain.ReportConfig) *Composer {
	if cfg.Disclaimer == "" {
		cfg.Disclaimer = defaultDisclaimer
	}
	if cfg.SystemName == "" {
		cfg.SystemName = "InSpectra CXR"
	}
	return &Composer{
		fetcher:    fetcher,
		classifier: classifier,
		logger:     logger,
		cfg:        cfg,
	}
}

// fetchResult is one settled slot of the two-image acquisition batch.
type fetchResult struct {
	image *domain.AcquiredImage
	err   error
}

// composition is the per-invocation state machine.
type composition struct {
	state State
}

func (c *composition) transition(logger *logrus.Logger, to State) {
	logger.WithFields(logrus.Fields{
		"from": c.state,
		"to":   to,
	}).Debug("Composition state transition")
	c.state = to
}

// Compose acquires the case's raw and overlay images concurrently, then
// renders the full fixed-page artifact synchronously from already-resolved
// data. A single missing image degrades to a placeholder block; only the
// total absence of images, or a layout/encoding failure, aborts the call
// with a *domain.CompositionError. No partial artifact is ever returned.
func (c *Composer) Compose(ctx context.Context, rec *domain.CaseRecord, version domain.ModelVersion, predictions []domain.ConditionScore) (*domain.ReportArtifact, error) {
	comp := &composition{state: StateIdle}
	comp.transition(c.logger, StateAcquiringImages)

	rawRes, overlayRes := c.acquirePair(ctx, rec, version)
	if err := ctx.Err(); err != nil {
		comp.transition(c.logger, StateFailed)
		return nil, domain.NewCompositionError("acquiring_images", "composition cancelled", err)
	}
	if rawRes.image == nil && overlayRes.image == nil {
		comp.transition(c.logger, StateFailed)
		cause := rawRes.err
		if cause == nil {
			cause = overlayRes.err
		}
		return nil, domain.NewCompositionError("acquiring_images", "no image could be acquired", cause)
	}

	comp.transition(c.logger, StateLayingOut)
	doc, err := c.layout(rec, version, predictions, rawRes, overlayRes)
	if err != nil {
		comp.transition(c.logger, StateFailed)
		return nil, err
	}

	comp.transition(c.logger, StateFinalized)
	artifact := &domain.ReportArtifact{
		Document: doc,
		Filename: artifactFilename(rec.RawImage.Filename, time.Now()),
	}

	c.logger.WithFields(logrus.Fields{
		"case_id":  rec.ID,
		"version":  version,
		"filename": artifact.Filename,
		"bytes":    len(artifact.Document),
	}).Info("Report composed")

	return artifact, nil
}

// acquirePair issues the raw and overlay fetches concurrently and waits for
// both to settle. Each slot fails independently; a sibling failure never
// cancels the other fetch.
func (c *Composer) acquirePair(ctx context.Context, rec *domain.CaseRecord, version domain.ModelVersion) (raw, overlay fetchResult) {
	overlayURL := ""
	if ref, ok := rec.OverlayByVersion[version]; ok {
		overlayURL = ref.URL
	}

	results := make([]fetchResult, 2)
	done := make(chan int, 2)
	for i, url := range []string{rec.RawImage.URL, overlayURL} {
		go func(i int, url string) {
			img, err := c.fetcher.Load(ctx, url)
			results[i] = fetchResult{image: img, err: err}
			done <- i
		}(i, url)
	}
	<-done
	<-done

	for i := range results {
		if results[i].err != nil {
			c.logger.WithError(results[i].err).WithFields(logrus.Fields{
				"case_id": rec.ID,
				"slot":    i,
			}).Warn("Image acquisition failed, will render placeholder")
		}
	}
	return results[0], results[1]
}

// layout renders the whole page and encodes the document.
func (c *Composer) layout(rec *domain.CaseRecord, version domain.ModelVersion, predictions []domain.ConditionScore, rawRes, overlayRes fetchResult) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.SetTitle(fmt.Sprintf("%s Report", c.cfg.SystemName), true)
	pdf.AddPage()

	c.renderHeader(pdf)
	c.renderMetadata(pdf, rec, version)
	c.renderImagePanel(pdf, version, rawRes, overlayRes)
	c.renderScoreTable(pdf, predictions)
	c.renderSummaryRow(pdf, predictions)
	c.renderFooter(pdf, version)

	if pdf.Err() {
		return nil, domain.NewCompositionError("laying_out", "page layout failed", pdf.Error())
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, domain.NewCompositionError("finalizing", "encoding document failed", err)
	}
	return buf.Bytes(), nil
}

func (c *Composer) renderHeader(pdf *fpdf.Fpdf) {
	pdf.SetFillColor(21, 67, 96)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(contentWidth, 12, fmt.Sprintf("%s - Diagnostic Report", c.cfg.SystemName), "", 1, "C", true, 0, "")
	pdf.Ln(2)
}

func (c *Composer) renderMetadata(pdf *fpdf.Fpdf, rec *domain.CaseRecord, version domain.ModelVersion) {
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 10)

	examDate := "unknown"
	if !rec.CreatedAt.IsZero() {
		examDate = rec.CreatedAt.Format("2006-01-02 15:04")
	}
	filename := rec.RawImage.Filename
	if filename == "" {
		filename = "(not recorded)"
	}

	pdf.CellFormat(contentWidth/3, 6, fmt.Sprintf("File: %s", filename), "", 0, "L", false, 0, "")
	pdf.CellFormat(contentWidth/3, 6, fmt.Sprintf("Exam date: %s", examDate), "", 0, "C", false, 0, "")
	pdf.CellFormat(contentWidth/3, 6, fmt.Sprintf("Case: %s", rec.ID), "", 1, "R", false, 0, "")
	pdf.Ln(3)
}

// renderImagePanel draws the two-column image pair. Both columns share a
// single draw height derived from the primary image so the pair renders
// aligned regardless of each image's native aspect ratio.
func (c *Composer) renderImagePanel(pdf *fpdf.Fpdf, version domain.ModelVersion, rawRes, overlayRes fetchResult) {
	primary := rawRes.image
	if primary == nil {
		primary = overlayRes.image
	}
	sharedHeight := math.Min(columnWidth/primary.AspectRatio, maxImageHeight)

	top := pdf.GetY()
	c.renderImageColumn(pdf, "raw", "Original image", pageMargin, top, sharedHeight, rawRes)
	c.renderImageColumn(pdf, "overlay", fmt.Sprintf("AI overlay (%s)", version), pageMargin+columnWidth+columnGutter, top, sharedHeight, overlayRes)
	pdf.SetXY(pageMargin, top+sharedHeight+6+8)
}

// renderImageColumn places one image, or a bordered placeholder of the same
// computed height when the source failed to load.
func (c *Composer) renderImageColumn(pdf *fpdf.Fpdf, name, caption string, x, y, height float64, res fetchResult) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(x, y)
	pdf.CellFormat(columnWidth, 6, caption, "", 0, "C", false, 0, "")

	imgTop := y + 6
	if res.image == nil {
		pdf.SetDrawColor(160, 160, 160)
		pdf.Rect(x, imgTop, columnWidth, height, "D")
		pdf.SetFont("Helvetica", "I", 9)
		pdf.SetTextColor(120, 120, 120)
		pdf.SetXY(x, imgTop+height/2-3)
		pdf.CellFormat(columnWidth, 6, "Image unavailable", "", 0, "C", false, 0, "")
		return
	}

	width := height * res.image.AspectRatio
	if width > columnWidth {
		width = columnWidth
	}
	pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "JPG"}, bytes.NewReader(res.image.Data))
	pdf.ImageOptions(name, x+(columnWidth-width)/2, imgTop, width, height, false, fpdf.ImageOptions{ImageType: "JPG"}, 0, "")
}

// renderScoreTable draws one row per table condition in taxonomy order, the
// reproducible export ordering, with percentages re-derived from the raw
// probability rather than the interactive thresholded label.
func (c *Composer) renderScoreTable(pdf *fpdf.Fpdf, predictions []domain.ConditionScore) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(21, 67, 96)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(contentWidth*2/3, rowHeight, "Condition", "1", 0, "L", true, 0, "")
	pdf.CellFormat(contentWidth/3, rowHeight, "Score", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(0, 0, 0)
	for i, row := range tableConditionsInTaxonomyOrder(c.classifier, predictions) {
		fill := i%2 == 1
		if fill {
			pdf.SetFillColor(235, 240, 245)
		}
		pdf.CellFormat(contentWidth*2/3, rowHeight, string(row.ConditionName), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(contentWidth/3, rowHeight, fmt.Sprintf("%.1f%%", row.RawProbability*100), "1", 1, "R", fill, 0, "")
	}
}

// renderSummaryRow draws the probability-based abnormality summary. This is
// deliberately threshold-independent: it reports the plain maximum raw
// probability across the abnormality group, unlike the interactive headline
// which only considers positive members.
func (c *Composer) renderSummaryRow(pdf *fpdf.Fpdf, predictions []domain.ConditionScore) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(214, 228, 240)
	pdf.CellFormat(contentWidth*2/3, rowHeight, "Maximum abnormality probability", "1", 0, "L", true, 0, "")
	pdf.CellFormat(contentWidth/3, rowHeight, fmt.Sprintf("%.1f%%", maxAbnormalityProbability(predictions)*100), "1", 1, "R", true, 0, "")
}

func (c *Composer) renderFooter(pdf *fpdf.Fpdf, version domain.ModelVersion) {
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(contentWidth, 4, fmt.Sprintf("%s / model %s / generated %s", c.cfg.SystemName, version, time.Now().Format("2006-01-02 15:04")), "", 1, "L", false, 0, "")
	pdf.Ln(1)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.MultiCell(contentWidth, 4, c.cfg.Disclaimer, "", "L", false)
}

// tableConditionsInTaxonomyOrder re-sorts the classifier's table rows into
// canonical taxonomy order. The classifier's own alphabetical ordering is an
// interactive-display concern; exports always follow the taxonomy.
func tableConditionsInTaxonomyOrder(classifier *service.ClassifierService, predictions []domain.ConditionScore) []domain.ConditionScore {
	rows := classifier.Classify(predictions).TableRows
	ordered := make([]domain.ConditionScore, 0, len(rows))
	for _, cond := range domain.Taxonomy {
		for _, row := range rows {
			if row.ConditionName == cond {
				ordered = append(ordered, row)
			}
		}
	}
	return ordered
}

// maxAbnormalityProbability returns the plain maximum raw probability across
// abnormality-group conditions in the supplied set, 0 when none are present.
func maxAbnormalityProbability(predictions []domain.ConditionScore) float64 {
	max := 0.0
	for _, s := range predictions {
		if domain.InGroup(domain.AbnormalityGroup, s.ConditionName) && s.RawProbability > max {
			max = s.RawProbability
		}
	}
	return max
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// artifactFilename derives the suggested download name from the original
// image filename, with non-alphanumeric runs replaced, plus the current date.
func artifactFilename(original string, now time.Time) string {
	base := original
	if dot := strings.LastIndex(base, "."); dot > 0 {
		base = base[:dot]
	}
	base = strings.Trim(nonAlphanumeric.ReplaceAllString(base, "_"), "_")
	if base == "" {
		base = "case"
	}
	return fmt.Sprintf("%s_report_%s.pdf", base, now.Format("20060102"))
}

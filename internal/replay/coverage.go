package replay

import (
	"fmt"
	"strings"

	"github.com/Amanpat/polysim/internal/domain"
)

// CoverageStatus classifies how well the tape covers a strategy's required
// assets.
type CoverageStatus string

const (
	CoverageOK       CoverageStatus = "ok"
	CoverageDegraded CoverageStatus = "degraded"
	CoverageInvalid  CoverageStatus = "invalid"
)

// CoverageReport summarizes tape coverage for the assets a strategy needs.
type CoverageReport struct {
	RequiredAssets []string         `json:"required_assets"`
	EventsPerAsset map[string]int64 `json:"events_per_asset"`
	MissingAssets  []string         `json:"missing_assets,omitempty"`
	Status         CoverageStatus   `json:"status"`
}

// CoverageError is returned when required coverage is missing and degraded
// runs are not allowed. It carries the report so callers can still write
// failure diagnostics.
type CoverageError struct {
	Report CoverageReport
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("tape coverage invalid: no events for %s", strings.Join(e.Report.MissingAssets, ", "))
}

// checkCoverage counts tape events per required asset and classifies the
// result. Full coverage is ok; missing assets degrade the run when allowed
// and invalidate it otherwise.
func checkCoverage(events []domain.TapeEvent, required []string, allowDegraded bool) CoverageReport {
	perAsset := make(map[string]int64, len(required))
	for _, id := range required {
		perAsset[id] = 0
	}
	for _, ev := range events {
		for _, id := range ev.AssetIDs() {
			if _, ok := perAsset[id]; ok {
				perAsset[id]++
			}
		}
	}

	report := CoverageReport{
		RequiredAssets: required,
		EventsPerAsset: perAsset,
		Status:         CoverageOK,
	}
	for _, id := range required {
		if perAsset[id] == 0 {
			report.MissingAssets = append(report.MissingAssets, id)
		}
	}
	if len(report.MissingAssets) > 0 {
		if allowDegraded {
			report.Status = CoverageDegraded
		} else {
			report.Status = CoverageInvalid
		}
	}
	return report
}

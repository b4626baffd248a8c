// Package report renders solved speed profiles as CSV, PNG and HTML.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/speedplan/internal/planner"
	"github.com/banshee-data/speedplan/internal/units"
)

var errEmptyProfile = errors.New("report: empty profile")

func checkResponse(resp *planner.Response, unit string) error {
	if resp == nil || len(resp.X) == 0 {
		return errEmptyProfile
	}
	if len(resp.T) != len(resp.X) || len(resp.DX) != len(resp.X) || len(resp.DDX) != len(resp.X) {
		return fmt.Errorf("report: ragged profile (t=%d x=%d dx=%d ddx=%d)",
			len(resp.T), len(resp.X), len(resp.DX), len(resp.DDX))
	}
	if !units.IsValid(unit) {
		return fmt.Errorf("report: invalid units %q, want one of %s", unit, units.GetValidUnitsString())
	}
	return nil
}

// jerk returns the per-segment jerk. It has one fewer element than the
// profile.
func jerk(resp *planner.Response) []float64 {
	n := len(resp.DDX)
	if n < 2 {
		return nil
	}
	out := make([]float64, n-1)
	for k := range out {
		out[k] = (resp.DDX[k+1] - resp.DDX[k]) / (resp.T[k+1] - resp.T[k])
	}
	return out
}

// WriteCSV writes one row per knot. Speed is in unit; the jerk column holds
// the segment starting at that knot and is empty on the last row.
func WriteCSV(w io.Writer, resp *planner.Response, unit string) error {
	if err := checkResponse(resp, unit); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"t_s", "x_m", "dx_" + unit, "ddx_mps2", "dddx_mps3"}); err != nil {
		return err
	}

	j := jerk(resp)
	for k := range resp.X {
		jc := ""
		if k < len(j) {
			jc = formatFloat(j[k])
		}
		row := []string{
			formatFloat(resp.T[k]),
			formatFloat(resp.X[k]),
			formatFloat(units.ConvertSpeed(resp.DX[k], unit)),
			formatFloat(resp.DDX[k]),
			jc,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

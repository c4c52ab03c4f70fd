package output

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/application/dto"
)

// FillChart renders lot fill percentages as horizontal bars grouped by batch
type FillChart struct {
	Width        int
	Height       int
	MarginLeft   int
	MarginTop    int
	MarginRight  int
	MarginBottom int
	RowHeight    int
}

// fillRow is one lot bar in the chart
type fillRow struct {
	Label   string
	BatchID string
	Status  string
	Fill    decimal.Decimal
	Tooltip string
}

var hundred = decimal.NewFromInt(100)

// NewFillChart sizes a chart for the lots of the given batches
func NewFillChart(batches []*dto.BatchReport) *FillChart {
	rows := 0
	for _, batch := range batches {
		rows += len(batch.Lots)
	}
	chart := &FillChart{
		Width:        800,
		MarginLeft:   180,
		MarginTop:    50,
		MarginRight:  60,
		MarginBottom: 40,
		RowHeight:    22,
	}
	if rows == 0 {
		chart.Height = 200
		return chart
	}
	chart.Height = chart.MarginTop + rows*chart.RowHeight + chart.MarginBottom
	return chart
}

// GenerateSVG creates an SVG bar chart of every lot's fill percentage
func (fc *FillChart) GenerateSVG(batches []*dto.BatchReport) string {
	rows := fc.createRows(batches)
	if len(rows) == 0 {
		return fc.generateEmptyChart()
	}

	var svg strings.Builder

	svg.WriteString(fmt.Sprintf(`<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">`, fc.Width, fc.Height))
	svg.WriteString(`<defs>`)
	svg.WriteString(`<style>`)
	svg.WriteString(`.lot-label { font-family: Arial, sans-serif; font-size: 12px; fill: #333; }`)
	svg.WriteString(`.axis-label { font-family: Arial, sans-serif; font-size: 10px; fill: #666; }`)
	svg.WriteString(`.title { font-family: Arial, sans-serif; font-size: 16px; font-weight: bold; fill: #333; }`)
	svg.WriteString(`.grid-line { stroke: #e0e0e0; stroke-width: 1; }`)
	svg.WriteString(`.fill-bar { stroke: #333; stroke-width: 1; }`)
	svg.WriteString(`</style>`)
	svg.WriteString(`</defs>`)

	svg.WriteString(fmt.Sprintf(`<rect width="%d" height="%d" fill="white"/>`, fc.Width, fc.Height))
	svg.WriteString(fmt.Sprintf(`<text x="%d" y="30" class="title" text-anchor="middle">Lot Fill by Batch</text>`, fc.Width/2))

	fc.drawPercentGrid(&svg, len(rows))
	for i, row := range rows {
		fc.drawRow(&svg, row, fc.MarginTop+i*fc.RowHeight)
	}

	svg.WriteString(`</svg>`)
	return svg.String()
}

func (fc *FillChart) createRows(batches []*dto.BatchReport) []fillRow {
	var rows []fillRow
	for _, batch := range batches {
		for _, lot := range batch.Lots {
			rows = append(rows, fillRow{
				Label:   fmt.Sprintf("%s / %s %s", batch.ID, lot.ID, lot.Currency),
				BatchID: batch.ID,
				Status:  batch.Status,
				Fill:    lot.FillPercentage,
				Tooltip: fmt.Sprintf("Lot: %s, Allocated: %s of %s, Batch: %s (%s)",
					lot.ID, lot.AllocatedQty, lot.TotalQty, batch.ID, batch.Status),
			})
		}
	}
	return rows
}

// drawPercentGrid draws vertical lines every 20 percent
func (fc *FillChart) drawPercentGrid(svg *strings.Builder, numRows int) {
	chartWidth := fc.Width - fc.MarginLeft - fc.MarginRight
	bottom := fc.MarginTop + numRows*fc.RowHeight

	for pct := 0; pct <= 100; pct += 20 {
		x := fc.MarginLeft + chartWidth*pct/100
		svg.WriteString(fmt.Sprintf(`<line x1="%d" y1="%d" x2="%d" y2="%d" class="grid-line"/>`,
			x, fc.MarginTop, x, bottom))
		svg.WriteString(fmt.Sprintf(`<text x="%d" y="%d" class="axis-label" text-anchor="middle">%d%%</text>`,
			x, bottom+15, pct))
	}
}

func (fc *FillChart) drawRow(svg *strings.Builder, row fillRow, y int) {
	chartWidth := fc.Width - fc.MarginLeft - fc.MarginRight
	barHeight := fc.RowHeight - 6

	svg.WriteString(fmt.Sprintf(`<text x="%d" y="%d" class="lot-label" text-anchor="end">%s</text>`,
		fc.MarginLeft-10, y+fc.RowHeight/2+4, row.Label))

	width := int(row.Fill.Mul(decimal.NewFromInt(int64(chartWidth))).Div(hundred).IntPart())
	if width < 1 && row.Fill.IsPositive() {
		width = 1
	}
	svg.WriteString(fmt.Sprintf(`<rect x="%d" y="%d" width="%d" height="%d" fill="%s" class="fill-bar">`,
		fc.MarginLeft, y+3, width, barHeight, fc.getBarColor(row.Status)))
	svg.WriteString(fmt.Sprintf(`<title>%s</title></rect>`, row.Tooltip))

	svg.WriteString(fmt.Sprintf(`<text x="%d" y="%d" class="axis-label">%s%%</text>`,
		fc.MarginLeft+width+6, y+fc.RowHeight/2+4, row.Fill.StringFixed(1)))
}

// getBarColor returns the color of a bar by batch status
func (fc *FillChart) getBarColor(status string) string {
	switch status {
	case "Open":
		return "#2196F3"
	case "Deal":
		return "#FF9800"
	case "Closed":
		return "#4CAF50"
	case "Ended":
		return "#9E9E9E"
	default:
		return "#BDBDBD"
	}
}

// generateEmptyChart creates an empty chart when no lots exist
func (fc *FillChart) generateEmptyChart() string {
	return fmt.Sprintf(`<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">
		<rect width="%d" height="%d" fill="white"/>
		<text x="%d" y="%d" class="title" text-anchor="middle">No Supply Lots Found</text>
		<style>
			.title { font-family: Arial, sans-serif; font-size: 16px; fill: #666; }
		</style>
	</svg>`, fc.Width, fc.Height, fc.Width, fc.Height, fc.Width/2, fc.Height/2)
}

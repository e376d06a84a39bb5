package export

import "fmt"

// Format names a rendered file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// Formats lists every format the batch runner emits.
var Formats = []Format{FormatCSV, FormatPDF, FormatXLSX}

// Dataset defines tabular export content. Notes are summary lines printed after the table
// by formats that support free text.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
	Notes   []string
}

// Renderer dispatches a dataset to the exporter for a format.
type Renderer struct {
	csv  *CSVExporter
	pdf  *PDFExporter
	xlsx *XLSXExporter
}

// NewRenderer wires the three exporters.
func NewRenderer() *Renderer {
	return &Renderer{csv: NewCSVExporter(), pdf: NewPDFExporter(), xlsx: NewXLSXExporter()}
}

// Render produces the encoded bytes for format.
func (r *Renderer) Render(format Format, data Dataset, title string) ([]byte, error) {
	switch format {
	case FormatCSV:
		return r.csv.Render(data)
	case FormatPDF:
		return r.pdf.Render(data, title)
	case FormatXLSX:
		return r.xlsx.Render(data, title)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

package pdf

import (
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/orientation"
	"github.com/johnfercher/maroto/v2/pkg/props"
	runnerdomain "github.com/smallbiznis/alima/internal/billingrunner/domain"
)

// Renderer turns routine reports into a printable document.
type Renderer interface {
	RenderReport(title string, generatedAt time.Time, reports []runnerdomain.Report) ([]byte, error)
}

type MarotoRenderer struct{}

func New() *MarotoRenderer {
	return &MarotoRenderer{}
}

var (
	headerText = props.Text{Style: fontstyle.Bold, Size: 8}
	cellText   = props.Text{Size: 7}
	failedText = props.Text{Size: 7, Color: &props.Color{Red: 190, Green: 30, Blue: 30}}
)

func (r *MarotoRenderer) RenderReport(title string, generatedAt time.Time, reports []runnerdomain.Report) ([]byte, error) {
	cfg := config.NewBuilder().
		WithOrientation(orientation.Horizontal).
		WithPageNumber(props.PageNumber{
			Pattern: "Página {current} de {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, title, props.Text{Size: 16, Style: fontstyle.Bold, Align: align.Left}),
	)

	succeeded := 0
	for _, rep := range reports {
		if rep.Success {
			succeeded++
		}
	}
	m.AddRow(8,
		col.New(12).Add(
			text.New(fmt.Sprintf("Generado: %s    Cuentas: %d    Exitosas: %d    Con error: %d",
				generatedAt.Format("2006-01-02 15:04 MST"), len(reports), succeeded, len(reports)-succeeded),
				props.Text{Size: 9}),
		),
	)

	m.AddRow(8,
		text.NewCol(2, "Cuenta", headerText),
		text.NewCol(2, "Cliente", headerText),
		text.NewCol(1, "Periodo", headerText),
		text.NewCol(1, "Proveedor", headerText),
		text.NewCol(1, "Resultado", headerText),
		text.NewCol(4, "Motivo", headerText),
		text.NewCol(1, "Hora", props.Text{Style: fontstyle.Bold, Size: 8, Align: align.Right}),
	)

	for _, rep := range reports {
		style := cellText
		if !rep.Success {
			style = failedText
		}
		m.AddRow(7,
			text.NewCol(2, rep.AccountID.String(), style),
			text.NewCol(2, rep.CustomerName, style),
			text.NewCol(1, rep.InvoiceLabel, style),
			text.NewCol(1, rep.Provider, style),
			text.NewCol(1, rep.Outcome, style),
			text.NewCol(4, rep.Reason, style),
			text.NewCol(1, rep.ExecutedAt.Format("15:04:05"), props.Text{Size: 7, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

// FileName builds an attachment name such as
// "reporte-facturacion-2024-04-05.pdf".
func FileName(title string, at time.Time, ext string) string {
	return fmt.Sprintf("%s-%s.%s", slug.Make(title), at.Format("2006-01-02"), ext)
}

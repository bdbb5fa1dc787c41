package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pressly/goose/v3"

	domain "github.com/shopsite/fulfillment/internal/domain"
)

var (
	accent = lipgloss.Color("#2563EB")
	muted  = lipgloss.Color("#6B7280")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	dimStyle    = lipgloss.NewStyle().Foreground(muted)
)

func newTable(headers []string, numeric map[int]bool, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case numeric[col]:
				return numberStyle
			default:
				return cellStyle
			}
		})
	return t.Render()
}

// salesReport is everything `report sales` prints.
type salesReport struct {
	Scope       string
	Summary     domain.SalesSummary
	Counts      map[domain.OrderStatus]int
	TopProducts []domain.ProductSales
}

func renderSalesReport(r salesReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sales report") + " " + dimStyle.Render("("+r.Scope+")") + "\n")

	b.WriteString(newTable(
		[]string{"Total sales", "Orders", "Completed"},
		map[int]bool{0: true, 1: true, 2: true},
		[][]string{{
			r.Summary.TotalSales.StringFixed(2),
			strconv.Itoa(r.Summary.TotalOrders),
			strconv.Itoa(r.Summary.CompletedOrders),
		}},
	) + "\n")

	countRows := make([][]string, 0, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		countRows = append(countRows, []string{string(status), strconv.Itoa(r.Counts[status])})
	}
	b.WriteString(newTable([]string{"Status", "Orders"}, map[int]bool{1: true}, countRows) + "\n")

	if len(r.TopProducts) == 0 {
		b.WriteString(dimStyle.Render("no product sales yet") + "\n")
		return b.String()
	}
	productRows := make([][]string, 0, len(r.TopProducts))
	for i, p := range r.TopProducts {
		productRows = append(productRows, []string{
			strconv.Itoa(i + 1),
			p.ProductID,
			p.ProductName,
			strconv.Itoa(p.Quantity),
			p.Revenue.StringFixed(2),
		})
	}
	b.WriteString(newTable(
		[]string{"#", "Product", "Name", "Units", "Revenue"},
		map[int]bool{0: true, 3: true, 4: true},
		productRows,
	) + "\n")
	return b.String()
}

func renderMigrationStatus(statuses []*goose.MigrationStatus) string {
	if len(statuses) == 0 {
		return dimStyle.Render("no migrations embedded") + "\n"
	}
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		if s == nil || s.Source == nil {
			continue
		}
		applied := "-"
		if !s.AppliedAt.IsZero() {
			applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{fmt.Sprintf("%05d", s.Source.Version), s.Source.Path, string(s.State), applied})
	}
	return newTable([]string{"Version", "File", "State", "Applied at"}, map[int]bool{0: true}, rows) + "\n"
}

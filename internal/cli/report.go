package cli

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			PaddingLeft(1).PaddingRight(1)

	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#43E6D6"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5E5E"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#32CD32"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	tableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	tableCell = lipgloss.NewStyle().
			Padding(0, 1)

	tableStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

// renderTable draws rows under headers, sizing each column to its widest cell.
func renderTable(title string, headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	headerCells := make([]string, len(headers))
	for i, h := range headers {
		headerCells[i] = tableHeader.Width(widths[i] + 2).Render(h)
	}
	headerRow := lipgloss.JoinHorizontal(lipgloss.Left, headerCells...)

	bodyRows := make([]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(headers))
		for j := range headers {
			var cell string
			if j < len(row) {
				cell = row[j]
			}
			cells[j] = tableCell.Width(widths[j] + 2).Render(cell)
		}
		bodyRows[i] = lipgloss.JoinHorizontal(lipgloss.Left, cells...)
	}

	table := tableStyle.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		headerRow,
		lipgloss.JoinVertical(lipgloss.Left, bodyRows...),
	))

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		table,
	)
}

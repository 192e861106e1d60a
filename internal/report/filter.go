package report

// FilterByCells returns the rows belonging to the given cells.
func FilterByCells(tables Tables, cells map[string]bool) Tables {
	if len(cells) == 0 {
		return emptyTables()
	}
	out := emptyTables()
	for _, row := range tables.Cells {
		if cells[row.Cell] {
			out.Cells = append(out.Cells, row)
		}
	}
	for _, row := range tables.Residuals {
		if cells[row.Cell] {
			out.Residuals = append(out.Residuals, row)
		}
	}
	for _, row := range tables.Duals {
		if cells[row.Cell] {
			out.Duals = append(out.Duals, row)
		}
	}
	return out
}

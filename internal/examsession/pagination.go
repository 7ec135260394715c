package examsession

// TotalPages returns ceil(total / pageSize).
func TotalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Page returns the window [pageIndex*pageSize, (pageIndex+1)*pageSize) of
// order, cut at the end of the slice. Out of range pages are empty.
func Page[T any](order []T, pageIndex, pageSize int) []T {
	if pageSize <= 0 || pageIndex < 0 {
		return nil
	}
	start := pageIndex * pageSize
	if start >= len(order) {
		return nil
	}
	end := start + pageSize
	if end > len(order) {
		end = len(order)
	}
	return order[start:end]
}

// PageOf returns the page index holding the question at position idx.
func PageOf(idx, pageSize int) int {
	if pageSize <= 0 || idx < 0 {
		return 0
	}
	return idx / pageSize
}

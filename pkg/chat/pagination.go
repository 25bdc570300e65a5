package chat

// PaginationItem is one entry in a rendered pager: either a page index or an
// ellipsis gap
type PaginationItem struct {
	Ellipsis bool
	Page     int
}

// PaginationItems builds the pager entries for a zero-based current page.
// Up to seven pages render in full; beyond that the first and last pages are
// always shown with a window around the current page and ellipsis gaps.
func PaginationItems(currentPage, totalPages int) []PaginationItem {
	var items []PaginationItem

	if totalPages <= 7 {
		for i := 0; i < totalPages; i++ {
			items = append(items, PaginationItem{Page: i})
		}
		return items
	}

	items = append(items, PaginationItem{Page: 0})

	if currentPage > 3 {
		items = append(items, PaginationItem{Ellipsis: true})
	}

	start := max(1, currentPage-1)
	end := min(totalPages-2, currentPage+1)
	for i := start; i <= end; i++ {
		if i == 0 || i == totalPages-1 {
			continue
		}
		items = append(items, PaginationItem{Page: i})
	}

	if currentPage < totalPages-4 {
		items = append(items, PaginationItem{Ellipsis: true})
	}

	items = append(items, PaginationItem{Page: totalPages - 1})
	return items
}

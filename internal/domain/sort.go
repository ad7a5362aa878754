package domain

// Sort orders accepted by review listings. The ordering semantics live in the
// getReviews stored procedure.
const (
	SortNewest   = "newest"
	SortHelpful  = "helpful"
	SortRelevant = "relevant"
)

// DefaultSort is used when a listing does not specify a sort order.
const DefaultSort = SortNewest

// ValidSorts returns the set of valid review sort orders.
func ValidSorts() []string {
	return []string{SortNewest, SortHelpful, SortRelevant}
}

// IsValidSort checks whether the given string is a valid review sort order.
func IsValidSort(sort string) bool {
	for _, s := range ValidSorts() {
		if s == sort {
			return true
		}
	}
	return false
}

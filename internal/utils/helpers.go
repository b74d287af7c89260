package utils

// SliceToSet returns the distinct values of items as a lookup set.
func SliceToSet[T comparable](items []T) map[T]struct{} {
	set := make(map[T]struct{}, len(items))
	for _, v := range items {
		set[v] = struct{}{}
	}
	return set
}

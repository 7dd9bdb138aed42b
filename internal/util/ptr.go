package util

// Pointer returns a pointer to a copy of v, for filling optional override
// fields from literals and flag values.
func Pointer[T any](v T) *T {
	return &v
}

package repository

type scanner interface {
	Scan(dest ...any) error
}

// nullJSON adapts raw JSON for a jsonb parameter. lib/pq encodes []byte as
// bytea, which jsonb columns reject, so JSON travels as text or NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

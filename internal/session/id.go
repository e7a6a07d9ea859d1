package session

// ShortID returns the display form of a session id: the first uuid group
// is enough to identify a session in a table.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

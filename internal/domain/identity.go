package domain

// Identity is the authenticated user behind a connection, as asserted by the edge.
type Identity struct {
	UserID   string
	Locale   string
	Timezone string
}

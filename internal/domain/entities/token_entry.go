package entities

// TokenEntry is one row of a user's token index: a denormalized listing of
// the handles the user has minted. The session store stays authoritative.
type TokenEntry struct {
	Key     string `json:"key"`
	Scope   string `json:"scope"`
	Created int64  `json:"created"`
	Expires int64  `json:"expires"`
}

package entities

// LoginState is the transient record behind the login flow's state
// parameter. Single use, short TTL.
type LoginState struct {
	ReturnURL string `json:"return_url"`
	CreatedAt int64  `json:"iat"`
}

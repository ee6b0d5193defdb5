package models

// LoginRequest is the password grant body sent to the auth service.
type LoginRequest struct {
	Email              string         `json:"email"`
	Password           string         `json:"password"`
	GotrueMetaSecurity map[string]any `json:"gotrue_meta_security"`
}

// LoginResponse is the subset of the auth token response the client uses.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// Organization is the response of /organizations/me/current.
type Organization struct {
	OrgID string `json:"org_id"`
}

package types

// DefaultRole is assigned when the auth backend omits a role.
const DefaultRole = "authenticated"

// User is the identity resolved from an access token.
type User struct {
	ID    string `json:"id" example:"d290f1ee-6c54-4b01-90e6-d701748f0851"`
	Email string `json:"email" example:"john.doe@example.com"`
	Role  string `json:"role" example:"authenticated"` // Open set, e.g. 'authenticated', 'admin'.
}

// HasRole reports whether the user carries role.
func (u *User) HasRole(role string) bool {
	return u != nil && u.Role == role
}

// Session is the token pair issued on login.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginResult is the outcome of a password login.
type LoginResult struct {
	User    User    `json:"user"`
	Session Session `json:"session"`
}

// SignupResult is the outcome of a registration. An empty user ID means the
// backend accepted the request but is waiting for email confirmation.
type SignupResult struct {
	User User `json:"user"`
}

// ConfirmationPending reports whether the user is not usable yet.
func (r SignupResult) ConfirmationPending() bool {
	return r.User.ID == ""
}

// LoginRequest represents the expected JSON body for user login.
type LoginRequest struct {
	Email    string `json:"email" example:"user@example.com"`
	Password string `json:"password" example:"password123"`
}

// SignupRequest represents the expected JSON body for registration.
type SignupRequest struct {
	Email    string `json:"email" example:"newuser@example.com"`
	Password string `json:"password" example:"Str0ngP@ss!"`
}

// SessionState is the observable state of a browser session.
type SessionState struct {
	User    *User  `json:"user"`
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"` // Informational outcome, e.g. signup confirmation.
}

// Response represents a generic API response for success or error messages.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

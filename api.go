package appcore

// Backend endpoints. This is a fixed wire contract with the service; the
// shapes below must match it exactly.
const (
	loginPath        = "/v1/auth/login"
	refreshPath      = "/v1/auth/refresh"
	logoutPath       = "/v1/auth/logout"
	pushRegisterPath = "/push/register"
)

// HeaderSessionID carries the server-assigned correlation id that ties a
// device's token chain together across rotations.
const HeaderSessionID = "x-session-id"

// TokenResponse is the success payload of both the login and refresh calls.
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	SessionID    string `json:"sessionId"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// pushRegistration is the body of both register and unregister calls.
type pushRegistration struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
	DeviceID string `json:"deviceId"`
}

package authapi

import "time"

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Fingerprint string `json:"fingerprint"`
}

type refreshRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Fingerprint  string `json:"fingerprint"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type confirmEmailRequest struct {
	Token       string `json:"token"`
	Fingerprint string `json:"fingerprint"`
}

type resetValidateRequest struct {
	Token string `json:"token"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type deviceResponse struct {
	SessionID   string    `json:"sessionId"`
	Fingerprint string    `json:"fingerprint"`
	UserAgent   string    `json:"userAgent,omitempty"`
	IP          string    `json:"ip,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUsedAt  time.Time `json:"lastUsedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type sessionsResponse struct {
	Sessions []deviceResponse `json:"sessions"`
}

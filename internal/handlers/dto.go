package handlers

type registerRequest struct {
	Username    string `json:"username" validate:"required,max=64"`
	Password    string `json:"password" validate:"required,max=72"`
	IsModerator bool   `json:"isModerator"`
	Consent     bool   `json:"consent"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// tokenRequest carries a refresh token for /logout and /refresh.
type tokenRequest struct {
	Token string `json:"token"`
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

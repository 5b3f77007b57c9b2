package authapi

import "time"

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DeviceID    string `json:"device_id"`
	DeviceLabel string `json:"device_label"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type revokeDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type registerResponse struct {
	Account accountResponse `json:"account"`
}

type sessionResponse struct {
	AccountID        string    `json:"account_id"`
	Role             string    `json:"role"`
	DeviceID         string    `json:"device_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	// EvictedDeviceID names the caller's own device that lost its slot.
	EvictedDeviceID string `json:"evicted_device_id,omitempty"`
}

type refreshResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

type deviceResponse struct {
	DeviceID     string    `json:"device_id"`
	Label        string    `json:"label"`
	Current      bool      `json:"current"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

type devicesResponse struct {
	Devices []deviceResponse `json:"devices"`
}

type signOutOthersResponse struct {
	SignedOut int64 `json:"signed_out"`
}

type messageResponse struct {
	Message string `json:"message"`
}

package model

import "time"

// ConnectionStatus is a point-in-time view of the device-link connection.
type ConnectionStatus struct {
	State        ConnectionState `json:"state"`
	QRAvailable  bool            `json:"qrAvailable"`
	QRIssuedAt   *time.Time      `json:"qrIssuedAt,omitempty"`
	AccountID    string          `json:"accountId,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
	Attempts     int             `json:"reconnectAttempts"`
	NextRetryAt  *time.Time      `json:"nextRetryAt,omitempty"`
	StateChanged time.Time       `json:"stateChangedAt"`
}

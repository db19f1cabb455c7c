package model

type SessionStatus string

const (
	SessionStatusPending SessionStatus = "pending"
	SessionStatusLinked  SessionStatus = "linked"
	SessionStatusExpired SessionStatus = "expired"
	SessionStatusUsed    SessionStatus = "used"
)

// IsTerminal reports whether no further transition is allowed.
func (s SessionStatus) IsTerminal() bool {
	return s != SessionStatusPending
}

type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateQRReady      ConnectionState = "qr_ready"
	ConnectionStateOnline       ConnectionState = "online"
	ConnectionStateError        ConnectionState = "error"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// CanIssueCodes reports whether pairing codes may be handed out in this state.
func (s ConnectionState) CanIssueCodes() bool {
	return s == ConnectionStateQRReady || s == ConnectionStateOnline
}

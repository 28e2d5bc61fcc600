package dto

// ConnectRequest payload. Both fields are optional; a missing source
// address defaults to the caller's remote IP.
type ConnectRequest struct {
	SourceAddress *string `json:"sourceAddress"`
	DeviceName    *string `json:"deviceName"`
}

// ChangeStatusRequest payload. StatusID is a pointer so an absent field
// is told apart from an id the catalog must reject.
type ChangeStatusRequest struct {
	StatusID *int    `json:"statusId"`
	Motive   *string `json:"motive"`
}

// ConnectResponse returns the id of the opened session.
type ConnectResponse struct {
	SessionID int64 `json:"sessionId"`
}

package domain

// Notification kinds, mirrored by the toast styling in the UI.
const (
	NotifyInfo    = "info"
	NotifySuccess = "success"
	NotifyError   = "error"
)

// Notification is a transient toast pushed to the user over the
// notification socket.
type Notification struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

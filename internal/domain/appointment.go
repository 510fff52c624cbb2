package domain

type AppointmentID string

type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "scheduled"
	AppointmentInProgress AppointmentStatus = "in_progress"
	AppointmentCompleted  AppointmentStatus = "completed"
	AppointmentCancelled  AppointmentStatus = "cancelled"
)

// SessionRecord is the scheduling view of an appointment. Read-only for calls.
type SessionRecord struct {
	AppointmentID AppointmentID     `json:"appointment_id"`
	InitiatorID   ParticipantID     `json:"initiator_id"`
	ResponderID   ParticipantID     `json:"responder_id"`
	Status        AppointmentStatus `json:"status"`
}

// BoundIdentity returns the identity bound to the role slot, or "" for an unknown role.
func (r SessionRecord) BoundIdentity(role Role) ParticipantID {
	switch role {
	case RoleInitiator:
		return r.InitiatorID
	case RoleResponder:
		return r.ResponderID
	default:
		return ""
	}
}

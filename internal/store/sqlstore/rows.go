package sqlstore

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Telecall/internal/domain"
)

type appointmentRow struct {
	AppointmentID string `gorm:"primaryKey"`
	InitiatorID   string
	ResponderID   string
	Status        string
	UpdatedAt     time.Time
}

func (appointmentRow) TableName() string { return "appointments" }

func (r appointmentRow) toRecord() domain.SessionRecord {
	return domain.SessionRecord{
		AppointmentID: domain.AppointmentID(r.AppointmentID),
		InitiatorID:   domain.ParticipantID(r.InitiatorID),
		ResponderID:   domain.ParticipantID(r.ResponderID),
		Status:        domain.AppointmentStatus(r.Status),
	}
}

type docRow struct {
	CallID        string `gorm:"primaryKey"`
	AppointmentID string `gorm:"index"`
	InitiatorID   string
	ResponderID   string
	OfferJSON     *string
	AnswerJSON    *string
	Status        string `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (docRow) TableName() string { return "signaling_docs" }

func docRowFromDoc(d domain.SignalingDoc) (docRow, error) {
	offer, err := encodeDescription(d.Offer)
	if err != nil {
		return docRow{}, err
	}
	answer, err := encodeDescription(d.Answer)
	if err != nil {
		return docRow{}, err
	}
	return docRow{
		CallID:        string(d.CallID),
		AppointmentID: string(d.AppointmentID),
		InitiatorID:   string(d.InitiatorID),
		ResponderID:   string(d.ResponderID),
		OfferJSON:     offer,
		AnswerJSON:    answer,
		Status:        string(d.Status),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}

func (r docRow) toDoc() (domain.SignalingDoc, error) {
	offer, err := decodeDescription(r.OfferJSON)
	if err != nil {
		return domain.SignalingDoc{}, err
	}
	answer, err := decodeDescription(r.AnswerJSON)
	if err != nil {
		return domain.SignalingDoc{}, err
	}
	return domain.SignalingDoc{
		CallID:        domain.CallID(r.CallID),
		AppointmentID: domain.AppointmentID(r.AppointmentID),
		InitiatorID:   domain.ParticipantID(r.InitiatorID),
		ResponderID:   domain.ParticipantID(r.ResponderID),
		Offer:         offer,
		Answer:        answer,
		Status:        domain.CallStatus(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

type candidateRow struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	CallID        string `gorm:"index:idx_mailbox,priority:1"`
	Owner         string `gorm:"index:idx_mailbox,priority:2"`
	Seq           int64  `gorm:"index:idx_mailbox,priority:3"`
	Candidate     string
	SDPMid        string
	SDPMLineIndex uint16
	CreatedAt     time.Time
}

func (candidateRow) TableName() string { return "candidates" }

func (r candidateRow) toCandidate() domain.Candidate {
	return domain.Candidate{
		Candidate:     r.Candidate,
		SDPMid:        r.SDPMid,
		SDPMLineIndex: r.SDPMLineIndex,
	}
}

func encodeDescription(sd *domain.SessionDescription) (*string, error) {
	if sd == nil {
		return nil, nil
	}
	b, err := json.Marshal(sd)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func decodeDescription(raw *string) (*domain.SessionDescription, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var sd domain.SessionDescription
	if err := json.Unmarshal([]byte(*raw), &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}

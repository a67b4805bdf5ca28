package carelink

import (
	"time"

	"github.com/google/uuid"
)

// Caregiver levels.
const (
	LevelPrimary   = "primary"
	LevelSecondary = "secondary"
)

// CareLink maps to the care_link table: an approval relationship between a
// patient and a caregiver. Only approved links are visible to the escalation
// engine.
type CareLink struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	CaregiverID uuid.UUID  `db:"caregiver_id" json:"caregiver_id"`
	Level       string     `db:"level" json:"level"`
	Approved    bool       `db:"approved" json:"approved"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	ApprovedBy  *uuid.UUID `db:"approved_by" json:"approved_by,omitempty"`
}

// CaregiverRef identifies one approved caregiver and their level; the
// escalation engine fans out to these.
type CaregiverRef struct {
	CaregiverID uuid.UUID `json:"caregiver_id"`
	Level       string    `json:"level"`
}

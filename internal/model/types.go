package model

import (
	"image"
	"time"
)

type Direction string

const (
	DirectionCheckIn  Direction = "check_in"
	DirectionCheckOut Direction = "check_out"
)

type GateRole string

const (
	RoleFrontEntrance GateRole = "front_entrance"
	RoleBackEntrance  GateRole = "back_entrance"
	RoleFrontExit     GateRole = "front_exit"
	RoleBackExit      GateRole = "back_exit"
)

// Direction returns the gate direction served by cameras in this role.
func (r GateRole) Direction() Direction {
	switch r {
	case RoleFrontEntrance, RoleBackEntrance:
		return DirectionCheckIn
	default:
		return DirectionCheckOut
	}
}

type PlateType string

const (
	PlateUnknown            PlateType = "unknown"
	PlateCarSingleRow       PlateType = "car_single_row"
	PlateCarDoubleRow       PlateType = "car_double_row"
	PlateMotorbikeNew8      PlateType = "motorbike_new_8"
	PlateMotorbikeOld9      PlateType = "motorbike_old_9"
	PlateMotorbikeElectric1 PlateType = "motorbike_electric_10"
)

type CameraDevice struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	URI   string `json:"uri,omitempty"`
}

// Frame is a decoded image owned by the consumer after publication; the
// capture loop never retains it.
type Frame struct {
	CameraIndex int
	Image       image.Image
	CapturedAt  time.Time
}

type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

type Detection struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
}

type CharacterDetection struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
	Label      string      `json:"label"`
}

type GateEvent struct {
	CameraIndex int       `json:"camera_index"`
	Plate       string    `json:"plate"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

type PlateRead struct {
	Timestamp   time.Time `json:"timestamp"`
	CameraIndex int       `json:"camera_index"`
	Plate       string    `json:"plate"`
	PlateType   PlateType `json:"plate_type"`
	Confidence  float64   `json:"confidence"`
}

type Outcome string

const (
	OutcomeCheckedIn      Outcome = "checked_in"
	OutcomeCheckedOut     Outcome = "checked_out"
	OutcomeAlreadyActive  Outcome = "already_active"
	OutcomeUnknownVehicle Outcome = "unknown_vehicle"
	OutcomeNoSession      Outcome = "no_session"
	OutcomeError          Outcome = "error"
)

type GateDecision struct {
	Timestamp   time.Time `json:"timestamp"`
	Direction   Direction `json:"direction"`
	CameraIndex int       `json:"camera_index"`
	Plate       string    `json:"plate"`
	Outcome     Outcome   `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	Fee         float64   `json:"fee,omitempty"`
}

type Notification struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Plate     string    `json:"plate,omitempty"`
}

type ParkingSession struct {
	ID        string    `json:"id"`
	Plate     string    `json:"plate"`
	LotID     string    `json:"lot_id"`
	StartedAt time.Time `json:"started_at"`
}

type Vehicle struct {
	Plate      string `json:"plate"`
	OwnerName  string `json:"owner_name,omitempty"`
	Registered bool   `json:"registered"`
}

type CheckInRequest struct {
	Plate      string `json:"plate"`
	LotID      string `json:"lot_id"`
	FrontImage []byte `json:"front_image,omitempty"`
	BackImage  []byte `json:"back_image,omitempty"`
}

type CheckOutRequest struct {
	Plate      string `json:"plate"`
	LotID      string `json:"lot_id"`
	FrontImage []byte `json:"front_image,omitempty"`
	BackImage  []byte `json:"back_image,omitempty"`
}

type CheckOutResult struct {
	SessionID string    `json:"session_id"`
	Plate     string    `json:"plate"`
	Fee       float64   `json:"fee"`
	EndedAt   time.Time `json:"ended_at"`
}

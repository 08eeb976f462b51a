package models

import (
	"strings"
	"time"
)

const RoleDriver = "driver"

// UserRecord is the session record issued by the backend at login.
type UserRecord struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	DriverID string `json:"driver_id,omitempty"`
	Token    string `json:"token"`
}

// IsDriver reports whether the record qualifies for driver-scoped
// operations such as push registration.
func (u UserRecord) IsDriver() bool {
	return u.Role == RoleDriver && strings.TrimSpace(u.DriverID) != ""
}

type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// ReplyRef is a back-link from a message to an earlier one in the same room.
type ReplyRef struct {
	MessageID  string `json:"message_id"`
	SenderName string `json:"sender_name"`
	Snippet    string `json:"content"`
}

// Message is immutable once the server has assigned its identifier.
type Message struct {
	ID          string       `json:"_id"`
	RoomID      string       `json:"room_id"`
	SenderID    string       `json:"sender_id"`
	SenderName  string       `json:"sender_name"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyTo     *ReplyRef    `json:"reply_to,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

type MessagePreview struct {
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
}

type RoomSummary struct {
	ID          string          `json:"_id"`
	Name        string          `json:"name"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
}

type StatementSummary struct {
	ID        string  `json:"_id"`
	WeekRange string  `json:"week_range"`
	Salary    float64 `json:"salary"`
	Approved  bool    `json:"approved"`
}

type StatementDetails struct {
	ID          string    `json:"_id"`
	Company     string    `json:"company"`
	DriverName  string    `json:"driver_name"`
	TruckNumber string    `json:"truck_number"`
	WeekRange   string    `json:"week_range"`
	SchemeType  string    `json:"scheme_type"`
	PerMileRate float64   `json:"per_mile_rate"`
	Salary      float64   `json:"salary"`
	Commission  float64   `json:"commission"`
	Miles       float64   `json:"miles"`
	Approved    bool      `json:"approved"`
	Confirmed   bool      `json:"confirmed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LoadIntent is the navigation target decoded from a loads-feed push payload.
type LoadIntent struct {
	LoadID string
}

// StatementIntent is the navigation target decoded from a statements-feed
// push payload. Either field may be empty when the payload omits it.
type StatementIntent struct {
	StatementID string
	WeekRange   string
}

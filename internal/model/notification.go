package model

import "time"

// Notification is appended to the notification log each time a message is
// placed in the Unclassified folder. It is consumed by UI collaborators.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id" db:"id"`

	// MessageID identifies the message that could not be classified.
	MessageID string `json:"message_id" db:"message_id"`

	// Subject is the message subject as received.
	Subject string `json:"subject" db:"subject"`

	// Author is the message author as received.
	Author string `json:"author" db:"author"`

	// Date is the message date.
	Date time.Time `json:"date" db:"date"`

	// Read indicates whether the user has acknowledged this notification.
	Read bool `json:"read" db:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

package model

import "time"

// Category is a spending category that rules point at.
type Category struct {
	CreatedAt   time.Time
	Name        string
	Description string
	ID          int64
	Active      bool
}

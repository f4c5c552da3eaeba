package models

import "time"

// User is a rider known by phone number.
type User struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RegisterUserParams is the input for registering or recalling a user.
type RegisterUserParams struct {
	Phone string
	Name  string
	Email string
}

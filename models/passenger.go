package models

import "time"

// Passenger is a traveller registered under a user account
type Passenger struct {
	ID        string    `json:"id" yaml:"id"`
	UserID    string    `json:"user_id" yaml:"user_id"`
	Name      string    `json:"name" yaml:"name"`
	IDNumber  string    `json:"id_number" yaml:"id_number"`
	Phone     string    `json:"phone,omitempty" yaml:"phone"`
	IsDefault bool      `json:"is_default" yaml:"is_default"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// PassengerCreateRequest represents passenger data for registration
type PassengerCreateRequest struct {
	Name      string `json:"name" binding:"required"`
	IDNumber  string `json:"id_number" binding:"required"`
	Phone     string `json:"phone"`
	IsDefault bool   `json:"is_default"`
}

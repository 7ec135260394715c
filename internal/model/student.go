package model

import "time"

// Student represents a student user.
type Student struct {
	ID              string    `json:"uid"`
	Name            string    `json:"name"`
	Roll            string    `json:"roll"`
	PasswordHash    string    `json:"-"`
	EnrolledBatches []string  `json:"enrolled_batches"`
	CreatedAt       time.Time `json:"created_at"`
}

// StudentLoginRequest is the payload for student authentication.
type StudentLoginRequest struct {
	Roll     string `json:"roll" binding:"required,min=1,max=32"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// StudentLoginResponse is returned after successful student login.
type StudentLoginResponse struct {
	Token   string  `json:"token"`
	Student Student `json:"student"`
}

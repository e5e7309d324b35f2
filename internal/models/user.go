// internal/models/user.go
package models

// User is the local contact directory entry for a marketplace participant.
// Credentials live with the external identity provider; this row only holds
// what notifications need.
type User struct {
	BaseModel
	Username string   `json:"username" gorm:"uniqueIndex;size:50;not null"`
	Email    string   `json:"email" gorm:"uniqueIndex;size:255;not null"`
	UserType UserType `json:"user_type" gorm:"type:varchar(20);not null"`
	Phone    string   `json:"phone,omitempty" gorm:"size:32"`
}

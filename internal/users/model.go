package users

import "strings"

// User is the account row every persisted artifact is scoped by. Created at
// signup and read-only from then on.
type User struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Email            string `gorm:"column:email;size:320;not null;uniqueIndex"`
	Name             string `gorm:"column:name;size:320;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

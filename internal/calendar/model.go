package calendar

// Event is one planned content item. Date always holds a calendar date in
// YYYY-MM-DD form; timestamps are reduced to their UTC calendar date before
// the row is written, so no stored value is ever longer than ten characters.
type Event struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Owner            string `gorm:"column:owner;size:190;not null;index"`
	Title            string `gorm:"column:title;size:512;not null"`
	Note             string `gorm:"column:note;type:text"`
	Date             string `gorm:"column:date;size:10;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "calendar_events"
}

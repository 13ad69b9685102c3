package domain

import "time"

// DateDimensionRow is one day of the static calendar dimension. The pipeline reads it but never writes it.
type DateDimensionRow struct {
	DateKey   int       `gorm:"column:date_key;primaryKey;autoIncrement:false" json:"date_key"`
	FullDate  time.Time `gorm:"column:full_date;not null" json:"full_date"`
	Year      int       `gorm:"column:year;not null" json:"year"`
	Quarter   int       `gorm:"column:quarter;not null" json:"quarter"`
	Month     int       `gorm:"column:month;not null" json:"month"`
	Week      int       `gorm:"column:week;not null" json:"week"`
	DayOfWeek int       `gorm:"column:day_of_week;not null" json:"day_of_week"` // 1 = Monday ... 7 = Sunday
	IsWeekend bool      `gorm:"column:is_weekend;not null" json:"is_weekend"`
}

// TableName implements the GORM tabler interface.
func (DateDimensionRow) TableName() string { return "dim_date" }

// DateKey returns the YYYYMMDD key of the UTC calendar date of t.
func DateKey(t time.Time) int {
	y, m, d := t.UTC().Date()
	return y*10000 + int(m)*100 + d
}

// NewDateDimensionRow builds the calendar row for the UTC date of t.
func NewDateDimensionRow(t time.Time) DateDimensionRow {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	_, week := day.ISOWeek()
	dow := int(day.Weekday())
	if dow == 0 {
		dow = 7
	}
	return DateDimensionRow{
		DateKey:   DateKey(day),
		FullDate:  day,
		Year:      day.Year(),
		Quarter:   (int(day.Month())-1)/3 + 1,
		Month:     int(day.Month()),
		Week:      week,
		DayOfWeek: dow,
		IsWeekend: dow >= 6,
	}
}

// Calendar returns one row per day from `from` to `to`, both inclusive.
func Calendar(from, to time.Time) []DateDimensionRow {
	start := NewDateDimensionRow(from).FullDate
	end := NewDateDimensionRow(to).FullDate
	if end.Before(start) {
		return nil
	}
	rows := make([]DateDimensionRow, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		rows = append(rows, NewDateDimensionRow(d))
	}
	return rows
}

package attendance

import (
	"sort"

	"checkin/internal/model"
)

// DuplicateSlot is a (user, date) pair that holds more than one record.
type DuplicateSlot struct {
	User    string
	Date    string
	Records []model.AttendanceRecord
}

// Duplicates groups records by (user, date) and returns the groups that
// break the one-per-day rule, ordered by user then date.
func Duplicates(records []model.AttendanceRecord) []DuplicateSlot {
	grouped := make(map[slot][]model.AttendanceRecord)
	for _, r := range records {
		k := slot{user: r.User, date: r.Date}
		grouped[k] = append(grouped[k], r)
	}

	var out []DuplicateSlot
	for k, recs := range grouped {
		if len(recs) > 1 {
			out = append(out, DuplicateSlot{User: k.user, Date: k.date, Records: recs})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].User != out[j].User {
			return out[i].User < out[j].User
		}
		return out[i].Date < out[j].Date
	})
	return out
}

// CountOn returns how many records are dated date.
func CountOn(records []model.AttendanceRecord, date string) int {
	n := 0
	for _, r := range records {
		if r.Date == date {
			n++
		}
	}
	return n
}

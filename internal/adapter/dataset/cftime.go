package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Calendar names understood by the CF time decoder.
const (
	CalendarStandard = "standard"
	CalendarNoLeap   = "noleap"
	CalendarAllLeap  = "all_leap"
	Calendar360Day   = "360_day"
)

// CalendarDate is a date in a (possibly non-Gregorian) model calendar.
type CalendarDate struct {
	Year, Month, Day     int
	Hour, Minute, Second int
}

// String formats the date as YYYY-MM-DD, adding the time of day only when it
// is not midnight.
func (d CalendarDate) String() string {
	s := fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
	if d.Hour != 0 || d.Minute != 0 || d.Second != 0 {
		s += fmt.Sprintf("T%02d:%02d:%02d", d.Hour, d.Minute, d.Second)
	}
	return s
}

// Time converts the date to a time.Time. Dates that do not exist in the
// Gregorian calendar (e.g. 360_day Feb 30) are normalized by time.Date.
func (d CalendarDate) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, d.Hour, d.Minute, d.Second, 0, time.UTC)
}

// TimeDecoder turns CF "<unit> since <epoch>" offsets into calendar dates.
type TimeDecoder struct {
	unitSeconds float64
	calendar    string
	epochDays   int64 // Epoch as days since 0000-01-01 in the calendar.
	epochSecs   float64
}

// ParseTimeUnits builds a decoder from CF units and calendar attributes,
// e.g. ("days since 1850-01-01", "noleap").
func ParseTimeUnits(units, calendar string) (*TimeDecoder, error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("not a CF time unit: %q", units)
	}

	var unitSeconds float64
	switch strings.ToLower(strings.TrimSpace(parts[0])) {
	case "seconds", "second", "secs", "sec", "s":
		unitSeconds = 1
	case "minutes", "minute", "mins", "min":
		unitSeconds = 60
	case "hours", "hour", "hrs", "hr", "h":
		unitSeconds = 3600
	case "days", "day", "d":
		unitSeconds = 86400
	default:
		return nil, fmt.Errorf("unsupported time unit %q", parts[0])
	}

	cal, err := normalizeCalendar(calendar)
	if err != nil {
		return nil, err
	}

	epoch, err := parseEpoch(parts[1])
	if err == nil {
		err = checkDate(cal, epoch)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid epoch in %q: %w", units, err)
	}

	return &TimeDecoder{
		unitSeconds: unitSeconds,
		calendar:    cal,
		epochDays:   daysFromCivil(cal, epoch.Year, epoch.Month, epoch.Day),
		epochSecs:   float64(epoch.Hour*3600 + epoch.Minute*60 + epoch.Second),
	}, nil
}

// Calendar returns the normalized calendar name.
func (d *TimeDecoder) Calendar() string {
	return d.calendar
}

// Decode converts an offset value to a calendar date.
func (d *TimeDecoder) Decode(value float64) CalendarDate {
	total := d.epochSecs + value*d.unitSeconds
	dayOffset := math.Floor(total / 86400)
	// Round to the nearest second to absorb float noise in hourly offsets.
	secs := int64(math.Round(total - dayOffset*86400))
	if secs >= 86400 {
		dayOffset++
		secs -= 86400
	}

	out := civilFromDays(d.calendar, d.epochDays+int64(dayOffset))
	out.Hour = int(secs / 3600)
	out.Minute = int(secs % 3600 / 60)
	out.Second = int(secs % 60)
	return out
}

// Format decodes value and renders it with CalendarDate.String.
func (d *TimeDecoder) Format(value float64) string {
	return d.Decode(value).String()
}

func normalizeCalendar(calendar string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(calendar)) {
	case "", "standard", "gregorian", "proleptic_gregorian":
		return CalendarStandard, nil
	case "noleap", "365_day":
		return CalendarNoLeap, nil
	case "all_leap", "366_day":
		return CalendarAllLeap, nil
	case "360_day":
		return Calendar360Day, nil
	default:
		return "", fmt.Errorf("unsupported calendar %q", calendar)
	}
}

// parseEpoch accepts "1850-1-1", "1900-01-01 00:00:00.0" and RFC3339-like forms.
func parseEpoch(s string) (CalendarDate, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "Z")
	s = strings.Replace(s, "T", " ", 1)
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return CalendarDate{}, fmt.Errorf("empty epoch")
	}

	var out CalendarDate
	dateParts := strings.Split(fields[0], "-")
	if len(dateParts) != 3 {
		return CalendarDate{}, fmt.Errorf("invalid date %q", fields[0])
	}
	for i, dst := range []*int{&out.Year, &out.Month, &out.Day} {
		n, err := strconv.Atoi(dateParts[i])
		if err != nil {
			return CalendarDate{}, fmt.Errorf("invalid date %q: %w", fields[0], err)
		}
		*dst = n
	}

	if len(fields) > 1 {
		timeParts := strings.Split(fields[1], ":")
		for i, dst := range []*int{&out.Hour, &out.Minute, &out.Second} {
			if i >= len(timeParts) {
				break
			}
			f, err := strconv.ParseFloat(timeParts[i], 64)
			if err != nil {
				return CalendarDate{}, fmt.Errorf("invalid time %q: %w", fields[1], err)
			}
			*dst = int(f)
		}
	}
	return out, nil
}

// checkDate rejects dates that do not exist in the calendar.
func checkDate(calendar string, d CalendarDate) error {
	if d.Month < 1 || d.Month > 12 {
		return fmt.Errorf("month %d out of range", d.Month)
	}
	if n := monthLength(calendar, d.Year, d.Month); d.Day < 1 || d.Day > n {
		return fmt.Errorf("day %d out of range for %04d-%02d", d.Day, d.Year, d.Month)
	}
	if d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 || d.Second < 0 || d.Second > 60 {
		return fmt.Errorf("time %02d:%02d:%02d out of range", d.Hour, d.Minute, d.Second)
	}
	return nil
}

// monthLength returns the number of days in a month of the calendar.
func monthLength(calendar string, year, month int) int {
	leap := 0
	switch calendar {
	case Calendar360Day:
		return 30
	case CalendarAllLeap:
		leap = 1
	case CalendarStandard:
		if isGregorianLeap(int64(year)) {
			leap = 1
		}
	}
	return cumulativeDays[leap][month] - cumulativeDays[leap][month-1]
}

var cumulativeDays = [2][13]int{
	{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334, 365},
	{0, 31, 60, 91, 121, 152, 182, 213, 244, 274, 305, 335, 366},
}

func isGregorianLeap(y int64) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// daysFromCivil returns days since 0000-01-01 in the given calendar.
func daysFromCivil(calendar string, year, month, day int) int64 {
	y := int64(year)
	switch calendar {
	case Calendar360Day:
		return y*360 + int64(month-1)*30 + int64(day-1)
	case CalendarNoLeap:
		return y*365 + int64(cumulativeDays[0][month-1]) + int64(day-1)
	case CalendarAllLeap:
		return y*366 + int64(cumulativeDays[1][month-1]) + int64(day-1)
	}

	// Proleptic Gregorian.
	days := y*365 + floorDiv(y+3, 4) - floorDiv(y+99, 100) + floorDiv(y+399, 400)
	leap := 0
	if isGregorianLeap(y) {
		leap = 1
	}
	return days + int64(cumulativeDays[leap][month-1]) + int64(day-1)
}

func civilFromDays(calendar string, days int64) CalendarDate {
	switch calendar {
	case Calendar360Day:
		y := floorDiv(days, 360)
		rem := days - y*360
		return CalendarDate{Year: int(y), Month: int(rem/30) + 1, Day: int(rem%30) + 1}
	case CalendarNoLeap:
		y := floorDiv(days, 365)
		return fromDayOfYear(int(y), int(days-y*365), 0)
	case CalendarAllLeap:
		y := floorDiv(days, 366)
		return fromDayOfYear(int(y), int(days-y*366), 1)
	}

	// Proleptic Gregorian: estimate the year and correct.
	y := floorDiv(days*400, 146097)
	for daysFromCivil(CalendarStandard, int(y), 1, 1) > days {
		y--
	}
	for daysFromCivil(CalendarStandard, int(y+1), 1, 1) <= days {
		y++
	}
	leap := 0
	if isGregorianLeap(y) {
		leap = 1
	}
	return fromDayOfYear(int(y), int(days-daysFromCivil(CalendarStandard, int(y), 1, 1)), leap)
}

func fromDayOfYear(year, doy, leap int) CalendarDate {
	month := 1
	for month < 12 && cumulativeDays[leap][month] <= doy {
		month++
	}
	return CalendarDate{Year: year, Month: month, Day: doy - cumulativeDays[leap][month-1] + 1}
}

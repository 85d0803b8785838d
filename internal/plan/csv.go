// Package plan imports the training plan from CSV and provides the planner
// operations: re-import with re-matching, note/title edits and the agenda.
package plan

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"traincal/internal/model"
)

// CSV column headers.
const (
	ColDate     = "Date"
	ColType     = "Workout Type"
	ColDetails  = "Details"
	ColDuration = "Duration"
	ColDistance = "Distance (mi)"
	ColNotes    = "Notes"
)

// RowError reports one rejected CSV row. Line is 1-based and counts the
// header.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// ParseResult holds the accepted rows in file order and the rejected ones.
type ParseResult struct {
	Workouts []model.PlannedWorkout
	Rejected []*RowError
}

var firstInt = regexp.MustCompile(`\d+`)

// ParseCSV reads a plan CSV. MM-DD dates are placed in year. Rows sharing
// an id collapse to the last one, keeping the position of the first.
func ParseCSV(r io.Reader, year int) (ParseResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ParseResult{}, errors.New("plan csv is empty")
		}
		return ParseResult{}, fmt.Errorf("read plan header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, required := range []string{ColDate, ColType} {
		if _, ok := cols[required]; !ok {
			return ParseResult{}, fmt.Errorf("plan csv is missing column %q", required)
		}
	}

	var out ParseResult
	index := make(map[string]int)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				out.Rejected = append(out.Rejected, &RowError{Line: pe.Line, Err: err})
				continue
			}
			return out, fmt.Errorf("read plan csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		if isBlank(rec) {
			continue
		}

		p, err := parseRow(field, year)
		if err != nil {
			out.Rejected = append(out.Rejected, &RowError{Line: line, Err: err})
			continue
		}
		if i, ok := index[p.ID]; ok {
			out.Workouts[i] = p
			continue
		}
		index[p.ID] = len(out.Workouts)
		out.Workouts = append(out.Workouts, p)
	}
	return out, nil
}

func parseRow(field func(string) string, year int) (model.PlannedWorkout, error) {
	d, err := parsePlanDate(field(ColDate), year)
	if err != nil {
		return model.PlannedWorkout{}, err
	}
	typ := field(ColType)
	if typ == "" {
		return model.PlannedWorkout{}, fmt.Errorf("%w: workout type is empty", model.ErrMalformed)
	}
	dist, err := ParseDistance(field(ColDistance))
	if err != nil {
		return model.PlannedWorkout{}, err
	}
	return model.PlannedWorkout{
		ID:                     WorkoutID(d, typ),
		Date:                   d,
		WorkoutType:            typ,
		Details:                field(ColDetails),
		Notes:                  field(ColNotes),
		PlannedDurationMinutes: ParseDuration(field(ColDuration)),
		PlannedDistanceMiles:   dist,
	}, nil
}

func parsePlanDate(s string, year int) (model.Date, error) {
	if s == "" {
		return model.Date{}, fmt.Errorf("%w: date is empty", model.ErrMalformed)
	}
	if d, err := model.ParseDate(s); err == nil {
		return d, nil
	}
	month, day, ok := strings.Cut(s, "-")
	if !ok {
		return model.Date{}, fmt.Errorf("%w: bad date %q", model.ErrMalformed, s)
	}
	m, err1 := strconv.Atoi(month)
	dd, err2 := strconv.Atoi(day)
	if err1 != nil || err2 != nil {
		return model.Date{}, fmt.Errorf("%w: bad date %q", model.ErrMalformed, s)
	}
	d, err := model.ParseDate(fmt.Sprintf("%04d-%02d-%02d", year, m, dd))
	if err != nil {
		return model.Date{}, fmt.Errorf("%w: bad date %q", model.ErrMalformed, s)
	}
	return d, nil
}

// ParseDuration extracts minutes from "45min" or "30-35min" (first number).
// Empty and "0" mean no planned duration.
func ParseDuration(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return nil
	}
	m := firstInt.FindString(s)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// ParseDistance parses miles; a range such as "3-4" yields its midpoint.
// Empty and "0" mean no planned distance.
func ParseDistance(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return nil, nil
	}
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		a, err1 := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		b, err2 := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%w: bad distance %q", model.ErrMalformed, s)
		}
		v := (a + b) / 2
		return &v, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad distance %q", model.ErrMalformed, s)
	}
	if v == 0 {
		return nil, nil
	}
	return &v, nil
}

// WorkoutID derives the stable planned id "<date>-<slug>".
func WorkoutID(d model.Date, workoutType string) string {
	slug := strings.ToLower(strings.TrimSpace(workoutType))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.NewReplacer("(", "", ")", "").Replace(slug)
	return d.String() + "-" + slug
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

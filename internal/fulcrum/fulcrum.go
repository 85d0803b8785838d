// Package fulcrum exports tracker activities as records of a Fulcrum form.
package fulcrum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	polyline "github.com/twpayne/go-polyline"

	"traincal/internal/config"
	appLog "traincal/internal/log"
	"traincal/internal/metrics"
	"traincal/internal/strava"
	"traincal/internal/units"
)

// Form field data names.
const (
	fieldName        = "7980"
	fieldDate        = "2d48"
	fieldType        = "3200"
	fieldMiles       = "9000"
	fieldCalories    = "b890"
	fieldPace        = "1acf"
	fieldAvgHR       = "2050"
	fieldMaxHR       = "4c8d"
	fieldStartTime   = "cca0"
	fieldElapsed     = "0880"
	fieldMoving      = "2180"
	fieldDescription = "e2d0"
	fieldElevGain    = "4840"
	fieldElevLow     = "d000"
	fieldElevHigh    = "6767"
	fieldAvgTemp     = "3350"
)

// LineString is a GeoJSON LineString geometry. Coordinates are [lon, lat].
type LineString struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

// Record is the body posted to the records endpoint.
type Record struct {
	FormID     string            `json:"form_id,omitempty"`
	Geometry   *LineString       `json:"geometry"`
	FormValues map[string]string `json:"form_values"`
}

type recordEnvelope struct {
	Record Record `json:"record"`
}

// Route decodes an encoded polyline into a LineString. It returns nil when
// the activity has no route.
func Route(encoded string) (*LineString, error) {
	if encoded == "" {
		return nil, nil
	}
	points, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	ls := &LineString{Type: "LineString", Coordinates: make([][]float64, 0, len(points))}
	for _, p := range points {
		ls.Coordinates = append(ls.Coordinates, []float64{p[1], p[0]})
	}
	return ls, nil
}

// BuildRecord maps an activity onto the form's fields in imperial units.
// Fields without a value are omitted; every value is a string. Whole-number
// fields round half to even.
func BuildRecord(a strava.Activity) Record {
	v := map[string]string{}
	set := func(key, val string) {
		if val != "" {
			v[key] = val
		}
	}
	setRounded := func(key string, f *float64) {
		if f != nil {
			v[key] = strconv.FormatFloat(math.RoundToEven(*f), 'f', 0, 64)
		}
	}
	feet := func(m *float64) *float64 {
		if m == nil {
			return nil
		}
		ft := units.RoundTo(units.MetersToFeet(*m), 1)
		return &ft
	}

	set(fieldName, a.Name)
	set(fieldDate, slice(a.StartDateLocal, 0, 10))
	set(fieldType, a.Type)
	v[fieldMiles] = formatFloat(units.RoundTo(units.MetersToMiles(a.Distance), 2))
	setRounded(fieldCalories, a.Calories)
	set(fieldPace, units.PacePerMile(a.MovingTime, a.Distance))
	setRounded(fieldAvgHR, a.AverageHeartrate)
	setRounded(fieldMaxHR, a.MaxHeartrate)
	set(fieldStartTime, slice(a.StartDateLocal, 11, 19))
	v[fieldElapsed] = units.HMS(a.ElapsedTime)
	v[fieldMoving] = units.HMS(a.MovingTime)
	set(fieldDescription, a.Description)
	setRounded(fieldElevGain, feet(a.TotalElevationGain))
	setRounded(fieldElevLow, feet(a.ElevLow))
	setRounded(fieldElevHigh, feet(a.ElevHigh))
	if a.AverageTemp != nil {
		v[fieldAvgTemp] = formatFloat(units.RoundTo(units.CelsiusToFahrenheit(*a.AverageTemp), 1))
	}

	return Record{FormValues: v}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// slice returns s[from:to] clipped to the string's length.
func slice(s string, from, to int) string {
	if len(s) <= from {
		return ""
	}
	return s[from:min(to, len(s))]
}

// Exporter creates Fulcrum records.
type Exporter struct {
	http    *http.Client
	baseURL string
	formID  string
	token   string
}

// NewExporter returns an exporter for the configured form.
func NewExporter(cfg config.FulcrumConfig) *Exporter {
	return &Exporter{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		formID:  cfg.FormID,
		token:   cfg.APIToken,
	}
}

// Export creates one record for the activity in the configured form.
func (e *Exporter) Export(ctx context.Context, a strava.Activity) error {
	err := e.export(ctx, a)
	switch {
	case err == nil:
		metrics.RecordExport("created")
		appLog.Info("fulcrum record created", "activity_id", a.ID)
	case errors.Is(err, ErrRejected):
		metrics.RecordExport("rejected")
		appLog.Error("fulcrum record rejected", err, "activity_id", a.ID)
	default:
		metrics.RecordExport("error")
		appLog.Error("fulcrum export failed", err, "activity_id", a.ID)
	}
	return err
}

// ErrRejected is returned when the API answers with anything but 201.
var ErrRejected = errors.New("fulcrum rejected record")

func (e *Exporter) export(ctx context.Context, a strava.Activity) error {
	rec := BuildRecord(a)
	rec.FormID = e.formID
	geom, err := Route(a.Map.SummaryPolyline)
	if err != nil {
		appLog.Warn("activity route dropped", "activity_id", a.ID, "reason", err.Error())
	}
	rec.Geometry = geom

	body, err := json.Marshal(recordEnvelope{Record: rec})
	if err != nil {
		return err
	}
	appLog.Debug("fulcrum payload", "activity_id", a.ID, "fields", len(rec.FormValues), "route", geom != nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/v2/records.json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-ApiToken", e.token)

	resp, err := e.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%w: %s: %s", ErrRejected, resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

package strava

import (
	"encoding/json"

	"traincal/internal/model"
)

// Activity is the subset of the tracker's activity representation used by
// ingestion and record export.
type Activity struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	Description        string   `json:"description"`
	StartDate          string   `json:"start_date"`
	StartDateLocal     string   `json:"start_date_local"`
	Distance           float64  `json:"distance"`
	MovingTime         float64  `json:"moving_time"`
	ElapsedTime        float64  `json:"elapsed_time"`
	AverageHeartrate   *float64 `json:"average_heartrate"`
	MaxHeartrate       *float64 `json:"max_heartrate"`
	Calories           *float64 `json:"calories"`
	TotalElevationGain *float64 `json:"total_elevation_gain"`
	ElevLow            *float64 `json:"elev_low"`
	ElevHigh           *float64 `json:"elev_high"`
	AverageTemp        *float64 `json:"average_temp"`
	Map                struct {
		SummaryPolyline string `json:"summary_polyline"`
	} `json:"map"`

	payload []byte
}

// ParseActivity decodes one activity and keeps the payload for Record.
func ParseActivity(payload []byte) (Activity, error) {
	var a Activity
	if err := json.Unmarshal(payload, &a); err != nil {
		return Activity{}, err
	}
	a.payload = append([]byte(nil), payload...)
	return a, nil
}

// Record converts the activity into an ingestion record.
func (a Activity) Record() (model.ActivityRecord, error) {
	if a.payload == nil {
		data, err := json.Marshal(a)
		if err != nil {
			return model.ActivityRecord{}, err
		}
		return ToRecord(data)
	}
	return ToRecord(a.payload)
}

package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Logical table names understood by the source catalog.
const (
	TableCrashes = "crashes"
	TablePerson  = "person"
)

// ReplaceResult counts the rows touched by one day's replace.
type ReplaceResult struct {
	Deleted  int64
	Inserted int64
}

// DailyAggregate is one calendar day of collision counts.
type DailyAggregate struct {
	Date           time.Time
	Crashes        int64
	PeopleInvolved int64
}

// TrainingPoint is one observation of the forecast target.
type TrainingPoint struct {
	DS time.Time
	Y  float64
}

// TrainingFrame projects aggregates onto the crash-count series. Days that
// only appear in the person table carry no crash count and are skipped.
func TrainingFrame(aggs []DailyAggregate) []TrainingPoint {
	frame := make([]TrainingPoint, 0, len(aggs))
	for _, a := range aggs {
		if a.Crashes <= 0 {
			continue
		}
		frame = append(frame, TrainingPoint{DS: Day(a.Date), Y: float64(a.Crashes)})
	}
	return frame
}

// DistinctDates counts distinct calendar dates with a usable y value.
func DistinctDates(frame []TrainingPoint) int {
	seen := make(map[time.Time]struct{}, len(frame))
	for _, p := range frame {
		if math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
			continue
		}
		seen[Day(p.DS)] = struct{}{}
	}
	return len(seen)
}

// ForecastRow is one forecasted day.
type ForecastRow struct {
	DS        time.Time `json:"ds"`
	YHat      float64   `json:"yhat"`
	YHatLower float64   `json:"yhat_lower"`
	YHatUpper float64   `json:"yhat_upper"`
}

type forecastRowJSON struct {
	DS        string  `json:"ds"`
	YHat      float64 `json:"yhat"`
	YHatLower float64 `json:"yhat_lower"`
	YHatUpper float64 `json:"yhat_upper"`
}

// MarshalJSON renders ds as a plain calendar date.
func (r ForecastRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(forecastRowJSON{
		DS:        FormatDate(r.DS),
		YHat:      r.YHat,
		YHatLower: r.YHatLower,
		YHatUpper: r.YHatUpper,
	})
}

// UnmarshalJSON accepts ds as a plain calendar date.
func (r *ForecastRow) UnmarshalJSON(b []byte) error {
	var raw forecastRowJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ds, err := ParseDate(raw.DS)
	if err != nil {
		return err
	}
	*r = ForecastRow{DS: ds, YHat: raw.YHat, YHatLower: raw.YHatLower, YHatUpper: raw.YHatUpper}
	return nil
}

// DaySummary compares one day's actual crash count against its forecast.
type DaySummary struct {
	Date    string   `json:"date"`
	Crashes *int64   `json:"crashes"`
	YHat    float64  `json:"yhat"`
	Delta   *float64 `json:"delta"`
}

// NewDaySummary rounds the forecast and computes the delta when the day has
// an actual count.
func NewDaySummary(day time.Time, crashes *int64, yhat float64) DaySummary {
	s := DaySummary{Date: FormatDate(day), Crashes: crashes, YHat: math.Round(yhat)}
	if crashes != nil {
		delta := math.Round(float64(*crashes) - yhat)
		s.Delta = &delta
	}
	return s
}

// TimeseriesPoint is one dashboard chart point: actuals joined with the forecast.
type TimeseriesPoint struct {
	Date           string  `json:"crash_date"`
	PeopleInvolved int64   `json:"people_involved"`
	Crashes        int64   `json:"crashes"`
	YHat           float64 `json:"yhat"`
	LowerBound     float64 `json:"lower_bound"`
	UpperBound     float64 `json:"upper_bound"`
}

// Injury classes for map points.
const (
	InjuryOnly        = "Injury"
	InjuryAndDeath    = "Injury+Death"
	DeathOnly         = "Death"
	InjuryUnspecified = "Unspecified"
)

// CollisionPoint is one geolocated collision for the dashboard map.
type CollisionPoint struct {
	CollisionID    int64   `json:"collision_id"`
	CrashTime      string  `json:"crash_time"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	PeopleInvolved int64   `json:"people_involved"`
	Injured        int64   `json:"number_of_persons_injured"`
	Killed         int64   `json:"number_of_persons_killed"`
	PersonInjury   string  `json:"person_injury"`
}

// ClassifyInjury labels a collision by its injury and death counts.
func ClassifyInjury(injured, killed int64) string {
	switch {
	case injured > 0 && killed == 0:
		return InjuryOnly
	case injured > 0 && killed > 0:
		return InjuryAndDeath
	case injured == 0 && killed > 0:
		return DeathOnly
	default:
		return InjuryUnspecified
	}
}

// ForecastEvent announces a newly written forecast to downstream consumers.
type ForecastEvent struct {
	RunID     string      `json:"run_id"`
	Cutoff    string      `json:"cutoff"`
	ModelKey  string      `json:"model_key"`
	Forecast  ForecastRow `json:"forecast"`
	CreatedAt time.Time   `json:"created_at"`
}

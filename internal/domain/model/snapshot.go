package model

import (
	"encoding/json"
	"fmt"
)

// Snapshot is a locally held record set for a source that has no API the hub
// can call. It is advisory: nothing guarantees it is current.
type Snapshot struct {
	Activity  []ActivityRecord  `json:"activity"`
	Sleep     []SleepRecord     `json:"sleep"`
	HeartRate []HeartRateRecord `json:"heart_rate"`
	Nutrition []NutritionRecord `json:"nutrition"`
	Water     []WaterRecord     `json:"water"`
	Weight    []WeightRecord    `json:"weight"`
}

// SnapshotEntry is one record of a snapshot with its storage coordinates.
type SnapshotEntry struct {
	Category Category
	Key      RecordKey
	Record   any
}

// Len counts all records in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Activity) + len(s.Sleep) + len(s.HeartRate) + len(s.Nutrition) + len(s.Water) + len(s.Weight)
}

// Span returns the first and last record dates in the snapshot. ok is false
// for an empty snapshot.
func (s Snapshot) Span() (first, last string, ok bool) {
	for _, e := range s.Entries() {
		if !ok || e.Key.Date < first {
			first = e.Key.Date
		}
		if !ok || e.Key.Date > last {
			last = e.Key.Date
		}
		ok = true
	}
	return first, last, ok
}

// Entries flattens the snapshot for storage.
func (s Snapshot) Entries() []SnapshotEntry {
	out := make([]SnapshotEntry, 0, s.Len())
	for _, rec := range s.Activity {
		out = append(out, SnapshotEntry{CategoryActivity, rec.Key(), rec})
	}
	for _, rec := range s.Sleep {
		out = append(out, SnapshotEntry{CategorySleep, rec.Key(), rec})
	}
	for _, rec := range s.HeartRate {
		out = append(out, SnapshotEntry{CategoryHeartRate, rec.Key(), rec})
	}
	for _, rec := range s.Nutrition {
		out = append(out, SnapshotEntry{CategoryNutrition, rec.Key(), rec})
	}
	for _, rec := range s.Water {
		out = append(out, SnapshotEntry{CategoryWater, rec.Key(), rec})
	}
	for _, rec := range s.Weight {
		out = append(out, SnapshotEntry{CategoryWeight, rec.Key(), rec})
	}
	return out
}

// Append adds an already-decoded entry back into the snapshot.
func (s *Snapshot) Append(e SnapshotEntry) {
	switch rec := e.Record.(type) {
	case ActivityRecord:
		s.Activity = append(s.Activity, rec)
	case SleepRecord:
		s.Sleep = append(s.Sleep, rec)
	case HeartRateRecord:
		s.HeartRate = append(s.HeartRate, rec)
	case NutritionRecord:
		s.Nutrition = append(s.Nutrition, rec)
	case WaterRecord:
		s.Water = append(s.Water, rec)
	case WeightRecord:
		s.Weight = append(s.Weight, rec)
	}
}

// AppendEncoded decodes a JSON payload stored under category and appends it.
func (s *Snapshot) AppendEncoded(category Category, payload []byte) error {
	var err error
	switch category {
	case CategoryActivity:
		var rec ActivityRecord
		if err = json.Unmarshal(payload, &rec); err == nil {
			s.Activity = append(s.Activity, rec)
		}
	case CategorySleep:
		var rec SleepRecord
		if err = json.Unmarshal(payload, &rec); err == nil {
			s.Sleep = append(s.Sleep, rec)
		}
	case CategoryHeartRate:
		var rec HeartRateRecord
		if err = json.Unmarshal(payload, &rec); err == nil {
			s.HeartRate = append(s.HeartRate, rec)
		}
	case CategoryNutrition:
		var rec NutritionRecord
		if err = json.Unmarshal(payload, &rec); err == nil {
			s.Nutrition = append(s.Nutrition, rec)
		}
	case CategoryWater:
		var rec WaterRecord
		if err = json.Unmarshal(payload, &rec); err == nil {
			s.Water = append(s.Water, rec)
		}
	case CategoryWeight:
		var rec WeightRecord
		if err = json.Unmarshal(payload, &rec); err == nil {
			s.Weight = append(s.Weight, rec)
		}
	default:
		return fmt.Errorf("unknown snapshot category %q", category)
	}
	if err != nil {
		return fmt.Errorf("decode %s snapshot record: %w", category, err)
	}
	return nil
}

// WithSource returns a copy of s with every record tagged with source and
// sleep efficiency clamped to a percentage.
func (s Snapshot) WithSource(source Provider) Snapshot {
	out := Snapshot{
		Activity:  make([]ActivityRecord, len(s.Activity)),
		Sleep:     make([]SleepRecord, len(s.Sleep)),
		HeartRate: make([]HeartRateRecord, len(s.HeartRate)),
		Nutrition: make([]NutritionRecord, len(s.Nutrition)),
		Water:     make([]WaterRecord, len(s.Water)),
		Weight:    make([]WeightRecord, len(s.Weight)),
	}
	for i, r := range s.Activity {
		r.Source = source
		out.Activity[i] = r
	}
	for i, r := range s.Sleep {
		r.Source = source
		r.EfficiencyPercent = ClampPercent(r.EfficiencyPercent)
		out.Sleep[i] = r
	}
	for i, r := range s.HeartRate {
		r.Source = source
		out.HeartRate[i] = r
	}
	for i, r := range s.Nutrition {
		r.Source = source
		out.Nutrition[i] = r
	}
	for i, r := range s.Water {
		r.Source = source
		out.Water[i] = r
	}
	for i, r := range s.Weight {
		r.Source = source
		out.Weight[i] = r
	}
	return out
}

package engine

import "github.com/arjunsheth/auctioncore/internal/config"

// Band is a half-open price range [Min, Max) with a minimum bid step.
// Max == 0 marks the open-ended top band.
type Band struct {
	Min  int64
	Max  int64
	Step int64
}

// Schedule maps a current price to the minimum next bid. Bands are sorted
// ascending by Min. A price above the highest band uses that band's step.
type Schedule struct {
	bands    []Band
	constant int64
}

// DefaultBands is the normative banded increment schedule (money in paise).
var DefaultBands = []Band{
	{Min: 0, Max: 2_000_000, Step: 100_000},
	{Min: 2_000_000, Max: 10_000_000, Step: 250_000},
	{Min: 10_000_000, Max: 50_000_000, Step: 1_000_000},
	{Min: 50_000_000, Max: 200_000_000, Step: 2_500_000},
	{Min: 200_000_000, Max: 0, Step: 2_500_000},
}

// NewSchedule builds a Schedule from explicit bands.
func NewSchedule(bands []Band) Schedule {
	if len(bands) == 0 {
		bands = DefaultBands
	}
	return Schedule{bands: bands}
}

// ConstantSchedule builds a flat-increment Schedule.
func ConstantSchedule(step int64) Schedule {
	return Schedule{constant: step}
}

// ScheduleFromSettings derives the schedule an auction runs under. The
// banded schedule is the default; a positive constant_increment opts into
// the flat path.
func ScheduleFromSettings(s config.AuctionSettings) Schedule {
	if s.ConstantIncrement > 0 {
		return ConstantSchedule(s.ConstantIncrement)
	}
	if len(s.IncrementBands) == 0 {
		return NewSchedule(DefaultBands)
	}
	bands := make([]Band, 0, len(s.IncrementBands))
	for _, t := range s.IncrementBands {
		bands = append(bands, Band{Min: t[0], Max: t[1], Step: t[2]})
	}
	return NewSchedule(bands)
}

// StepAt returns the step of the band containing price p.
func (s Schedule) StepAt(p int64) int64 {
	if s.constant > 0 {
		return s.constant
	}
	step := s.bands[len(s.bands)-1].Step
	for _, b := range s.bands {
		if p >= b.Min && (b.Max == 0 || p < b.Max) {
			step = b.Step
			break
		}
	}
	return step
}

// MinNextBid returns the minimum admissible bid after current price p.
func (s Schedule) MinNextBid(p int64) int64 {
	return p + s.StepAt(p)
}

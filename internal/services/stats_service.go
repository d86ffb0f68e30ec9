package services

import (
	"context"
	"math"
	"sort"

	"github.com/soaringjerry/csat/internal/models"
)

type StatsStore interface {
	ListSubmissionsAscending(ctx context.Context) ([]models.Submission, error)
}

type StatsService struct {
	store   StatsStore
	catalog QuestionSource
}

// SeriesPoint is one submission on the score timeline; T is epoch millis.
type SeriesPoint struct {
	T       int64   `json:"t"`
	Overall float64 `json:"overall"`
	Onboard float64 `json:"onboard"`
	Ashore  float64 `json:"ashore"`
}

type KPIs struct {
	Count      int     `json:"count"`
	AvgOverall float64 `json:"avgOverall"`
	AvgOnboard float64 `json:"avgOnboard"`
	AvgAshore  float64 `json:"avgAshore"`
	Best       float64 `json:"best"`
	Worst      float64 `json:"worst"`
	LastAt     int64   `json:"lastAt,omitempty"`
}

// AreaAverage averages a service area's percent over the submissions that
// scored it at all.
type AreaAverage struct {
	Area    string         `json:"area"`
	Section models.Section `json:"section"`
	Avg     float64        `json:"avg"`
	N       int            `json:"n"`
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type StatsSummary struct {
	Series []SeriesPoint `json:"series"`
	KPIs   KPIs          `json:"kpis"`
	Areas  []AreaAverage `json:"areas"`
	Daily  []DailyCount  `json:"daily"`
	Alpha  float64       `json:"alpha"`
	N      int           `json:"n"`
}

func NewStatsService(store StatsStore, catalog QuestionSource) *StatsService {
	return &StatsService{store: store, catalog: catalog}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) { m.sum += v; m.n++ }

func (m mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return round2(m.sum / float64(m.n))
}

// Summary aggregates every stored submission. Averages only include
// submissions with a non-empty bucket, so an all-irrelevant section does not
// drag its average to 0.
func (s *StatsService) Summary(ctx context.Context) (*StatsSummary, error) {
	subs, err := s.store.ListSubmissionsAscending(ctx)
	if err != nil {
		return nil, err
	}
	out := &StatsSummary{
		Series: make([]SeriesPoint, 0, len(subs)),
		Areas:  []AreaAverage{},
		Daily:  []DailyCount{},
	}
	var overall, onboard, ashore mean
	areas := map[string]*mean{}
	areaSection := map[string]models.Section{}
	days := map[string]int{}
	first := true

	for _, sub := range subs {
		sc := sub.Scores
		out.Series = append(out.Series, SeriesPoint{
			T: sub.CreatedAtMillis(), Overall: sc.Overall, Onboard: sc.Onboard, Ashore: sc.Ashore,
		})
		days[sub.CreatedAt.UTC().Format("2006-01-02")]++
		if sc.Raw.TotalMax > 0 {
			overall.add(sc.Overall)
			if first || sc.Overall > out.KPIs.Best {
				out.KPIs.Best = sc.Overall
			}
			if first || sc.Overall < out.KPIs.Worst {
				out.KPIs.Worst = sc.Overall
			}
			first = false
		}
		if sc.Raw.OnboardMax > 0 {
			onboard.add(sc.Onboard)
		}
		if sc.Raw.AshoreMax > 0 {
			ashore.add(sc.Ashore)
		}
		for area, as := range sc.Breakdown {
			if as.Max <= 0 {
				continue
			}
			m, ok := areas[area]
			if !ok {
				m = &mean{}
				areas[area] = m
				areaSection[area] = as.Section
			}
			m.add(as.Percent)
		}
	}

	out.KPIs.Count = len(subs)
	out.KPIs.AvgOverall = overall.value()
	out.KPIs.AvgOnboard = onboard.value()
	out.KPIs.AvgAshore = ashore.value()
	if len(subs) > 0 {
		out.KPIs.LastAt = subs[len(subs)-1].CreatedAtMillis()
	}

	out.Areas = s.orderAreas(areas, areaSection)

	dates := make([]string, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		out.Daily = append(out.Daily, DailyCount{Date: d, Count: days[d]})
	}

	matrix, _ := SatisfactionMatrix(s.catalog.Questions(), subs)
	out.Alpha = round2(CronbachAlpha(matrix))
	out.N = len(matrix)
	return out, nil
}

// orderAreas lists areas in catalog order, then any no longer in the
// catalog alphabetically.
func (s *StatsService) orderAreas(areas map[string]*mean, sections map[string]models.Section) []AreaAverage {
	out := make([]AreaAverage, 0, len(areas))
	seen := map[string]bool{}
	for _, q := range s.catalog.Questions() {
		if m, ok := areas[q.ServiceArea]; ok && !seen[q.ServiceArea] {
			seen[q.ServiceArea] = true
			out = append(out, AreaAverage{Area: q.ServiceArea, Section: sections[q.ServiceArea], Avg: m.value(), N: m.n})
		}
	}
	var rest []string
	for area := range areas {
		if !seen[area] {
			rest = append(rest, area)
		}
	}
	sort.Strings(rest)
	for _, area := range rest {
		m := areas[area]
		out = append(out, AreaAverage{Area: area, Section: sections[area], Avg: m.value(), N: m.n})
	}
	return out
}

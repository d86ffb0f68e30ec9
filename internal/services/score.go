package services

import (
	"math"

	"github.com/soaringjerry/csat/internal/models"
)

// SatisfactionMax is the top of the satisfaction slider and of the quantized scale.
const SatisfactionMax = 5

// ImportanceWeight returns the multiplier for an importance level, or 0 for
// an unrecognized one.
func ImportanceWeight(imp models.Importance) int {
	switch imp {
	case models.ImportanceHigh:
		return 3
	case models.ImportanceMedium:
		return 2
	case models.ImportanceLow:
		return 1
	}
	return 0
}

// QuantizeSatisfaction collapses the 0..5 slider into the three rating tiers
// Low (1), Acceptable (3) and High (5). Out-of-range input is clamped.
func QuantizeSatisfaction(raw int) int {
	if raw < 0 {
		raw = 0
	}
	if raw > SatisfactionMax {
		raw = SatisfactionMax
	}
	switch {
	case raw <= 2:
		return 1
	case raw == 3:
		return 3
	default:
		return 5
	}
}

// Percent returns score/outOf as a percentage rounded to two decimals, or 0
// when outOf is 0.
func Percent(score, outOf int) float64 {
	if outOf == 0 {
		return 0
	}
	return math.Round(float64(score)/float64(outOf)*10000) / 100
}

type bucket struct {
	score, max int
}

func (b *bucket) add(score, outOf int) {
	b.score += score
	b.max += outOf
}

// ComputeScores scores answers against the catalog. Questions are walked in
// catalog order; answers without a matching question, irrelevant answers and
// answers with an unknown importance contribute nothing. When an answer code
// repeats, the last one wins.
func ComputeScores(questions []models.Question, answers []models.Answer) models.ScoreReport {
	byCode := make(map[string]models.Answer, len(answers))
	for _, a := range answers {
		byCode[a.Code] = a
	}

	var total, onboard, ashore bucket
	areas := map[string]*models.AreaScore{}

	for _, q := range questions {
		a, ok := byCode[q.Code]
		if !ok || !a.Relevant {
			continue
		}
		w := ImportanceWeight(a.Importance)
		if w == 0 {
			continue
		}
		sat := 0
		if a.Satisfaction != nil {
			sat = *a.Satisfaction
		}
		score := QuantizeSatisfaction(sat) * w
		outOf := SatisfactionMax * w

		total.add(score, outOf)
		switch q.Section {
		case models.SectionOnboard:
			onboard.add(score, outOf)
		case models.SectionAshore:
			ashore.add(score, outOf)
		}

		area := areas[q.ServiceArea]
		if area == nil {
			area = &models.AreaScore{Section: q.Section}
			areas[q.ServiceArea] = area
		}
		area.Score += score
		area.Max += outOf
	}

	breakdown := make(map[string]models.AreaScore, len(areas))
	for name, a := range areas {
		a.Percent = Percent(a.Score, a.Max)
		breakdown[name] = *a
	}

	return models.ScoreReport{
		Overall: Percent(total.score, total.max),
		Onboard: Percent(onboard.score, onboard.max),
		Ashore:  Percent(ashore.score, ashore.max),
		Raw: models.RawScores{
			TotalScore:   total.score,
			TotalMax:     total.max,
			OnboardScore: onboard.score,
			OnboardMax:   onboard.max,
			AshoreScore:  ashore.score,
			AshoreMax:    ashore.max,
		},
		Breakdown: breakdown,
	}
}

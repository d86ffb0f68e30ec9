package services

import "github.com/soaringjerry/csat/internal/models"

// CronbachAlpha computes Cronbach's alpha for a [respondents][items] matrix
// using population variance throughout, clamped to [0,1]. Fewer than two
// respondents or items, ragged rows or a zero total variance give 0.
func CronbachAlpha(matrix [][]float64) float64 {
	n := len(matrix)
	if n < 2 {
		return 0
	}
	k := len(matrix[0])
	if k < 2 {
		return 0
	}
	totals := make([]float64, n)
	var sumItemVars float64
	for j := 0; j < k; j++ {
		col := make([]float64, n)
		for i, row := range matrix {
			if len(row) != k {
				return 0
			}
			col[i] = row[j]
			totals[i] += row[j]
		}
		sumItemVars += variance(col)
	}
	totalVar := variance(totals)
	if totalVar == 0 {
		return 0
	}
	kf := float64(k)
	alpha := (kf / (kf - 1)) * (1 - sumItemVars/totalVar)
	switch {
	case alpha < 0:
		return 0
	case alpha > 1:
		return 1
	}
	return alpha
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}

// SatisfactionMatrix builds the alpha input from quantized satisfaction of
// the catalog questions that every submission answered as relevant. It
// returns the matrix and the question codes of its columns, in catalog order.
func SatisfactionMatrix(questions []models.Question, subs []models.Submission) ([][]float64, []string) {
	if len(subs) == 0 {
		return nil, nil
	}
	perSub := make([]map[string]int, len(subs))
	for i, sub := range subs {
		m := make(map[string]int, len(sub.Answers))
		for _, a := range sub.Answers {
			delete(m, a.Code)
			if a.Relevant && a.Satisfaction != nil {
				if ImportanceWeight(a.Importance) > 0 {
					m[a.Code] = QuantizeSatisfaction(*a.Satisfaction)
				}
			}
		}
		perSub[i] = m
	}
	var codes []string
	for _, q := range questions {
		all := true
		for _, m := range perSub {
			if _, ok := m[q.Code]; !ok {
				all = false
				break
			}
		}
		if all {
			codes = append(codes, q.Code)
		}
	}
	if len(codes) == 0 {
		return nil, nil
	}
	matrix := make([][]float64, len(subs))
	for i, m := range perSub {
		row := make([]float64, len(codes))
		for j, c := range codes {
			row[j] = float64(m[c])
		}
		matrix[i] = row
	}
	return matrix, codes
}

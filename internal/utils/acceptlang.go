package utils

import (
	"sort"
	"strconv"
	"strings"
)

type langRange struct {
	tag string
	q   float64
}

// parseAcceptLanguage splits an Accept-Language header into tags ordered by
// descending quality. Malformed q values count as 0; header order breaks ties.
func parseAcceptLanguage(header string) []langRange {
	var out []langRange
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tag, params, _ := strings.Cut(part, ";")
		lr := langRange{tag: strings.ToLower(strings.TrimSpace(tag)), q: 1}
		if params != "" {
			lr.q = 0
			for _, p := range strings.Split(params, ";") {
				k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
				if !ok || strings.TrimSpace(k) != "q" {
					continue
				}
				if q, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && q >= 0 && q <= 1 {
					lr.q = q
				}
			}
		}
		if lr.tag != "" && lr.q > 0 {
			out = append(out, lr)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].q > out[j].q })
	return out
}

// DetermineLocale resolves the response locale: an explicit ?lang wins, then
// the best Accept-Language match, then def, then the first supported locale.
// Region subtags match their base language (zh-CN -> zh).
func DetermineLocale(queryLang, acceptLang string, supported []string, def string) string {
	match := func(tag string) (string, bool) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			return "", false
		}
		base, _, _ := strings.Cut(tag, "-")
		for _, s := range supported {
			s = strings.ToLower(s)
			if s == tag || s == base {
				return s, true
			}
		}
		return "", false
	}

	if l, ok := match(queryLang); ok {
		return l
	}
	for _, lr := range parseAcceptLanguage(acceptLang) {
		if l, ok := match(lr.tag); ok {
			return l
		}
	}
	if l, ok := match(def); ok {
		return l
	}
	if len(supported) > 0 {
		return strings.ToLower(supported[0])
	}
	return "en"
}

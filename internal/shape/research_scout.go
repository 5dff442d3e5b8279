package shape

import "regexp"

// ResearchScout shapes requests for research_scout_agent: a `data` object
// with topic/keywords/year_range/max_results, the topic falling back to
// the raw query text.
type ResearchScout struct{}

var yearPattern = regexp.MustCompile(`\d{4}`)

func (ResearchScout) Shape(rawRequest string, params map[string]interface{}) map[string]interface{} {
	topic := strParam(params, "topic")
	if topic == "" {
		topic = rawRequest
	}

	data := map[string]interface{}{
		"topic":       topic,
		"keywords":    stringListOrEmpty(params["keywords"]),
		"max_results": intParam(params, 10, "max_results"),
	}

	if yr := normalizeYearRange(params); yr != nil {
		data["year_range"] = yr
	}

	return map[string]interface{}{
		"request": rawRequest,
		"data":    data,
	}
}

func stringListOrEmpty(v interface{}) []string {
	if l := stringList(v); l != nil {
		return l
	}
	return []string{}
}

// normalizeYearRange accepts every shape the intent identifier might
// plausibly produce: {from,to}, {from_year,to_year}, {start_year,end_year},
// or a bare string like "2019-2023" / "2019 to 2023" with the first two
// 4-digit years extracted.
func normalizeYearRange(params map[string]interface{}) map[string]string {
	raw, ok := params["year_range"]
	if !ok {
		raw, ok = params["yearRange"]
	}
	if ok {
		if m, ok := raw.(map[string]interface{}); ok {
			if from, to := pairFrom(m, "from", "to"); from != "" && to != "" {
				return map[string]string{"from": from, "to": to}
			}
			if from, to := pairFrom(m, "from_year", "to_year"); from != "" && to != "" {
				return map[string]string{"from": from, "to": to}
			}
			if from, to := pairFrom(m, "start_year", "end_year"); from != "" && to != "" {
				return map[string]string{"from": from, "to": to}
			}
		}
		if s, ok := raw.(string); ok {
			if yr := yearsFromString(s); yr != nil {
				return yr
			}
		}
	}

	if from, to := strParam(params, "from_year"), strParam(params, "to_year"); from != "" && to != "" {
		return map[string]string{"from": from, "to": to}
	}
	if from, to := strParam(params, "start_year"), strParam(params, "end_year"); from != "" && to != "" {
		return map[string]string{"from": from, "to": to}
	}
	if s := strParam(params, "date_range"); s != "" {
		if yr := yearsFromString(s); yr != nil {
			return yr
		}
	}
	return nil
}

func pairFrom(m map[string]interface{}, fromKey, toKey string) (string, string) {
	from, _ := m[fromKey].(string)
	to, _ := m[toKey].(string)
	return from, to
}

func yearsFromString(s string) map[string]string {
	matches := yearPattern.FindAllString(s, -1)
	if len(matches) < 2 {
		return nil
	}
	return map[string]string{"from": matches[0], "to": matches[1]}
}

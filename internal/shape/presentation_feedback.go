package shape

// PresentationFeedback shapes requests for presentation_feedback_agent:
// the transcript falls back to the raw request when not explicitly
// extracted, and a presentation id is minted fresh when absent.
type PresentationFeedback struct{}

func (PresentationFeedback) Shape(rawRequest string, params map[string]interface{}) map[string]interface{} {
	transcript := strParam(params, "transcript")
	if transcript == "" {
		transcript = rawRequest
	}

	presentationID := strParam(params, "presentation_id")
	if presentationID == "" {
		presentationID = newUUID()
	}

	focusAreas := stringList(params["focus_areas"])
	if focusAreas == nil {
		focusAreas = []string{"clarity", "pacing", "engagement", "material_relevance", "structure"}
	}

	return map[string]interface{}{
		"data": map[string]interface{}{
			"presentation_id": presentationID,
			"title":           strParamOr(params, "Untitled Presentation", "title"),
			"presenter_name":  strParamOr(params, "Anonymous", "presenter_name", "user_id"),
			"transcript":      transcript,
			"metadata": map[string]interface{}{
				"language":          strParamOr(params, "en", "language"),
				"duration_minutes":  params["duration_minutes"],
				"target_audience":   params["target_audience"],
				"presentation_type": params["presentation_type"],
			},
			"analysis_parameters": map[string]interface{}{
				"focus_areas":  focusAreas,
				"detail_level": strParamOr(params, "high", "detail_level"),
			},
		},
	}
}

package shape

// ConceptReinforcement shapes requests for concept_reinforcement_agent:
// weak_topics coerces a single string into a singleton list, and falls
// back to a bare "topic" param when weak_topics/topics are both absent.
type ConceptReinforcement struct{}

func (ConceptReinforcement) Shape(rawRequest string, params map[string]interface{}) map[string]interface{} {
	weakTopics := stringList(params["weak_topics"])
	if weakTopics == nil {
		weakTopics = stringList(params["topics"])
	}
	if weakTopics == nil {
		if topic := strParam(params, "topic"); topic != "" {
			weakTopics = []string{topic}
		}
	}
	if weakTopics == nil {
		weakTopics = []string{}
	}

	return map[string]interface{}{
		"agent_name": "concept_reinforcement_agent",
		"intent":     "generate_reinforcement_tasks",
		"payload": map[string]interface{}{
			"student_id":  strParamOr(params, "default_student", "student_id", "user_id"),
			"weak_topics": weakTopics,
			"preferences": map[string]interface{}{
				"learning_style": strParamOr(params, "visual", "learning_style"),
				"max_tasks":      intParam(params, 3, "max_tasks"),
			},
		},
	}
}

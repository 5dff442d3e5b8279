package shape

import "time"

// DailyRevisionProctor shapes requests for daily_revision_proctor_agent
// (the "proctor-ai" custom-endpoint worker): when no activity_log was
// extracted, it synthesizes a single entry for today's date.
type DailyRevisionProctor struct{}

func (DailyRevisionProctor) Shape(rawRequest string, params map[string]interface{}) map[string]interface{} {
	activityLog, _ := params["activity_log"].([]interface{})
	if len(activityLog) == 0 {
		activityLog = []interface{}{
			map[string]interface{}{
				"date":    time.Now().Format("2006-01-02"),
				"subject": strParamOr(params, "General Study", "subject"),
				"hours":   floatParam(params, 1.0, "hours"),
				"status":  "completed",
			},
		}
	}

	preferredTimes := stringList(params["preferred_times"])
	if preferredTimes == nil {
		preferredTimes = []string{"09:00", "14:00", "19:00"}
	}

	return map[string]interface{}{
		"student_id": strParamOr(params, "1", "student_id", "user_id"),
		"profile": map[string]interface{}{
			"name":  strParamOr(params, "Student", "name"),
			"grade": strParamOr(params, "N/A", "grade"),
		},
		"study_schedule": map[string]interface{}{
			"preferred_times":  preferredTimes,
			"daily_goal_hours": floatParam(params, 3.0, "daily_goal_hours"),
		},
		"activity_log": activityLog,
		"user_feedback": map[string]interface{}{
			"reminder_effectiveness": intParam(params, 4, "reminder_effectiveness"),
			"motivation_level":       strParamOr(params, "medium", "motivation_level"),
		},
		"context": map[string]interface{}{
			"request_type":  strParamOr(params, "analysis", "request_type"),
			"supervisor_id": "supervisor_main",
			"priority":      "normal",
		},
	}
}

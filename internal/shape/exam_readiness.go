package shape

import "strings"

var examDifficultyAlias = map[string]string{
	"beginner":     "easy",
	"intermediate": "medium",
	"advanced":     "hard",
}

// ExamReadiness shapes requests for exam_readiness_agent: both
// assessment_type and difficulty are clamped to the worker's enum, with
// common alternate names mapped rather than rejected, and type_counts
// defaults to an all-MCQ distribution.
type ExamReadiness struct{}

func (ExamReadiness) Shape(rawRequest string, params map[string]interface{}) map[string]interface{} {
	assessmentType := strings.ToLower(strParamOr(params, "quiz", "assessment_type"))
	if !isOneOf(assessmentType, "quiz", "exam", "assignment") {
		assessmentType = "quiz"
	}

	difficulty := strings.ToLower(strParamOr(params, "medium", "difficulty"))
	if !isOneOf(difficulty, "easy", "medium", "hard") {
		if mapped, ok := examDifficultyAlias[difficulty]; ok {
			difficulty = mapped
		} else {
			difficulty = "medium"
		}
	}

	questionCount := intParam(params, 5, "question_count", "num_questions")

	typeCounts, _ := params["type_counts"].(map[string]interface{})
	if len(typeCounts) == 0 {
		typeCounts = map[string]interface{}{"mcq": questionCount}
	}

	return map[string]interface{}{
		"subject":         strParamOr(params, "General", "subject", "topic"),
		"assessment_type": assessmentType,
		"difficulty":      difficulty,
		"question_count":  questionCount,
		"type_counts":     typeCounts,
		"allow_latex":     boolParam(params, true, "allow_latex"),
		"created_by":      strParamOr(params, "supervisor", "created_by"),
		"use_rag":         boolParam(params, false, "use_rag"),
		"export_pdf":      boolParam(params, false, "export_pdf"),
	}
}

func isOneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

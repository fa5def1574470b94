package llm

import "github.com/lucianodigital2b/clevernote-sub002/constants"

const (
	// SchemaStudyNote names the first-stage output.
	SchemaStudyNote = "study_note"
	// SchemaPageText names a vision transcription of page images.
	SchemaPageText = "page_text"
)

// Schemas are JSON-Schema (draft 2020-12 subset) maps. They are sent to the model as a
// constraint and used locally to validate.

func StudyNoteSchema() map[string]any {
	return object(map[string]any{
		"title":    str(1),
		"summary":  str(1),
		"content":  str(1),
		"language": map[string]any{"type": "string"},
	}, "title", "summary", "content")
}

func PageTextSchema() map[string]any {
	return object(map[string]any{
		"text": map[string]any{"type": "string"},
	}, "text")
}

func FlashcardsSchema() map[string]any {
	card := object(map[string]any{
		"front": str(1),
		"back":  str(1),
	}, "front", "back")
	return object(map[string]any{
		"cards": array(card, 1),
	}, "cards")
}

func QuizSchema() map[string]any {
	q := object(map[string]any{
		"question":     str(1),
		"options":      map[string]any{"type": "array", "items": str(1), "minItems": 2, "maxItems": 6},
		"answer_index": map[string]any{"type": "integer", "minimum": 0},
		"explanation":  map[string]any{"type": "string"},
	}, "question", "options", "answer_index")
	return object(map[string]any{
		"questions": array(q, 1),
	}, "questions")
}

func MindmapSchema() map[string]any {
	return map[string]any{
		"$defs": map[string]any{
			"node": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"label":    str(1),
					"children": map[string]any{"type": "array", "items": map[string]any{"$ref": "#/$defs/node"}},
				},
				"required": []string{"label"},
			},
		},
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"root": map[string]any{"$ref": "#/$defs/node"},
		},
		"required": []string{"root"},
	}
}

func CrosswordSchema() map[string]any {
	w := object(map[string]any{
		"answer": map[string]any{"type": "string", "minLength": 2, "pattern": `^[A-Za-z]+$`},
		"clue":   str(1),
	}, "answer", "clue")
	return object(map[string]any{
		"words": array(w, 3),
	}, "words")
}

func PodcastSchema() map[string]any {
	seg := object(map[string]any{
		"speaker": str(1),
		"text":    str(1),
	}, "speaker", "text")
	return object(map[string]any{
		"title":    str(1),
		"segments": array(seg, 2),
	}, "title", "segments")
}

// SchemaFor returns the schema registered under name, or nil.
func SchemaFor(name string) map[string]any {
	switch name {
	case SchemaStudyNote:
		return StudyNoteSchema()
	case SchemaPageText:
		return PageTextSchema()
	case string(constants.ArtifactFlashcards):
		return FlashcardsSchema()
	case string(constants.ArtifactQuiz):
		return QuizSchema()
	case string(constants.ArtifactMindmap):
		return MindmapSchema()
	case string(constants.ArtifactCrossword):
		return CrosswordSchema()
	case string(constants.ArtifactPodcast):
		return PodcastSchema()
	}
	return nil
}

func object(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func array(items map[string]any, minItems int) map[string]any {
	return map[string]any{"type": "array", "items": items, "minItems": minItems}
}

func str(minLen int) map[string]any {
	return map[string]any{"type": "string", "minLength": minLen}
}

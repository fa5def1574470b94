package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeJSONStripsFencesAndWrapper(t *testing.T) {
	raw := []byte("```json\n{\"data\": {\"cards\": [{\"question\": \" What is ATP? \", \"answer\": \"Energy currency\", \"hint\": \"x\"}]}}\n```")
	out, dropped, err := NormalizeJSON("flashcards", raw, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, dropped)
	assert.JSONEq(t, `{"cards":[{"front":"What is ATP?","back":"Energy currency"}]}`, string(out))
	require.NoError(t, ValidateJSONAgainstSchema(FlashcardsSchema(), out))
}

func TestNormalizeJSONQuizAnswerIndex(t *testing.T) {
	raw := []byte(`{"quiz":[
		{"question":"2+2?","choices":["3","4"],"answer_index":"1"},
		{"question":"Sky?","options":["Blue","Green"],"answer":"blue"},
		{"question":"Letter?","options":["a","b","c"],"answer_index":"C"}
	]}`)
	out, _, err := NormalizeJSON("quiz", raw, nil)
	require.NoError(t, err)
	require.NoError(t, ValidateJSONAgainstSchema(QuizSchema(), out))

	var q struct {
		Questions []struct {
			AnswerIndex int `json:"answer_index"`
		} `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(out, &q))
	require.Len(t, q.Questions, 3)
	assert.Equal(t, 1, q.Questions[0].AnswerIndex)
	assert.Equal(t, 0, q.Questions[1].AnswerIndex)
	assert.Equal(t, 2, q.Questions[2].AnswerIndex)
}

func TestNormalizeJSONTopLevelArray(t *testing.T) {
	out, _, err := NormalizeJSON("crossword", []byte(`[{"word":"cell-wall","clue":"a"},{"answer":"atp","clue":"b"},{"answer":"Mitosis","clue":"c"}]`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"words":[{"answer":"CELLWALL","clue":"a"},{"answer":"ATP","clue":"b"},{"answer":"MITOSIS","clue":"c"}]}`, string(out))
}

func TestNormalizeJSONMindmap(t *testing.T) {
	raw := []byte(`{"title":"Biology","nodes":[{"name":"Cells","subtopics":["Nucleus"]}],"color":"red"}`)
	out, _, err := NormalizeJSON("mindmap", raw, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"root":{"label":"Biology","children":[{"label":"Cells","children":[{"label":"Nucleus"}]}]}}`, string(out))
	require.NoError(t, ValidateJSONAgainstSchema(MindmapSchema(), out))
}

func TestNormalizeJSONStudyNoteDropsUnknown(t *testing.T) {
	out, dropped, err := NormalizeJSON(SchemaStudyNote, []byte(`{"title":" T ","summary":"S","notes":"C","tags":["x"]}`), nil)
	require.NoError(t, err)
	assert.Contains(t, dropped, "tags(unknown)")
	assert.JSONEq(t, `{"title":"T","summary":"S","content":"C"}`, string(out))
}

func TestNormalizeJSONRejectsGarbage(t *testing.T) {
	_, _, err := NormalizeJSON("quiz", []byte("not json"), nil)
	assert.Error(t, err)
	_, _, err = NormalizeJSON("essay", []byte("{}"), nil)
	assert.Error(t, err)
}

func TestValidateJSONAgainstSchema(t *testing.T) {
	assert.NoError(t, ValidateJSONAgainstSchema(StudyNoteSchema(), []byte(`{"title":"a","summary":"b","content":"c"}`)))
	assert.Error(t, ValidateJSONAgainstSchema(StudyNoteSchema(), []byte(`{"title":"a"}`)))
	assert.Error(t, ValidateJSONAgainstSchema(QuizSchema(), []byte(`{"questions":[{"question":"q","options":["a"],"answer_index":0}]}`)))
}

package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
)

var (
	reFence   = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	reLetters = regexp.MustCompile(`[^A-Z]`)
)

// shape describes the keys a document may carry and what the model tends to call them instead.
type shape struct {
	top      []string
	list     string            // key of the main array, if any
	synonyms map[string]string // top-level renames
	item     func(m map[string]any, dropped *[]string) map[string]any
}

var shapes = map[string]shape{
	SchemaStudyNote: {
		top:      []string{"title", "summary", "content", "language"},
		synonyms: map[string]string{"notes": "content", "body": "content", "study_note": "content", "abstract": "summary"},
	},
	SchemaPageText: {
		top:      []string{"text"},
		synonyms: map[string]string{"transcription": "text", "content": "text", "ocr_text": "text"},
	},
	string(constants.ArtifactFlashcards): {
		top:      []string{"cards"},
		list:     "cards",
		synonyms: map[string]string{"flashcards": "cards", "items": "cards"},
		item: func(m map[string]any, dropped *[]string) map[string]any {
			rename(m, "question", "front")
			rename(m, "term", "front")
			rename(m, "answer", "back")
			rename(m, "definition", "back")
			return keep(m, dropped, "front", "back")
		},
	},
	string(constants.ArtifactQuiz): {
		top:      []string{"questions"},
		list:     "questions",
		synonyms: map[string]string{"quiz": "questions", "items": "questions"},
		item:     normalizeQuizItem,
	},
	string(constants.ArtifactMindmap): {
		top:      []string{"root"},
		synonyms: map[string]string{"mindmap": "root", "mind_map": "root", "central": "root", "topic": "root"},
	},
	string(constants.ArtifactCrossword): {
		top:      []string{"words"},
		list:     "words",
		synonyms: map[string]string{"clues": "words", "entries": "words", "items": "words"},
		item: func(m map[string]any, dropped *[]string) map[string]any {
			rename(m, "word", "answer")
			rename(m, "hint", "clue")
			if s, ok := m["answer"].(string); ok {
				m["answer"] = reLetters.ReplaceAllString(strings.ToUpper(s), "")
			}
			return keep(m, dropped, "answer", "clue")
		},
	},
	string(constants.ArtifactPodcast): {
		top:      []string{"title", "segments"},
		list:     "segments",
		synonyms: map[string]string{"script": "segments", "dialogue": "segments", "lines": "segments"},
		item: func(m map[string]any, dropped *[]string) map[string]any {
			rename(m, "host", "speaker")
			rename(m, "name", "speaker")
			rename(m, "line", "text")
			rename(m, "content", "text")
			return keep(m, dropped, "speaker", "text")
		},
	},
}

// NormalizeJSON is the lenient pass applied when strict validation fails:
//   - strips markdown code fences
//   - unwraps a single top-level wrapper key
//   - renames common synonyms and removes unknown keys
//   - trims strings and coerces numeric strings (answer_index)
func NormalizeJSON(name string, raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sh, ok := shapes[name]
	if !ok {
		return nil, nil, fmt.Errorf("sanitize: unknown shape %q", name)
	}

	body := StripFences(raw)
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 4)
	var m map[string]any
	switch t := doc.(type) {
	case map[string]any:
		m = t
	case []any:
		if sh.list == "" {
			return nil, nil, fmt.Errorf("sanitize: %s: top-level array", name)
		}
		m = map[string]any{sh.list: t}
		dropped = append(dropped, "(wrapped array)")
	default:
		return nil, nil, fmt.Errorf("sanitize: %s: not an object", name)
	}

	// {"data": {...}} or {"quiz": {"questions": [...]}}
	if len(m) == 1 {
		for k, v := range m {
			inner, isObj := v.(map[string]any)
			if isObj && !contains(sh.top, k) && (sh.synonyms[k] == "" || hasAny(inner, sh.top)) {
				m = inner
				dropped = append(dropped, k+"(wrapper)")
			}
		}
	}

	if name == string(constants.ArtifactMindmap) && m["root"] == nil && hasLabel(m) {
		m = map[string]any{"root": m}
		dropped = append(dropped, "(wrapped root)")
	}

	for from, to := range sh.synonyms {
		if _, exists := m[to]; exists {
			continue
		}
		if _, has := m[from]; has {
			rename(m, from, to)
			dropped = append(dropped, from+"->"+to)
		}
	}

	m = keep(m, &dropped, sh.top...)
	trimStrings(m)

	if sh.list != "" && sh.item != nil {
		if items, ok := m[sh.list].([]any); ok {
			out := make([]any, 0, len(items))
			for _, it := range items {
				im, ok := it.(map[string]any)
				if !ok {
					dropped = append(dropped, sh.list+"[](type)")
					continue
				}
				out = append(out, sh.item(im, &dropped))
			}
			m[sh.list] = out
		}
	}
	if name == string(constants.ArtifactMindmap) {
		if root, ok := m["root"]; ok {
			m["root"] = normalizeNode(root, &dropped)
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.normalize.sanitize", "shape", name, "dropped", dropped)
	}
	return out, dropped, nil
}

// StripFences removes a surrounding ```json ... ``` block if present.
func StripFences(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if m := reFence.FindStringSubmatch(s); m != nil {
		return []byte(m[1])
	}
	return []byte(s)
}

func normalizeQuizItem(m map[string]any, dropped *[]string) map[string]any {
	rename(m, "choices", "options")
	rename(m, "answers", "options")
	rename(m, "correct_index", "answer_index")
	rename(m, "correct", "answer_index")

	opts, _ := m["options"].([]any)
	switch v := m["answer_index"].(type) {
	case float64:
		if v == math.Trunc(v) {
			m["answer_index"] = int(v)
		}
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.Atoi(s); err == nil {
			m["answer_index"] = n
		} else if len(s) == 1 && s[0] >= 'A' && s[0] <= 'Z' {
			m["answer_index"] = int(s[0] - 'A')
		} else if i := indexOf(opts, s); i >= 0 {
			m["answer_index"] = i
		}
	case nil:
		// answer given as text: find it among the options
		if a, ok := m["answer"].(string); ok {
			if i := indexOf(opts, strings.TrimSpace(a)); i >= 0 {
				m["answer_index"] = i
			}
		}
	}
	if n, ok := m["answer_index"].(int); ok && len(opts) > 0 && n >= len(opts) {
		*dropped = append(*dropped, "answer_index(range)")
	}
	return keep(m, dropped, "question", "options", "answer_index", "explanation")
}

func normalizeNode(v any, dropped *[]string) any {
	m, ok := v.(map[string]any)
	if !ok {
		if s, isStr := v.(string); isStr {
			return map[string]any{"label": strings.TrimSpace(s)}
		}
		return v
	}
	for _, k := range []string{"title", "name", "text", "topic"} {
		rename(m, k, "label")
	}
	for _, k := range []string{"nodes", "subtopics", "branches"} {
		rename(m, k, "children")
	}
	m = keep(m, dropped, "label", "children")
	if kids, ok := m["children"].([]any); ok {
		for i := range kids {
			kids[i] = normalizeNode(kids[i], dropped)
		}
	}
	return m
}

func rename(m map[string]any, from, to string) {
	v, ok := m[from]
	if !ok {
		return
	}
	if _, exists := m[to]; !exists {
		m[to] = v
	}
	delete(m, from)
}

func keep(m map[string]any, dropped *[]string, allowed ...string) map[string]any {
	for k := range m {
		if !contains(allowed, k) {
			delete(m, k)
			*dropped = append(*dropped, k+"(unknown)")
		}
	}
	return m
}

func trimStrings(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if s, ok := val.(string); ok {
				t[k] = strings.TrimSpace(s)
				continue
			}
			trimStrings(val)
		}
	case []any:
		for i, val := range t {
			if s, ok := val.(string); ok {
				t[i] = strings.TrimSpace(s)
				continue
			}
			trimStrings(val)
		}
	}
}

func indexOf(opts []any, s string) int {
	for i, o := range opts {
		if os, ok := o.(string); ok && strings.EqualFold(strings.TrimSpace(os), s) {
			return i
		}
	}
	return -1
}

func hasAny(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// hasLabel reports whether m looks like a bare mindmap node.
func hasLabel(m map[string]any) bool {
	for _, k := range []string{"label", "title", "name", "topic"} {
		if _, ok := m[k].(string); ok {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

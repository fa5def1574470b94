package entity

// Flashcard is a single front/back card.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type FlashcardSet struct {
	Cards []Flashcard `json:"cards"`
}

type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	AnswerIndex int      `json:"answer_index"`
	Explanation string   `json:"explanation,omitempty"`
}

type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
}

// MindmapNode is a labelled node with nested children.
type MindmapNode struct {
	Label    string        `json:"label"`
	Children []MindmapNode `json:"children,omitempty"`
}

type Mindmap struct {
	Root MindmapNode `json:"root"`
}

// Size returns the number of nodes in the tree rooted at n.
func (n MindmapNode) Size() int {
	total := 1
	for _, c := range n.Children {
		total += c.Size()
	}
	return total
}

type CrosswordWord struct {
	Answer string `json:"answer"`
	Clue   string `json:"clue"`
}

// CrosswordEntry is a word placed on the grid.
type CrosswordEntry struct {
	CrosswordWord
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	Direction string `json:"direction"` // across | down
	Number    int    `json:"number"`
}

type Crossword struct {
	Words    []CrosswordWord  `json:"words"`
	Entries  []CrosswordEntry `json:"entries"`
	Unplaced []CrosswordWord  `json:"unplaced,omitempty"`
	Rows     int              `json:"rows"`
	Cols     int              `json:"cols"`
	Grid     []string         `json:"grid"`
}

type PodcastSegment struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type Podcast struct {
	Title      string           `json:"title"`
	Segments   []PodcastSegment `json:"segments"`
	DurationMS int64            `json:"duration_ms,omitempty"`
}

package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
)

// excel caps a cell at 32767 characters
const maxCellChars = 32000

// FlashcardsXLSX writes one card per row: Front, Back.
func FlashcardsXLSX(set entity.FlashcardSet) ([]byte, error) {
	f, sheet, err := newWorkbook("Flashcards", []string{"#", "Front", "Back"})
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for i, c := range set.Cards {
		row := i + 2
		writeRow(f, sheet, row, i+1, truncate(c.Front, maxCellChars), truncate(c.Back, maxCellChars))
	}
	_ = f.SetColWidth(sheet, "A", "A", 6)
	_ = f.SetColWidth(sheet, "B", "C", 60)
	return finish(f)
}

// QuizXLSX writes one question per row with up to six options, the answer letter and the explanation.
func QuizXLSX(q entity.Quiz) ([]byte, error) {
	headers := []string{"#", "Question", "A", "B", "C", "D", "E", "F", "Answer", "Explanation"}
	f, sheet, err := newWorkbook("Quiz", headers)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for i, qq := range q.Questions {
		row := i + 2
		vals := make([]any, len(headers))
		vals[0] = i + 1
		vals[1] = truncate(qq.Question, maxCellChars)
		for j := 0; j < 6; j++ {
			if j < len(qq.Options) {
				vals[2+j] = truncate(qq.Options[j], maxCellChars)
			} else {
				vals[2+j] = ""
			}
		}
		vals[8] = answerLetter(qq.AnswerIndex)
		vals[9] = truncate(qq.Explanation, maxCellChars)
		writeRow(f, sheet, row, vals...)
	}
	_ = f.SetColWidth(sheet, "A", "A", 6)
	_ = f.SetColWidth(sheet, "B", "B", 50)
	_ = f.SetColWidth(sheet, "C", "H", 24)
	_ = f.SetColWidth(sheet, "I", "I", 8)
	_ = f.SetColWidth(sheet, "J", "J", 50)
	return finish(f)
}

func answerLetter(i int) string {
	if i < 0 || i > 25 {
		return ""
	}
	return string(rune('A' + i))
}

func newWorkbook(sheet string, headers []string) (*excelize.File, string, error) {
	f := excelize.NewFile()
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, "", err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	_ = f.DeleteSheet("Sheet1")

	vals := make([]any, len(headers))
	for i, h := range headers {
		vals[i] = h
	}
	writeRow(f, sheet, 1, vals...)

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(sheet, "A1", last, style)
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return f, sheet, nil
}

func writeRow(f *excelize.File, sheet string, row int, vals ...any) {
	for i, v := range vals {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func finish(f *excelize.File) ([]byte, error) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

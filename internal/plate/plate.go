package plate

import (
	"sort"
	"strings"

	"plategate/internal/model"
)

const (
	minGlyphs = 8
	maxGlyphs = 10
	rowGapPx  = 40
)

// GroupRows splits glyph detections into horizontal rows. Detections are
// walked in ascending vertical order; a gap of more than rowGapPx from the
// current row's maximum Y starts a new row. Rows come back sorted
// left-to-right.
func GroupRows(chars []model.CharacterDetection) [][]model.CharacterDetection {
	if len(chars) == 0 {
		return nil
	}
	sorted := make([]model.CharacterDetection, len(chars))
	copy(sorted, chars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Box.Y < sorted[j].Box.Y })

	rows := [][]model.CharacterDetection{{sorted[0]}}
	rowMaxY := sorted[0].Box.Y
	for _, c := range sorted[1:] {
		if c.Box.Y-rowMaxY > rowGapPx {
			rows = append(rows, nil)
		}
		last := len(rows) - 1
		rows[last] = append(rows[last], c)
		rowMaxY = c.Box.Y
	}
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].Box.X < row[j].Box.X })
	}
	return rows
}

// Classify maps row structure to a plate format variant. Electric-motorbike
// and double-row car checks run before the plain count rules because their
// counts overlap the motorbike buckets.
func Classify(rows [][]model.CharacterDetection) model.PlateType {
	total := 0
	for _, r := range rows {
		total += len(r)
	}
	switch len(rows) {
	case 1:
		if total >= 7 && total <= 9 {
			return model.PlateCarSingleRow
		}
	case 2:
		flat := rowString(rows[0]) + rowString(rows[1])
		if total == 10 && hasElectricPattern(rowString(rows[0])) {
			return model.PlateMotorbikeElectric1
		}
		if (total == 7 || total == 8) && hasCarPattern(flat) {
			return model.PlateCarDoubleRow
		}
		if total == 8 {
			return model.PlateMotorbikeNew8
		}
		if total == 9 {
			return model.PlateMotorbikeOld9
		}
	}
	return model.PlateUnknown
}

// Format renders the canonical plate string for a set of glyph detections.
// An empty string means no confident read; callers must not treat it as an
// error.
func Format(chars []model.CharacterDetection) (string, model.PlateType) {
	if len(chars) < minGlyphs || len(chars) > maxGlyphs {
		return "", model.PlateUnknown
	}
	rows := GroupRows(chars)
	typ := Classify(rows)

	var out string
	switch typ {
	case model.PlateCarSingleRow:
		out = formatCarSingleRow(rowString(rows[0]))
		if len(out) != 10 {
			out = ""
		}
	case model.PlateMotorbikeOld9:
		out = rowString(rows[0]) + "-" + dotAfterThird(rowString(rows[1]))
		if len(out) != 11 {
			out = ""
		}
	case model.PlateMotorbikeNew8:
		out = rowString(rows[0]) + "-" + rowString(rows[1])
		if len(out) != 9 {
			out = ""
		}
	case model.PlateMotorbikeElectric1:
		out = rowString(rows[0]) + "-" + dotAfterThird(rowString(rows[1]))
	case model.PlateCarDoubleRow:
		out = rowString(rows[0]) + "-" + dotAfterThird(rowString(rows[1]))
		if len(out) != 10 {
			out = ""
		}
	default:
		return "", model.PlateUnknown
	}
	return out, typ
}

// formatCarSingleRow splits a single-row read into its series prefix and
// registration digits. The prefix takes a third character when that character
// opens an alphabetic group, or when the second character is already a letter.
func formatCarSingleRow(s string) string {
	if len(s) < 3 {
		return ""
	}
	prefix := 2
	if isLetter(s[1]) || (isLetter(s[2]) && !isLetter(s[1])) {
		prefix = 3
	}
	return s[:prefix] + "-" + dotAfterThird(s[prefix:])
}

func dotAfterThird(s string) string {
	if len(s) > 3 {
		return s[:3] + "." + s[3:]
	}
	return s
}

func rowString(row []model.CharacterDetection) string {
	var b strings.Builder
	for _, c := range row {
		b.WriteString(strings.ToUpper(strings.TrimSpace(c.Label)))
	}
	return b.String()
}

func hasElectricPattern(row string) bool {
	return len(row) >= 3 && isDigit(row[0]) && isDigit(row[1]) && isLetter(row[2])
}

func hasCarPattern(flat string) bool {
	if len(flat) < 4 {
		return false
	}
	head := flat[:4]
	tail := flat[len(flat)-4:]
	return containsLetter(head) && containsDigit(tail)
}

func containsLetter(s string) bool {
	for i := 0; i < len(s); i++ {
		if isLetter(s[i]) {
			return true
		}
	}
	return false
}

func containsDigit(s string) bool {
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			return true
		}
	}
	return false
}

func isLetter(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

package plate

import (
	"strings"
	"testing"

	"plategate/internal/model"
)

func glyph(label string, x, y int) model.CharacterDetection {
	return model.CharacterDetection{
		Box:        model.BoundingBox{X: x, Y: y, W: 20, H: 30},
		Confidence: 0.9,
		Label:      label,
	}
}

func singleRow(labels ...string) []model.CharacterDetection {
	out := make([]model.CharacterDetection, 0, len(labels))
	for i, l := range labels {
		out = append(out, glyph(l, i*25, 10))
	}
	return out
}

func doubleRow(top, bottom []string) []model.CharacterDetection {
	out := make([]model.CharacterDetection, 0, len(top)+len(bottom))
	for i, l := range top {
		out = append(out, glyph(l, i*25, 10))
	}
	for i, l := range bottom {
		out = append(out, glyph(l, i*25, 80))
	}
	return out
}

func TestFormatRejectsCountOutOfRange(t *testing.T) {
	cases := [][]model.CharacterDetection{
		singleRow("1", "2", "3", "4", "5", "6", "7"),
		singleRow("1", "2", "3", "4", "5", "6", "7", "8", "9", "0", "A"),
		nil,
	}
	for i, chars := range cases {
		s, typ := Format(chars)
		if s != "" || typ != model.PlateUnknown {
			t.Fatalf("case %d: expected rejection, got %q (%s)", i, s, typ)
		}
	}
}

func TestGroupRowsSplitsOnGap(t *testing.T) {
	chars := []model.CharacterDetection{
		glyph("A", 0, 10),
		glyph("B", 25, 15),
		glyph("C", 0, 60),
		glyph("D", 25, 65),
	}
	rows := GroupRows(chars)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if len(rows[0]) != 2 || len(rows[1]) != 2 {
		t.Fatalf("expected 2+2 split, got %d+%d", len(rows[0]), len(rows[1]))
	}
}

func TestGroupRowsRunningMaxKeepsSingleRow(t *testing.T) {
	chars := []model.CharacterDetection{
		glyph("A", 0, 10),
		glyph("B", 25, 40),
		glyph("C", 50, 60),
	}
	rows := GroupRows(chars)
	if len(rows) != 1 || len(rows[0]) != 3 {
		t.Fatalf("expected single row of 3, got %d rows", len(rows))
	}
}

func TestGroupRowsSortsLeftToRight(t *testing.T) {
	chars := []model.CharacterDetection{
		glyph("B", 25, 12),
		glyph("A", 0, 10),
		glyph("C", 50, 11),
	}
	rows := GroupRows(chars)
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	got := ""
	for _, c := range rows[0] {
		got += c.Label
	}
	if got != "ABC" {
		t.Fatalf("row order: %s", got)
	}
}

func TestFormatCarSingleRow(t *testing.T) {
	s, typ := Format(singleRow("3", "0", "A", "1", "2", "3", "4", "5"))
	if typ != model.PlateCarSingleRow {
		t.Fatalf("type: %s", typ)
	}
	if s != "30A-123.45" {
		t.Fatalf("formatted: %q", s)
	}
}

func TestFormatCarSingleRowLetterSecond(t *testing.T) {
	s, typ := Format(singleRow("5", "C", "1", "2", "3", "4", "5", "6"))
	if typ != model.PlateCarSingleRow {
		t.Fatalf("type: %s", typ)
	}
	if s != "5C1-234.56" {
		t.Fatalf("formatted: %q", s)
	}
}

func TestFormatCarSingleRowNineGlyphsRejected(t *testing.T) {
	// Nine glyphs render to eleven characters and miss the exact-length gate.
	s, typ := Format(singleRow("3", "0", "A", "1", "2", "3", "4", "5", "6"))
	if typ != model.PlateCarSingleRow {
		t.Fatalf("type: %s", typ)
	}
	if s != "" {
		t.Fatalf("expected rejection, got %q", s)
	}
}

func TestFormatMotorbikeOld9(t *testing.T) {
	s, typ := Format(doubleRow(
		[]string{"2", "9", "X", "1"},
		[]string{"1", "2", "3", "4", "5"},
	))
	if typ != model.PlateMotorbikeOld9 {
		t.Fatalf("type: %s", typ)
	}
	if len(s) != 11 {
		t.Fatalf("length %d: %q", len(s), s)
	}
	if strings.Count(s, "-") != 1 || strings.Count(s, ".") != 1 {
		t.Fatalf("separators: %q", s)
	}
	if s != "29X1-123.45" {
		t.Fatalf("formatted: %q", s)
	}
}

func TestFormatMotorbikeNew8NoDot(t *testing.T) {
	s, typ := Format(doubleRow(
		[]string{"1", "2", "3", "4"},
		[]string{"5", "6", "7", "8"},
	))
	if typ != model.PlateMotorbikeNew8 {
		t.Fatalf("type: %s", typ)
	}
	if s != "1234-5678" {
		t.Fatalf("formatted: %q", s)
	}
}

func TestFormatCarDoubleRowTakesPrecedence(t *testing.T) {
	// 4+4 with a letter in the first four and digits in the last four must
	// classify as a double-row car, never as an 8-glyph motorbike.
	s, typ := Format(doubleRow(
		[]string{"3", "0", "A", "1"},
		[]string{"2", "3", "4", "5"},
	))
	if typ != model.PlateCarDoubleRow {
		t.Fatalf("type: %s", typ)
	}
	if s != "30A1-234.5" {
		t.Fatalf("formatted: %q", s)
	}
	if len(s) != 10 {
		t.Fatalf("length %d", len(s))
	}
}

func TestFormatMotorbikeElectric10(t *testing.T) {
	s, typ := Format(doubleRow(
		[]string{"2", "9", "C", "1"},
		[]string{"1", "2", "3", "4", "5", "6"},
	))
	if typ != model.PlateMotorbikeElectric1 {
		t.Fatalf("type: %s", typ)
	}
	if s != "29C1-123.456" {
		t.Fatalf("formatted: %q", s)
	}
}

func TestClassifyTenGlyphsWithoutElectricPatternRejected(t *testing.T) {
	s, typ := Format(doubleRow(
		[]string{"A", "9", "C", "1"},
		[]string{"1", "2", "3", "4", "5", "6"},
	))
	if typ != model.PlateUnknown || s != "" {
		t.Fatalf("expected unknown, got %q (%s)", s, typ)
	}
}

func TestClassifyThreeRowsRejected(t *testing.T) {
	chars := append(doubleRow(
		[]string{"1", "2", "3"},
		[]string{"4", "5", "6"},
	), glyph("7", 0, 160), glyph("8", 25, 165))
	rows := GroupRows(chars)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if typ := Classify(rows); typ != model.PlateUnknown {
		t.Fatalf("type: %s", typ)
	}
}

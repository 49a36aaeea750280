// Package export renders a save as a printable story book.
package export

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/jung-kurt/gofpdf/v2"

	"github.com/jwebster45206/gamemaster/pkg/savedata"
)

const (
	margin     = 40.0
	lineHeight = 14.0
	titleSize  = 20
	headSize   = 13
	bodySize   = 10
	portraitW  = 120.0
)

var pngMagic = []byte("\x89PNG")

// StoryPDF renders the character sheet, backstory, quest and story history
// of a save. portrait may be nil.
func StoryPDF(s *savedata.SaveData, portrait []byte) ([]byte, error) {
	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(s.Name()), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", titleSize)
	pdf.SetTextColor(60, 40, 20)
	pdf.CellFormat(0, 28, tr(s.Name()), "", 1, "L", false, 0, "")
	if s.Theme != nil {
		pdf.SetFont("Helvetica", "I", bodySize)
		pdf.CellFormat(0, lineHeight, tr("A "+s.Theme.Name+" adventure"), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	top := pdf.GetY()
	if len(portrait) > 0 {
		imgType := "JPG"
		if bytes.HasPrefix(portrait, pngMagic) {
			imgType = "PNG"
		}
		opts := gofpdf.ImageOptions{ImageType: imgType}
		pdf.RegisterImageOptionsReader("portrait", opts, bytes.NewReader(portrait))
		if pdf.Ok() {
			w, _ := pdf.GetPageSize()
			pdf.ImageOptions("portrait", w-margin-portraitW, top, portraitW, 0, false, opts, 0, "")
		} else {
			// Skip a portrait gofpdf cannot read.
			pdf.ClearError()
		}
	}

	section(pdf, tr, "Character")
	body(pdf, tr, fmt.Sprintf("Level %d, %d/%d XP, %d coins, %d action points",
		s.Level, s.XP, s.XPToNextLevel, s.Coins, s.ActionPoints))
	skills := make([]string, 0, len(s.Skills))
	for _, name := range s.SkillNames() {
		skills = append(skills, fmt.Sprintf("%s %d", name, s.Skills[name]))
	}
	body(pdf, tr, "Skills: "+strings.Join(skills, ", "))
	for _, key := range backgroundKeys(s.Background) {
		body(pdf, tr, fmt.Sprintf("%s: %v", key, s.Background[key]))
	}
	if s.Death {
		body(pdf, tr, "Deceased.")
	}

	if s.Inventory != nil && s.Inventory.Len() > 0 {
		section(pdf, tr, "Inventory")
		for _, cat := range s.Inventory.Categories() {
			if items := s.Inventory.Items(cat); len(items) > 0 {
				body(pdf, tr, fmt.Sprintf("%s: %s", cat, strings.Join(items, ", ")))
			}
		}
	}

	if backstory, _ := s.Background["backstory"].(string); backstory != "" {
		section(pdf, tr, "Backstory")
		body(pdf, tr, backstory)
	}

	if len(s.Memories) > 0 {
		section(pdf, tr, "Memories")
		for _, m := range s.Memories {
			body(pdf, tr, "- "+m)
		}
	}

	if s.Quest != nil {
		section(pdf, tr, "Quest: "+s.Quest.Title)
		body(pdf, tr, fmt.Sprintf("%s (%s)", s.Quest.Description, s.Quest.Status))
		titles := make([]string, 0, len(s.Quest.Goals))
		for t := range s.Quest.Goals {
			titles = append(titles, t)
		}
		sort.Strings(titles)
		for _, t := range titles {
			g := s.Quest.Goals[t]
			body(pdf, tr, fmt.Sprintf("- %s [%s]: %s", g.Title, g.Status, g.Description))
		}
	}

	if s.HasStory() {
		section(pdf, tr, "Story")
		if s.Story.Goal != "" {
			body(pdf, tr, "Goal: "+s.Story.Goal)
		}
		for i, entry := range s.Story.History {
			if i%2 == 0 {
				pdf.SetFont("Helvetica", "B", bodySize)
				pdf.MultiCell(0, lineHeight, tr("> "+entry), "", "L", false)
				continue
			}
			body(pdf, tr, entry)
		}
		body(pdf, tr, fmt.Sprintf("Health: %d/%d", s.Story.Health, savedata.MaxHealth))
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func section(pdf *gofpdf.Fpdf, tr func(string) string, title string) {
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "B", headSize)
	pdf.SetTextColor(60, 40, 20)
	pdf.CellFormat(0, 18, tr(title), "B", 1, "L", false, 0, "")
	pdf.Ln(4)
	pdf.SetTextColor(30, 30, 30)
}

func body(pdf *gofpdf.Fpdf, tr func(string) string, text string) {
	pdf.SetFont("Helvetica", "", bodySize)
	pdf.MultiCell(0, lineHeight, tr(text), "", "L", false)
}

// backgroundKeys lists the short background entries worth printing.
func backgroundKeys(bg map[string]any) []string {
	var keys []string
	for k, v := range bg {
		switch k {
		case "name", "backstory":
			continue
		}
		switch v.(type) {
		case string, []any, []string:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

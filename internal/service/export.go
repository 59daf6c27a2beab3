package service

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/survey-access/internal/model"
)

// ExportFilename is the attachment name of the CSV download.
const ExportFilename = "survey-responses.csv"

// csvTimeLayout is RFC 3339 with milliseconds, always written in UTC.
const csvTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// csvHeader is the fixed column order of the export.
var csvHeader = []string{
	"Submission Date", "Full Name", "Email", "Age", "Country",
	"Primary Discipline", "Experience Years", "College", "Background", "Training",
	"Mediums", "Hours Per Week", "Art Styles", "Major Influences", "Platforms",
	"Platform Links", "Has Exhibited", "Exhibition Source", "Collaborates", "Collaboration Description",
	"Feedback Sources", "Community Participation", "Idea Generation", "Uses References", "Challenges",
	"Preferred Creation Time", "Emotional State", "Mood Influence", "Creative Rituals", "Tools Used",
	"Work Environment", "Music Preference", "Monetizes", "Monetization Methods", "Five Year Goal",
	"Platform Suggestion", "Career Challenges", "Skills To Improve", "Consent To Research", "Wants Updates",
}

// WriteCSV writes the header row and one row per survey, in the order
// given. encoding/csv quotes cells containing commas, quotes or newlines and
// doubles embedded quotes.
func WriteCSV(w io.Writer, surveys []model.SurveyResponse) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i := range surveys {
		if err := cw.Write(csvRow(&surveys[i])); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func csvRow(s *model.SurveyResponse) []string {
	a := &s.SurveyAnswers

	exhibitionSource := a.ExhibitionSource
	if exhibitionSource == "" {
		exhibitionSource = "N/A"
	}

	return []string{
		formatTime(s.SubmittedAt),
		a.FullName,
		a.Email,
		strconv.Itoa(int(a.Age)),
		a.Country,
		a.PrimaryDiscipline,
		a.ExperienceYears,
		a.College,
		a.Background,
		a.Training,
		joinList(a.Mediums),
		a.HoursPerWeek.String(),
		joinList(a.ArtStyle),
		joinList(a.MajorInfluences),
		joinList(a.Platforms),
		a.PlatformLinks,
		strconv.FormatBool(a.HasExhibited),
		exhibitionSource,
		strconv.FormatBool(a.Collaborates),
		a.CollaborationDescription,
		joinList(a.FeedbackSource),
		joinList(a.CommunityParticipation),
		a.IdeaGeneration,
		strconv.FormatBool(a.UsesReferences),
		a.Challenges,
		a.PreferredCreationTime,
		a.EmotionalState,
		a.MoodInfluence,
		joinList(a.CreativeRituals),
		joinList(a.ToolsUsed),
		a.WorkEnvironment,
		a.MusicPreference,
		strconv.FormatBool(a.Monetizes),
		joinList(a.MonetizationMethods),
		a.FiveYearGoal,
		a.PlatformSuggestion,
		joinList(a.CareerChallenges),
		joinList(a.SkillsToImprove),
		strconv.FormatBool(a.ConsentToResearch),
		strconv.FormatBool(a.WantsUpdates),
	}
}

func joinList(items []string) string {
	return strings.Join(items, ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(csvTimeLayout)
}

package service

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/survey-access/internal/apperror"
	"github.com/sakif/survey-access/internal/model"
)

// Long free-text answers must be between these many characters (Unicode
// code points, surrounding whitespace ignored).
const (
	MinLongAnswer    = 150
	MaxLongAnswer    = 300
	MaxPlatformLinks = 300
	MinAge           = 1
	MaxAge           = 120
	MaxHoursPerWeek  = 168
)

var (
	genders = []string{"Male", "Female", "Non-binary", "Prefer not to say", "Other"}

	disciplines = []string{"Drawing", "Painting", "Photography", "Graphic Design",
		"Animation", "Digital Art", "Sculpture", "Other"}

	experienceRanges = []string{"Less than 1 year", "1-3 years", "4-7 years",
		"8-10 years", "Over 10 years"}

	trainings = []string{"Self-taught", "Formally trained", "Mix"}

	exhibitionSources = []string{"Invited", "Applied", "Through a friend",
		"Online listing", "University", "Other", "N/A"}

	workEnvironments = []string{"Home studio", "Shared workspace", "Outdoors",
		"On-the-go", "Office", "Other"}

	musicPreferences = []string{"Always listen to music", "Sometimes listen to music",
		"Prefer silence", "Ambient noise", "Podcasts/Audiobooks", "Varies by project"}
)

// requestValidator checks the account request structs through their
// `validate` tags. Field errors are reported under the JSON field name.
var requestValidator = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

func validateStruct(s any) error {
	err := requestValidator.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("service: validating request: %w", err)
	}

	fields := make([]apperror.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperror.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return apperror.Invalid(fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// NormalizeSurvey trims every text answer, drops blank list entries and
// applies the conditional clears: no collaboration description without
// collaboration, "N/A" as exhibition source for artists who never exhibited.
func NormalizeSurvey(a *model.SurveyAnswers) {
	for _, p := range []*string{
		&a.FullName, &a.Email, &a.Country, &a.Gender, &a.PrimaryDiscipline,
		&a.ExperienceYears, &a.College, &a.Background, &a.Training,
		&a.PlatformLinks, &a.ExhibitionSource, &a.CollaborationDescription,
		&a.IdeaGeneration, &a.Challenges, &a.PreferredCreationTime,
		&a.EmotionalState, &a.MoodInfluence, &a.WorkEnvironment,
		&a.MusicPreference, &a.FiveYearGoal, &a.PlatformSuggestion,
	} {
		*p = strings.TrimSpace(*p)
	}

	for _, p := range []*[]string{
		&a.Mediums, &a.ArtStyle, &a.MajorInfluences, &a.Platforms,
		&a.FeedbackSource, &a.CommunityParticipation, &a.CreativeRituals,
		&a.ToolsUsed, &a.MonetizationMethods, &a.CareerChallenges,
		&a.SkillsToImprove,
	} {
		*p = compactList(*p)
	}

	if !a.Collaborates {
		a.CollaborationDescription = ""
	}
	if !a.HasExhibited {
		a.ExhibitionSource = "N/A"
	}
	if !a.Monetizes {
		a.MonetizationMethods = nil
	}
}

func compactList(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ValidateSurvey checks a normalized questionnaire and returns every
// failing field. An empty result means the answers are acceptable.
func ValidateSurvey(a *model.SurveyAnswers) []apperror.FieldError {
	var v surveyChecker

	if a.Age < MinAge || a.Age > MaxAge {
		v.fail("age", fmt.Sprintf("age must be between %d and %d", MinAge, MaxAge))
	}
	v.required("country", a.Country)
	v.oneOf("gender", a.Gender, genders, true)
	v.oneOf("primaryDiscipline", a.PrimaryDiscipline, disciplines, true)
	v.oneOf("experienceYears", a.ExperienceYears, experienceRanges, true)

	v.long("background", a.Background)
	v.oneOf("training", a.Training, trainings, true)
	if len(a.Mediums) == 0 {
		v.fail("mediums", "select at least one medium")
	}
	switch {
	case !a.HoursPerWeek.Set:
		v.fail("hoursPerWeek", "hoursPerWeek is required")
	case a.HoursPerWeek.Value < 0 || a.HoursPerWeek.Value > MaxHoursPerWeek:
		v.fail("hoursPerWeek", fmt.Sprintf("hoursPerWeek must be between 0 and %d", MaxHoursPerWeek))
	}

	if utf8.RuneCountInString(a.PlatformLinks) > MaxPlatformLinks {
		v.fail("platformLinks", fmt.Sprintf("platformLinks must be at most %d characters", MaxPlatformLinks))
	}
	if a.HasExhibited && (a.ExhibitionSource == "" || a.ExhibitionSource == "N/A") {
		v.fail("exhibitionSource", "exhibitionSource is required when you have exhibited")
	} else {
		v.oneOf("exhibitionSource", a.ExhibitionSource, exhibitionSources, false)
	}
	if a.Collaborates {
		v.long("collaborationDescription", a.CollaborationDescription)
	}

	v.long("ideaGeneration", a.IdeaGeneration)
	v.long("challenges", a.Challenges)
	v.long("preferredCreationTime", a.PreferredCreationTime)
	v.long("emotionalState", a.EmotionalState)
	v.long("moodInfluence", a.MoodInfluence)
	v.oneOf("workEnvironment", a.WorkEnvironment, workEnvironments, false)
	v.oneOf("musicPreference", a.MusicPreference, musicPreferences, false)

	if a.Monetizes && len(a.MonetizationMethods) == 0 {
		v.fail("monetizationMethods", "select at least one monetization method")
	}
	v.long("fiveYearGoal", a.FiveYearGoal)
	v.long("platformSuggestion", a.PlatformSuggestion)

	return v.errs
}

type surveyChecker struct {
	errs []apperror.FieldError
}

func (c *surveyChecker) fail(field, msg string) {
	c.errs = append(c.errs, apperror.FieldError{Field: field, Message: msg})
}

func (c *surveyChecker) required(field, value string) {
	if value == "" {
		c.fail(field, field+" is required")
	}
}

func (c *surveyChecker) long(field, value string) {
	n := utf8.RuneCountInString(value)
	switch {
	case n == 0:
		c.fail(field, field+" is required")
	case n < MinLongAnswer || n > MaxLongAnswer:
		c.fail(field, fmt.Sprintf("%s must be between %d and %d characters (got %d)",
			field, MinLongAnswer, MaxLongAnswer, n))
	}
}

func (c *surveyChecker) oneOf(field, value string, allowed []string, required bool) {
	if value == "" {
		if required {
			c.fail(field, field+" is required")
		}
		return
	}
	if !slices.Contains(allowed, value) {
		c.fail(field, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
	}
}

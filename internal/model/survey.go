package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlexInt is an integer that also accepts a JSON string. The survey page
// posts number inputs as strings ("34"); an empty string decodes to 0.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(b []byte) error {
	v, _, err := parseFlexInt(b)
	if err != nil {
		return err
	}
	*n = FlexInt(v)
	return nil
}

// OptionalInt is a FlexInt that remembers whether a value was given. A
// missing key, null and a blank string all leave it unset.
type OptionalInt struct {
	Value int
	Set   bool
}

// IntOf returns a set OptionalInt.
func IntOf(v int) OptionalInt {
	return OptionalInt{Value: v, Set: true}
}

func (n *OptionalInt) UnmarshalJSON(b []byte) error {
	v, ok, err := parseFlexInt(b)
	if err != nil {
		return err
	}
	*n = OptionalInt{Value: v, Set: ok}
	return nil
}

func (n OptionalInt) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(n.Value)), nil
}

// String renders the value, or "" when unset.
func (n OptionalInt) String() string {
	if !n.Set {
		return ""
	}
	return strconv.Itoa(n.Value)
}

func parseFlexInt(b []byte) (int, bool, error) {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return 0, false, nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return 0, false, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false, nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, false, fmt.Errorf("invalid number %q", s)
		}
		return v, true, nil
	}
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// SurveyAnswers is the questionnaire as the participant fills it in.
//
// Field names follow the JSON the survey page posts in the multipart
// "surveyData" part. FullName and Email are display-only on the client; the
// server overwrites them from the token owner before validation.
type SurveyAnswers struct {
	// Basic artist profile
	FullName          string  `json:"fullName"`
	Email             string  `json:"email"`
	Age               FlexInt `json:"age"`
	Country           string  `json:"country"`
	Gender            string  `json:"gender"`
	PrimaryDiscipline string  `json:"primaryDiscipline"`
	ExperienceYears   string  `json:"experienceYears"`
	College           string  `json:"college,omitempty"`

	// Artistic experience
	Background      string      `json:"background"`
	Training        string      `json:"training"`
	Mediums         []string    `json:"mediums"`
	HoursPerWeek    OptionalInt `json:"hoursPerWeek"`
	ArtStyle        []string    `json:"artStyle"`
	MajorInfluences []string    `json:"majorInfluences"`

	// Sharing & community
	Platforms                []string `json:"platforms"`
	PlatformLinks            string   `json:"platformLinks,omitempty"`
	HasExhibited             bool     `json:"hasExhibited"`
	ExhibitionSource         string   `json:"exhibitionSource,omitempty"`
	Collaborates             bool     `json:"collaborates"`
	CollaborationDescription string   `json:"collaborationDescription,omitempty"`
	FeedbackSource           []string `json:"feedbackSource"`
	CommunityParticipation   []string `json:"communityParticipation"`

	// Creative process
	IdeaGeneration        string   `json:"ideaGeneration"`
	UsesReferences        bool     `json:"usesReferences"`
	Challenges            string   `json:"challenges"`
	PreferredCreationTime string   `json:"preferredCreationTime"`
	EmotionalState        string   `json:"emotionalState"`
	MoodInfluence         string   `json:"moodInfluence"`
	CreativeRituals       []string `json:"creativeRituals"`
	ToolsUsed             []string `json:"toolsUsed"`
	WorkEnvironment       string   `json:"workEnvironment,omitempty"`
	MusicPreference       string   `json:"musicPreference,omitempty"`

	// Career & goals
	Monetizes           bool     `json:"monetizes"`
	MonetizationMethods []string `json:"monetizationMethods"`
	FiveYearGoal        string   `json:"fiveYearGoal"`
	PlatformSuggestion  string   `json:"platformSuggestion"`
	CareerChallenges    []string `json:"careerChallenges"`
	SkillsToImprove     []string `json:"skillsToImprove"`

	// Consent
	ConsentToResearch bool `json:"consentToResearch"`
	WantsUpdates      bool `json:"wantsUpdates"`
}

// SurveyResponse is one user's stored questionnaire. It is written once and
// never updated.
//
// Owner is filled in on reads when the owning user still exists; a survey
// whose user was deleted keeps its UserID and reports a nil Owner.
type SurveyResponse struct {
	ID     string        `json:"id"`
	UserID string        `json:"userId"`
	Owner  *UserIdentity `json:"user,omitempty"`

	SurveyAnswers

	AudioIntroduction string    `json:"audioIntroduction"`
	AudioObject       string    `json:"-"`
	SubmittedAt       time.Time `json:"submittedAt"`
}

// SubmissionStatus answers the submission guard's question for one user.
type SubmissionStatus struct {
	HasSubmitted bool       `json:"hasSubmitted"`
	SubmittedAt  *time.Time `json:"submittedAt,omitempty"`
}

package api

// Character represents a catalog entry.
type Character struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
	Creator      string   `json:"creator"`
	ImageURL     string   `json:"imageUrl"`
	Interactions string   `json:"interactions"`
	Likes        string   `json:"likes"`
	InitMessage  string   `json:"init_message"`
}

// BlockCheckResult represents a blockCheckResult.
type BlockCheckResult struct {
	IsBlocked bool   `json:"is_blocked"`
	Message   string `json:"message"`
}

// SessionInfo represents the session summary attached to a feedback report.
type SessionInfo struct {
	SessionID       string  `json:"session_id"`
	CharacterID     string  `json:"character_id"`
	TurnCount       int     `json:"turn_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	StartTime       string  `json:"start_time"`
	EndTime         string  `json:"end_time"`
}

// CorrectionIssue represents one flagged aspect of a user sentence.
type CorrectionIssue struct {
	HasIssue  bool   `json:"has_issue"`
	Corrected string `json:"corrected"`
	Reason    string `json:"reason"`
}

// FeedbackItem represents the per-sentence correction entry.
type FeedbackItem struct {
	UserSentence     string          `json:"user_sentence"`
	GrammarIssue     CorrectionIssue `json:"grammar_issue"`
	NaturalnessIssue CorrectionIssue `json:"naturalness_issue"`
}

// Scores represents the aggregate score pair.
type Scores struct {
	Grammar int `json:"grammar"`
	Fluency int `json:"fluency"`
}

// OverallAssessment represents an overallAssessment.
type OverallAssessment struct {
	MainWeaknesses string `json:"main_weaknesses"`
	Scores         Scores `json:"scores"`
}

// Feedback represents a feedback.
type Feedback struct {
	FeedbackItems     []FeedbackItem    `json:"feedback_items"`
	OverallAssessment OverallAssessment `json:"overall_assessment"`
}

// TranscriptEntry represents one raw conversation message in a report.
type TranscriptEntry struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// FeedbackReport represents the full post-session report.
type FeedbackReport struct {
	SessionInfo         SessionInfo       `json:"session_info"`
	Feedback            Feedback          `json:"feedback"`
	ConversationHistory []TranscriptEntry `json:"conversation_history"`
}

// HasIssues reports whether any correction entry flags a problem. An empty
// item list is the valid "no issues found" state, not an error.
func (r FeedbackReport) HasIssues() bool {
	for _, item := range r.Feedback.FeedbackItems {
		if item.GrammarIssue.HasIssue || item.NaturalnessIssue.HasIssue {
			return true
		}
	}
	return false
}

// PreRegistration represents a pre-registration submission.
type PreRegistration struct {
	SessionID   string `json:"session_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	NotifyEmail bool   `json:"notify_email"`
	NotifySMS   bool   `json:"notify_sms"`
}

// PreRegistrationResult represents a preRegistrationResult.
type PreRegistrationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

package domain

import (
	"time"
)

// UserMemory is the per-user memory record enriched by background extraction.
// One record per user, upserted with merge semantics, never deleted.
//
// Field names on the wire match the inference backend's extraction contract.
type UserMemory struct {
	PreferredName            string    `json:"preferred_name,omitempty"`
	LanguageStyle            string    `json:"language_style,omitempty"`
	Interests                []string  `json:"interests,omitempty"`
	SkillLevel               string    `json:"skill_level,omitempty"`
	Goals                    []string  `json:"goals,omitempty"`
	PersonalFacts            []string  `json:"personal_facts,omitempty"`
	CommunicationPreferences string    `json:"communication_preferences,omitempty"`
	UpdatedAt                time.Time `json:"updated_at,omitempty"`
}

// Merge overlays non-empty fields of other onto a copy of m and returns it.
// List fields are replaced wholesale when present; the extraction endpoint
// already returns merged lists.
func (m UserMemory) Merge(other UserMemory) UserMemory {
	out := m
	if other.PreferredName != "" {
		out.PreferredName = other.PreferredName
	}
	if other.LanguageStyle != "" {
		out.LanguageStyle = other.LanguageStyle
	}
	if len(other.Interests) > 0 {
		out.Interests = other.Interests
	}
	if other.SkillLevel != "" {
		out.SkillLevel = other.SkillLevel
	}
	if len(other.Goals) > 0 {
		out.Goals = other.Goals
	}
	if len(other.PersonalFacts) > 0 {
		out.PersonalFacts = other.PersonalFacts
	}
	if other.CommunicationPreferences != "" {
		out.CommunicationPreferences = other.CommunicationPreferences
	}
	return out
}

// DisplayName resolves the name the assistant should address the user by.
func (m UserMemory) DisplayName(fallback string) string {
	if m.PreferredName != "" {
		return m.PreferredName
	}
	if fallback != "" {
		return fallback
	}
	return "friend"
}

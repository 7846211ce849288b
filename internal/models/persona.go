package models

// Persona describes the viewer profile used to target ad placement
type Persona struct {
	Name      string   `json:"name" yaml:"name"`
	Age       int      `json:"age,omitempty" yaml:"age"`
	Gender    string   `json:"gender,omitempty" yaml:"gender"`
	Interests []string `json:"interests,omitempty" yaml:"interests"`
	Searches  []string `json:"searches,omitempty" yaml:"searches"`
	Mood      string   `json:"mood,omitempty" yaml:"mood"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern"`
}

func (p Persona) IsZero() bool {
	return p.Name == ""
}

package models

// Entity kinds recognized by the tagger.
const (
	EntityActor = "actor"
	EntityTool  = "tool"
)

// Entity is one known threat actor or tool from the reference dictionary.
type Entity struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"` // actor|tool
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
}

// EntityTag links a substring of a record's text to a known entity. Offsets
// are character positions into the text the tag was computed against.
type EntityTag struct {
	ID         string `json:"id"`
	RecordID   string `json:"record_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
}

// Key identifies a tag up to duplication: two tags with the same key are the
// same annotation.
func (t EntityTag) Key() TagKey {
	return TagKey{
		RecordID:   t.RecordID,
		EntityType: t.EntityType,
		EntityID:   t.EntityID,
		StartChar:  t.StartChar,
		EndChar:    t.EndChar,
	}
}

// TagKey is the uniqueness tuple for an EntityTag.
type TagKey struct {
	RecordID   string
	EntityType string
	EntityID   string
	StartChar  int
	EndChar    int
}

// TagReport aggregates one tagging pass.
type TagReport struct {
	Checked int `json:"checked"`
	Tagged  int `json:"tagged"`
	Failed  int `json:"failed"`
}

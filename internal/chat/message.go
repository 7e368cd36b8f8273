package chat

// Message is one unit of conversation flowing through the import pipeline.
//
// A nil Concepts or Relations slice means extraction has not run for this
// message yet; an empty, non-nil slice means it ran and found nothing.
type Message struct {
	ID        string     `json:"id"`
	Role      string     `json:"role,omitempty"`
	Text      string     `json:"text"`
	Timestamp int64      `json:"timestamp"`
	Concepts  []string   `json:"concepts,omitempty"`
	Relations []Relation `json:"relations,omitempty"`
}

// Annotated reports whether both knowledge fields have been populated.
func (m *Message) Annotated() bool {
	return m.Concepts != nil && m.Relations != nil
}

// Attach copies an extraction result onto the message. Nil slices in the
// result are normalized to empty ones so the message counts as annotated.
func (m *Message) Attach(e Extraction) {
	m.Concepts = e.Concepts
	if m.Concepts == nil {
		m.Concepts = []string{}
	}
	m.Relations = e.Relations
	if m.Relations == nil {
		m.Relations = []Relation{}
	}
}

// Delta converts the message to its hand-off record.
func (m *Message) Delta() DeltaRecord {
	return DeltaRecord{
		UUID:      m.ID,
		Text:      m.Text,
		Timestamp: m.Timestamp,
		Concepts:  m.Concepts,
		Relations: m.Relations,
	}
}

// Relation is a directed, labeled association between two concepts. It
// serializes as a three-element JSON array [subject, predicate, object].
type Relation [3]string

func (r Relation) Subject() string   { return r[0] }
func (r Relation) Predicate() string { return r[1] }
func (r Relation) Object() string    { return r[2] }

// Extraction is the knowledge pulled out of a single message text.
type Extraction struct {
	Concepts  []string   `json:"concepts"`
	Relations []Relation `json:"relations"`
}

// Empty returns the degraded extraction result: no concepts, no relations.
func Empty() Extraction {
	return Extraction{Concepts: []string{}, Relations: []Relation{}}
}

// DeltaRecord is one entry of the delta file handed to embedding ingestion.
type DeltaRecord struct {
	UUID      string     `json:"uuid"`
	Text      string     `json:"text"`
	Timestamp int64      `json:"timestamp"`
	Concepts  []string   `json:"concepts"`
	Relations []Relation `json:"relations"`
}

package domain

import "encoding/json"

// Reason says why tracking is ON for a hostname. "Not tracking" is the
// absence of a reason (nil pointer), never a third enum value.
type Reason int

const (
	Focused Reason = iota
	Audible
)

var reasonNames = map[Reason]string{
	Focused: "focused",
	Audible: "audible",
}

var reasonFromName = map[string]Reason{
	"focused": Focused,
	"audible": Audible,
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "unknown"
}

func (r Reason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Reason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := reasonFromName[s]; ok {
		*r = v
	}
	return nil
}

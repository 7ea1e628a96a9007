package pipeline

// State is a step of one scan
type State int

const (
	Idle State = iota
	Capturing
	Probing
	Uploading
	Parsing
	Persisted
	Failed
	Cancelled
)

var stateNames = map[State]string{
	Idle:      "idle",
	Capturing: "capturing",
	Probing:   "probing",
	Uploading: "uploading",
	Parsing:   "parsing",
	Persisted: "persisted",
	Failed:    "failed",
	Cancelled: "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition follows s
func (s State) Terminal() bool {
	return s == Persisted || s == Failed || s == Cancelled
}

// statusLine is the short progress text shown while in s
func statusLine(s State) string {
	switch s {
	case Capturing:
		return "Acquiring bill image..."
	case Probing:
		return "Checking the analysis service..."
	case Uploading:
		return "Analyzing your bill..."
	case Parsing:
		return "Reading the results..."
	case Persisted:
		return "Analysis complete!"
	case Cancelled:
		return "Scan cancelled"
	default:
		return "Ready to scan"
	}
}

package metrics

/*
Labels and so on for metrics used in rz.
*/

const (
	LabelSuccess = "success"
	LabelKind    = "kind"
	LabelVerb    = "verb"

	// Labels for apply metrics
	LabelAction = "action"
)

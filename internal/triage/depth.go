package triage

// ClassifyDepth maps the number of turns recorded for a session to its conversational phase.
func ClassifyDepth(turns int) Depth {
	switch {
	case turns < 3:
		return DepthShallow
	case turns < 8:
		return DepthModerate
	default:
		return DepthDeep
	}
}

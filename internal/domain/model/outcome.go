package model

// Outcome is the result of one resolution stage: either a value was found or
// the stage has nothing.
type Outcome struct {
	value EnrichedValue
	found bool
}

func Found(v EnrichedValue) Outcome {
	return Outcome{value: v, found: true}
}

func NotFound() Outcome {
	return Outcome{}
}

func (o Outcome) IsFound() bool {
	return o.found
}

// Value returns the found value, or an unresolved value for indicator.
func (o Outcome) Value(indicator IndicatorKey) EnrichedValue {
	if !o.found {
		return Unresolved(indicator)
	}
	return o.value
}

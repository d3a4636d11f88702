package metric

// MetricItem is one component's JSON snapshot. Each component registers
// exactly one item under its label.
type MetricItem interface {
	JSONString() string
}

// ItemFunc adapts a function to MetricItem.
type ItemFunc func() string

func (f ItemFunc) JSONString() string { return f() }

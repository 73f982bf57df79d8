package state

import "fmt"

// Metric identifies which node resource a threshold row evaluates.
type Metric string

const (
	MetricDisk Metric = "disk"
	MetricRAM  Metric = "ram"
	MetricCPU  Metric = "cpu"
)

// ThresholdRule is one row of the closed threshold table. The operator is
// always strict greater-than: a reading exactly at the threshold does not
// fire.
type ThresholdRule struct {
	Metric    Metric
	Threshold float64 // percent
	Severity  string  // "warning", "high", "critical"
	Condition Condition
}

// defaultRules is the closed threshold table. Ordered most-severe first per
// metric so a critical reading reports critical, not high.
var defaultRules = []ThresholdRule{
	{Metric: MetricDisk, Threshold: 95, Severity: "critical", Condition: CondDiskCritical},
	{Metric: MetricDisk, Threshold: 90, Severity: "high", Condition: CondDiskHigh},
	{Metric: MetricRAM, Threshold: 95, Severity: "critical", Condition: CondRAMCritical},
	{Metric: MetricRAM, Threshold: 85, Severity: "warning", Condition: CondRAMHigh},
	{Metric: MetricCPU, Threshold: 95, Severity: "warning", Condition: CondCPUHigh},
}

// Violation is a newly-entered threshold violation.
type Violation struct {
	Rule  ThresholdRule
	Node  string
	Value float64 // percent reading that triggered the rule
}

// Key returns the stable incident key for this violation.
func (v Violation) Key() string {
	return fmt.Sprintf("%s:%s", v.Rule.Condition, v.Node)
}

// ThresholdEvaluator evaluates node metrics against the threshold table with
// hysteresis: a violation is reported only when it enters the active set,
// and the key is cleared when the metric falls back below the threshold so a
// later crossing can fire again.
type ThresholdEvaluator struct {
	rules  []ThresholdRule
	active map[string]struct{} // keyed by condition:node
}

// NewThresholdEvaluator returns an evaluator over the default rule table.
func NewThresholdEvaluator() *ThresholdEvaluator {
	return &ThresholdEvaluator{
		rules:  defaultRules,
		active: make(map[string]struct{}),
	}
}

// Evaluate inspects the given node observations and returns the violations
// that are new this tick. Offline nodes are skipped entirely.
func (e *ThresholdEvaluator) Evaluate(obs []NodeObservation) []Violation {
	var fresh []Violation

	for _, node := range obs {
		if node.Status != "online" {
			continue
		}

		// Highest-severity rule wins per metric; lower rules for the same
		// metric are suppressed while a higher one is active.
		firedMetric := make(map[Metric]bool)
		for _, rule := range e.rules {
			if firedMetric[rule.Metric] {
				continue
			}
			value := metricPercent(node, rule.Metric)
			key := fmt.Sprintf("%s:%s", rule.Condition, node.Name)

			if value > rule.Threshold {
				firedMetric[rule.Metric] = true
				if _, already := e.active[key]; already {
					continue
				}
				e.active[key] = struct{}{}
				fresh = append(fresh, Violation{Rule: rule, Node: node.Name, Value: value})
			} else {
				delete(e.active, key)
			}
		}
	}
	return fresh
}

// ActiveCount returns the number of currently-active violations.
func (e *ThresholdEvaluator) ActiveCount() int {
	return len(e.active)
}

// metricPercent extracts the percentage reading for a metric from a node
// observation.
func metricPercent(n NodeObservation, m Metric) float64 {
	switch m {
	case MetricDisk:
		if n.MaxDisk == 0 {
			return 0
		}
		return float64(n.Disk) / float64(n.MaxDisk) * 100
	case MetricRAM:
		if n.MaxMem == 0 {
			return 0
		}
		return float64(n.Mem) / float64(n.MaxMem) * 100
	case MetricCPU:
		return n.CPU * 100
	}
	return 0
}

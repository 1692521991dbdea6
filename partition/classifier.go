// Package partition finds Doris partitions whose reads fail with storage
// corruption errors and, on explicit request, force-drops them.
package partition

import "strings"

// Verdict is the classification of one partition probe.
type Verdict int

const (
	Healthy Verdict = iota
	// Benign is a failed probe whose error matches no corruption
	// signature, e.g. a syntax problem. The partition counts as healthy.
	Benign
	Corrupted
)

func (v Verdict) String() string {
	switch v {
	case Healthy:
		return "healthy"
	case Benign:
		return "benign"
	case Corrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// Rule maps an error substring to a verdict. Matching is case-insensitive.
type Rule struct {
	Signature string
	Verdict   Verdict
}

// DefaultSignatures are the error fragments Doris reports for damaged
// tablets and segments.
var DefaultSignatures = []string{
	"tablet",
	"segment",
	"checksum",
	"file not exist",
	"io error",
	"meta not found",
	"fail to find path in version_graph",
}

// Classifier applies an ordered rule list; the first match wins and an
// unmatched error is Benign.
type Classifier struct {
	rules []Rule
}

func NewClassifier(rules ...Rule) *Classifier {
	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		sig := strings.ToLower(strings.TrimSpace(r.Signature))
		if sig == "" {
			continue
		}
		normalized = append(normalized, Rule{Signature: sig, Verdict: r.Verdict})
	}
	return &Classifier{rules: normalized}
}

// SignatureClassifier marks every listed signature as Corrupted. An empty
// list uses DefaultSignatures.
func SignatureClassifier(signatures []string) *Classifier {
	if len(signatures) == 0 {
		signatures = DefaultSignatures
	}
	rules := make([]Rule, len(signatures))
	for i, s := range signatures {
		rules[i] = Rule{Signature: s, Verdict: Corrupted}
	}
	return NewClassifier(rules...)
}

// Classify returns the verdict for a probe error and the rule that
// produced it. A nil error is Healthy.
func (c *Classifier) Classify(err error) (Verdict, Rule) {
	if err == nil {
		return Healthy, Rule{}
	}
	msg := strings.ToLower(err.Error())
	for _, r := range c.rules {
		if strings.Contains(msg, r.Signature) {
			return r.Verdict, r
		}
	}
	return Benign, Rule{}
}

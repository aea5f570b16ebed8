package engine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/c360/varnet/directory"
	"github.com/c360/varnet/network"
)

// Report describes the assembled application: every network with its shape, every
// directory variable, detected module cycles and the issues found on the way.
type Report struct {
	Status    string         `json:"validation_status"` // "valid", "warnings", "errors"
	Errors    []Issue        `json:"errors"`
	Warnings  []Issue        `json:"warnings"`
	Networks  []NetworkInfo  `json:"networks"`
	Variables []VariableInfo `json:"variables"`
	Cycles    []CycleInfo    `json:"cycles,omitempty"`
	DataLoss  uint64         `json:"data_loss"`
}

// Issue is a single problem found during assembly
type Issue struct {
	Type     string `json:"type"`     // "constant_feeder", "discarded_output", "assembly_failed", etc.
	Severity string `json:"severity"` // "error", "warning"
	Variable string `json:"variable,omitempty"`
	Message  string `json:"message"`
}

// NetworkInfo describes one realized network
type NetworkInfo struct {
	Name      string     `json:"name"`
	Shape     string     `json:"shape"`
	Feeder    NodeInfo   `json:"feeder"`
	Consumers []NodeInfo `json:"consumers"`
	Trigger   string     `json:"trigger,omitempty"`
}

// NodeInfo describes a feeder or consumer of a network
type NodeInfo struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Mode      string `json:"mode"`
	Direction string `json:"direction"`
	Type      string `json:"type"`
	Unit      string `json:"unit,omitempty"`
	Owner     string `json:"owner,omitempty"`
}

// VariableInfo describes a directory variable
type VariableInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Unit        string `json:"unit,omitempty"`
	Access      string `json:"access"`
	Description string `json:"description,omitempty"`
}

// CycleInfo describes a feedback loop between modules
type CycleInfo struct {
	Name   string   `json:"name"`
	Owners []string `json:"owners"`
}

// newReport builds the report of a, with err as the assembly failure if any.
func newReport(a *Application, err error) *Report {
	r := &Report{
		Status:   "valid",
		Errors:   []Issue{},
		Warnings: append([]Issue{}, a.warnings...),
		DataLoss: a.dataLoss.Load(),
	}
	if err != nil {
		r.Status = "errors"
		r.Errors = append(r.Errors, Issue{
			Type:     "assembly_failed",
			Severity: "error",
			Message:  err.Error(),
		})
		return r
	} else if len(r.Warnings) > 0 {
		r.Status = "warnings"
	}

	if a.resolution != nil {
		for _, p := range a.resolution.Plans {
			info := NetworkInfo{
				Name:   networkName(p.Network),
				Shape:  string(p.Shape),
				Feeder: nodeInfo(p.Network.Feeder()),
			}
			for _, c := range p.Network.Consumers() {
				info.Consumers = append(info.Consumers, nodeInfo(c))
			}
			if t := p.Network.Trigger(); t != nil {
				info.Trigger = networkName(t)
			}
			r.Networks = append(r.Networks, info)
		}
		sort.Slice(r.Networks, func(i, j int) bool { return r.Networks[i].Name < r.Networks[j].Name })
	}

	for _, v := range a.dir.Variables() {
		r.Variables = append(r.Variables, variableInfo(v))
	}

	if a.cycles != nil {
		for _, c := range a.cycles.All() {
			r.Cycles = append(r.Cycles, CycleInfo{Name: c.Name(), Owners: c.Owners()})
		}
	}
	return r
}

func nodeInfo(n *network.Node) NodeInfo {
	typ := "any"
	if n.Type != nil {
		typ = n.Type.String()
	}
	return NodeInfo{
		Name:      nodeName(n),
		Kind:      string(n.Kind),
		Mode:      string(n.Mode),
		Direction: string(n.Direction),
		Type:      typ,
		Unit:      n.Unit,
		Owner:     n.Owner,
	}
}

func variableInfo(v directory.Variable) VariableInfo {
	typ := "any"
	if v.Type != nil {
		typ = v.Type.String()
	}
	return VariableInfo{
		Name:        v.Name,
		Type:        typ,
		Unit:        v.Unit,
		Access:      string(v.Access),
		Description: v.Description,
	}
}

// JSON renders the report indented.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Summary renders a one-line overview.
func (r *Report) Summary() string {
	return fmt.Sprintf("%s: %d networks, %d variables, %d cycles, %d warnings, %d errors",
		r.Status, len(r.Networks), len(r.Variables), len(r.Cycles), len(r.Warnings), len(r.Errors))
}

package enforce

import (
	"context"
	"fmt"
)

// Mode selects which enforcement strategies a deployment runs.
type Mode int

const (
	// ModeOff disables enforcement; every check allows.
	ModeOff Mode = iota
	// ModeRelation checks relation quotas once per logical write.
	ModeRelation
	// ModeOwner checks role quotas on every physical extension.
	ModeOwner
	// ModeBoth runs both strategies.
	ModeBoth
)

var modeNames = map[Mode]string{
	ModeOff:      "off",
	ModeRelation: "relation",
	ModeOwner:    "owner",
	ModeBoth:     "both",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses the textual form used by configuration flags.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return ModeOff, fmt.Errorf("unknown enforcement mode %q", s)
}

// Gate bundles both enforcement strategies behind a configured mode, so a
// deployment can enable either, both, or neither.
type Gate struct {
	Mode     Mode
	Relation *RelationGate
	Owner    *OwnerGate
}

// NewGate returns a gate running mode against reader.  resolver is only
// consulted by the owner strategy and may be nil when mode never uses it.
func NewGate(mode Mode, reader Reader, resolver OwnerResolver) *Gate {
	return &Gate{
		Mode:     mode,
		Relation: &RelationGate{Reader: reader},
		Owner:    &OwnerGate{Reader: reader, Resolver: resolver},
	}
}

// CheckWrite applies the relation strategy when the mode enables it.
func (g *Gate) CheckWrite(scope string, targets []WriteTarget) error {
	if g.Mode != ModeRelation && g.Mode != ModeBoth {
		return nil
	}
	return g.Relation.CheckWrite(scope, targets)
}

// CheckExtend applies the owner strategy when the mode enables it.
func (g *Gate) CheckExtend(ctx context.Context, scope, handle string) error {
	if g.Mode != ModeOwner && g.Mode != ModeBoth {
		return nil
	}
	return g.Owner.CheckExtend(ctx, scope, handle)
}

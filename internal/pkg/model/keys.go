package model

import "strings"

// Vendor keys with special meaning for the program state.
const (
	KeyActiveProgram        = "BSH.Common.Root.ActiveProgram"
	KeySelectedProgram      = "BSH.Common.Root.SelectedProgram"
	KeyProgramProgress      = "BSH.Common.Option.ProgramProgress"
	KeyRemainingProgramTime = "BSH.Common.Option.RemainingProgramTime"
	KeyOperationState       = "BSH.Common.Status.OperationState"
)

func IsSettingKey(key string) bool {
	return strings.Contains(key, ".Setting.")
}

// IsProgramKey reports whether key belongs to the program state rather than
// to the appliance status.
func IsProgramKey(key string) bool {
	return key == KeyActiveProgram || key == KeySelectedProgram || strings.Contains(key, ".Option.")
}

// ApplyOption stores o on the program state, replacing an option with the same
// key. Progress and remaining time are lifted into their own fields.
func (ps *ProgramState) ApplyOption(o Option) {
	switch o.Key {
	case KeyProgramProgress:
		if o.Value.Kind == KindNumber {
			n := int(o.Value.Num)
			ps.Progress = &n
		}
	case KeyRemainingProgramTime:
		if o.Value.Kind == KindNumber {
			n := int(o.Value.Num)
			ps.RemainingSeconds = &n
		}
	default:
		for i, cur := range ps.Options {
			if cur.Key != o.Key {
				continue
			}
			if o.Name == "" {
				o.Name = cur.Name
			}
			if o.Constraints == nil {
				o.Constraints = cur.Constraints
			}
			ps.Options[i] = o
			return
		}
		ps.Options = append(ps.Options, o)
	}
}

// MergeOptions returns a copy of ps with the option values of update applied.
// The program keys of update are ignored.
func (ps ProgramState) MergeOptions(update ProgramState) ProgramState {
	out := ps.DeepCopy()
	if update.Progress != nil {
		out.Progress = copyIntPtr(update.Progress)
	}
	if update.RemainingSeconds != nil {
		out.RemainingSeconds = copyIntPtr(update.RemainingSeconds)
	}
	for _, o := range update.Options {
		o.Constraints = o.Constraints.DeepCopy()
		out.ApplyOption(o)
	}
	return out
}

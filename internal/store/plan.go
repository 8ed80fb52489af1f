package store

import "github.com/credit-markets/vitalfi-backend/internal/domain/model"

// SubjectMutation is one subject's pending write: the new record plus
// the status it is leaving, when it already existed. Exactly one of
// Vault and Position is set.
type SubjectMutation struct {
	Vault    *model.Vault
	Position *model.Position

	// PrevStatus is nil for a first write. The store removes the subject
	// from the previous per-status index only when the status changed.
	PrevStatus *model.VaultStatus
}

// MutationPlan is the reconciler's output for one ingested event: every
// surviving subject write, applied atomically in one MULTI/EXEC.
type MutationPlan struct {
	Subjects []SubjectMutation
}

func (p *MutationPlan) Empty() bool {
	return p == nil || len(p.Subjects) == 0
}

func (p *MutationPlan) AddVault(v *model.Vault, prev *model.VaultStatus) {
	p.Subjects = append(p.Subjects, SubjectMutation{Vault: v, PrevStatus: prev})
}

func (p *MutationPlan) AddPosition(pos *model.Position, prev *model.VaultStatus) {
	p.Subjects = append(p.Subjects, SubjectMutation{Position: pos, PrevStatus: prev})
}

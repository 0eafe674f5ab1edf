package domain

// VerificationStatus is the read-only view of a user's progress
type VerificationStatus struct {
	VerificationLevel   int
	CurrentLevel        int
	HumanityIndex       int
	HasSBT              bool
	CompletedLevels     []int
	InProgress          bool
	CurrentVerification *Attempt
}

// AllComplete reports whether every level is done
func (v VerificationStatus) AllComplete() bool {
	return v.VerificationLevel >= MaxLevel
}

// Passed reports whether the humanity index clears the pass mark
func (v VerificationStatus) Passed() bool {
	return v.HumanityIndex >= PassingHumanityIndex
}

// PassingHumanityIndex is the score at which a user counts as verified human
const PassingHumanityIndex = 100

// Project derives the status view from a session.
// A nil session projects to the default status of a fresh user.
func Project(s *Session) VerificationStatus {
	if s == nil {
		return VerificationStatus{
			CurrentLevel:    LevelBasic,
			CompletedLevels: []int{},
		}
	}

	status := VerificationStatus{
		VerificationLevel: s.VerificationLevel,
		CurrentLevel:      s.CurrentLevel,
		HumanityIndex:     s.HumanityIndex,
		HasSBT:            s.HasSBT,
		CompletedLevels:   append([]int{}, s.CompletedLevels...),
		InProgress:        s.VerificationInProgress,
	}
	if status.CurrentLevel == 0 {
		status.CurrentLevel = status.VerificationLevel + 1
	}
	if s.CurrentVerification != nil {
		a := *s.CurrentVerification
		status.CurrentVerification = &a
	}
	return status
}

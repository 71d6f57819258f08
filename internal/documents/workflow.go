package documents

import (
	"strings"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/textfold"
)

// WarningSignerMismatch flags a signature by someone other than the planned signer.
const WarningSignerMismatch = "signer_mismatch"

// Warning is advisory feedback that never blocks an operation.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoleStatus is the computed state of one role on a revision.
type RoleStatus struct {
	Role        Role
	State       RoleState
	PlannedName string
	Signature   *Signature
}

// RoleStates computes the state of every role in canonical order.
func RoleStates(revision Revision, signatures []Signature) []RoleStatus {
	byRole := make(map[Role]Signature, len(signatures))
	for _, signature := range signatures {
		if signature.RevisionID != "" && revision.RevisionID != "" && signature.RevisionID != revision.RevisionID {
			continue
		}
		byRole[signature.Role] = signature
	}
	statuses := make([]RoleStatus, 0, len(Roles()))
	for _, role := range Roles() {
		status := RoleStatus{Role: role, PlannedName: revision.PlannedName(role)}
		signature, signed := byRole[role]
		switch {
		case status.PlannedName == "":
			status.State = RoleStateUnplanned
		case signed:
			status.State = RoleStateSigned
			signatureCopy := signature
			status.Signature = &signatureCopy
		default:
			status.State = RoleStatePending
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// IsFullyApproved reports whether every planned role carries a signature.
func IsFullyApproved(revision Revision, signatures []Signature) bool {
	for _, status := range RoleStates(revision, signatures) {
		if status.State == RoleStatePending {
			return false
		}
	}
	return true
}

// NextPendingRole returns the first unsigned planned role in canonical order.
func NextPendingRole(revision Revision, signatures []Signature) (RoleStatus, bool) {
	for _, status := range RoleStates(revision, signatures) {
		if status.State == RoleStatePending {
			return status, true
		}
	}
	return RoleStatus{}, false
}

// SignerMatchesPlanned compares names ignoring case, accents and surrounding whitespace.
func SignerMatchesPlanned(plannedName, signerName string) bool {
	return strings.Join(strings.Fields(textfold.Fold(plannedName)), " ") ==
		strings.Join(strings.Fields(textfold.Fold(signerName)), " ")
}

// SigningKey is the short key printed next to a signature: the last 8 hex characters of the user id, uppercase.
func SigningKey(userID string) string {
	var hexRunes []rune
	for _, r := range strings.ToLower(userID) {
		if r >= '0' && r <= '9' || r >= 'a' && r <= 'f' {
			hexRunes = append(hexRunes, r)
		}
	}
	if len(hexRunes) > 8 {
		hexRunes = hexRunes[len(hexRunes)-8:]
	}
	return strings.ToUpper(string(hexRunes))
}

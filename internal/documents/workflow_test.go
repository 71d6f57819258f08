package documents

import "testing"

func TestRoleStatesComputedFromPlanAndSignatures(t *testing.T) {
	revision := Revision{RevisionID: "rev-1", Redacteur: "Jean Dupont", Verificateur: "  ", Approbateur: "Paul Martin"}
	signatures := []Signature{{RevisionID: "rev-1", Role: RoleApprobateur, UserID: "user-paul"}}

	states := RoleStates(revision, signatures)
	if len(states) != 3 {
		t.Fatalf("expected three roles, got %d", len(states))
	}
	if states[0].State != RoleStatePending || states[1].State != RoleStateUnplanned || states[2].State != RoleStateSigned {
		t.Fatalf("unexpected states %#v", states)
	}
	if states[2].Signature == nil || states[2].Signature.UserID != "user-paul" {
		t.Fatalf("expected signature attached to signed role")
	}
}

func TestIsFullyApprovedIgnoresUnplannedRoles(t *testing.T) {
	revision := Revision{RevisionID: "rev-1", Redacteur: "Jean Dupont"}
	if IsFullyApproved(revision, nil) {
		t.Fatalf("pending redacteur must block approval")
	}
	if !IsFullyApproved(revision, []Signature{{RevisionID: "rev-1", Role: RoleRedacteur}}) {
		t.Fatalf("expected approval once the only planned role is signed")
	}
}

func TestNextPendingRoleFollowsCanonicalOrder(t *testing.T) {
	revision := Revision{RevisionID: "rev-1", Redacteur: "A", Verificateur: "B", Approbateur: "C"}
	next, ok := NextPendingRole(revision, []Signature{{RevisionID: "rev-1", Role: RoleRedacteur}})
	if !ok || next.Role != RoleVerificateur || next.PlannedName != "B" {
		t.Fatalf("unexpected next role %#v", next)
	}
}

func TestSignerMatchesPlannedIgnoresCaseAndAccents(t *testing.T) {
	if !SignerMatchesPlanned("Hélène  Dupré", "helene dupre") {
		t.Fatalf("expected folded names to match")
	}
	if SignerMatchesPlanned("Jean Dupont", "Paul Martin") {
		t.Fatalf("expected different names not to match")
	}
}

func TestSigningKeyUsesLastEightHexCharacters(t *testing.T) {
	if key := SigningKey("0190c7a2-1b2c-7d3e-9f40-a1b2c3d4e5f6"); key != "C3D4E5F6" {
		t.Fatalf("unexpected signing key %s", key)
	}
	if key := SigningKey("user-ab"); key != "EAB" {
		t.Fatalf("unexpected short signing key %s", key)
	}
}

func TestParseRoleAcceptsAccentedLabels(t *testing.T) {
	role, err := ParseRole("vérificateur")
	if err != nil || role != RoleVerificateur {
		t.Fatalf("unexpected parse result %s, %v", role, err)
	}
	if _, err := ParseRole("reviewer"); err == nil {
		t.Fatalf("expected unknown role error")
	}
}

func TestStoragePathIsDeterministicAndSanitized(t *testing.T) {
	first := StoragePath("user 1", "HT001-INS-0001", "Révision A/1", "plan final.DWG")
	second := StoragePath("user 1", "HT001-INS-0001", "Révision A/1", "plan final.DWG")
	if first != second {
		t.Fatalf("expected deterministic path")
	}
	if first != "user_1/HT001-INS-0001/rev_Revision_A_1.dwg" {
		t.Fatalf("unexpected path %s", first)
	}
	if fallback := StoragePath("u", "D", "..", "noextension"); fallback != "u/D/rev__.bin" {
		t.Fatalf("unexpected fallback path %s", fallback)
	}
}

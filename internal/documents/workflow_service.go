package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opSign     = "documents.sign"
	opWorkflow = "documents.workflow"
)

// SignInput identifies the role being signed. The signer is the acting user.
type SignInput struct {
	RevisionID string
	Role       Role
}

// SignOutcome reports the new signature and the resulting workflow state.
type SignOutcome struct {
	Signature     Signature
	Warnings      []Warning
	States        []RoleStatus
	FullyApproved bool
	NextRole      *RoleStatus
}

// WorkflowState is the computed approval state of a revision.
type WorkflowState struct {
	Bundle        Bundle
	States        []RoleStatus
	FullyApproved bool
	NextRole      *RoleStatus
}

// Sign records the actor's signature for role. Signing an unplanned role fails with
// RoleNotApplicable; a second signature for the same role is rejected by the
// (revision_id, role) unique index and surfaces as AlreadySigned.
func (s *Service) Sign(ctx context.Context, actor Actor, input SignInput) (SignOutcome, error) {
	if err := actor.validate(); err != nil {
		return SignOutcome{}, newServiceError(opSign, "invalid_actor", kindForValidation(err), err)
	}
	role, err := ParseRole(string(input.Role))
	if err != nil {
		return SignOutcome{}, newServiceError(opSign, "invalid_role", KindInvalidInput, err)
	}
	bundle, err := s.RevisionBundle(ctx, input.RevisionID)
	if err != nil {
		return SignOutcome{}, err
	}

	plannedName := bundle.Revision.PlannedName(role)
	if plannedName == "" {
		s.metrics.SignatureAttempt(string(role), "role_not_applicable")
		return SignOutcome{}, newServiceError(opSign, "role_not_applicable", KindRoleNotApplicable,
			fmt.Errorf("%w: %s has no planned signer on revision %s", ErrRoleNotApplicable, role, bundle.Revision.Label))
	}

	signatureID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSign, "id_generation_failed", err)
		return SignOutcome{}, newServiceError(opSign, "id_generation_failed", KindInternal, err)
	}
	signature := Signature{
		SignatureID:     signatureID,
		RevisionID:      bundle.Revision.RevisionID,
		Role:            role,
		UserID:          strings.TrimSpace(actor.UserID),
		FullName:        actorName(actor),
		SignedAtSeconds: s.now().Unix(),
	}
	if bundle.Revision.FileHash != "" {
		docHash := bundle.Revision.FileHash
		signature.DocHash = &docHash
	}

	if err := s.db.WithContext(ctx).Create(&signature).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			s.metrics.SignatureAttempt(string(role), "already_signed")
			return SignOutcome{}, newServiceError(opSign, "already_signed", KindAlreadySigned,
				fmt.Errorf("%w: %s on revision %s", ErrAlreadySigned, role, bundle.Revision.Label))
		}
		s.metrics.SignatureAttempt(string(role), metrics.OutcomeFailure)
		s.logError(opSign, "signature_insert_failed", err,
			zap.String("revision_id", bundle.Revision.RevisionID),
			zap.String("role", string(role)))
		return SignOutcome{}, newServiceError(opSign, "signature_insert_failed", KindInternal, err)
	}
	s.metrics.SignatureAttempt(string(role), metrics.OutcomeSuccess)

	signatures := append(append([]Signature(nil), bundle.Signatures...), signature)
	outcome := SignOutcome{
		Signature:     signature,
		States:        RoleStates(bundle.Revision, signatures),
		FullyApproved: IsFullyApproved(bundle.Revision, signatures),
	}
	if !SignerMatchesPlanned(plannedName, signature.FullName) {
		outcome.Warnings = append(outcome.Warnings, Warning{
			Code:    WarningSignerMismatch,
			Message: fmt.Sprintf("%s signed the %s role planned for %s", signature.FullName, role.Label(), plannedName),
		})
		s.loggerOrDefault().Warn("signer differs from planned signer",
			zap.String("revision_id", bundle.Revision.RevisionID),
			zap.String("role", string(role)),
			zap.String("planned", plannedName),
			zap.String("signer_user_id", signature.UserID))
	}

	if next, ok := NextPendingRole(bundle.Revision, signatures); ok {
		outcome.NextRole = &next
		s.dispatch(ctx, Notification{
			Kind:          EventSignatureRequested,
			Document:      bundle.Document,
			Revision:      bundle.Revision,
			Role:          next.Role,
			ActorName:     signature.FullName,
			RecipientName: next.PlannedName,
		})
	}
	if outcome.FullyApproved {
		s.dispatch(ctx, Notification{
			Kind:            EventRevisionApproved,
			Document:        bundle.Document,
			Revision:        bundle.Revision,
			Role:            role,
			ActorName:       signature.FullName,
			RecipientUserID: bundle.Revision.CreatedByUserID,
		})
	}
	return outcome, nil
}

// Workflow computes the approval state of a revision.
func (s *Service) Workflow(ctx context.Context, revisionID string) (WorkflowState, error) {
	bundle, err := s.RevisionBundle(ctx, revisionID)
	if err != nil {
		return WorkflowState{}, err
	}
	state := WorkflowState{
		Bundle:        bundle,
		States:        RoleStates(bundle.Revision, bundle.Signatures),
		FullyApproved: IsFullyApproved(bundle.Revision, bundle.Signatures),
	}
	if next, ok := NextPendingRole(bundle.Revision, bundle.Signatures); ok {
		state.NextRole = &next
	}
	return state, nil
}

// dispatch resolves the recipient by display name when needed and hands the notification
// to the sink. Failures are logged and never returned.
func (s *Service) dispatch(ctx context.Context, notification Notification) {
	if s.notifier == nil {
		return
	}
	if notification.RecipientUserID == "" && notification.RecipientName != "" && s.directory != nil {
		userID, found, err := s.directory.ResolveUserByDisplayName(ctx, notification.RecipientName)
		switch {
		case err != nil:
			s.loggerOrDefault().Warn("notification recipient lookup failed",
				zap.String("operation", opWorkflow),
				zap.String("recipient_name", notification.RecipientName),
				zap.Error(err))
		case !found:
			s.loggerOrDefault().Info("notification recipient not registered",
				zap.String("recipient_name", notification.RecipientName))
		default:
			notification.RecipientUserID = userID
		}
	}
	s.notifier.Notify(ctx, notification)
}

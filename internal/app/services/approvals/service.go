// Package approvals applies workflow outcomes to ledger state. Both the
// synchronous auto-approve executor and the asynchronous engine callback
// endpoint resolve workflows through this service.
package approvals

import (
	"context"
	"fmt"

	"github.com/openapim/devportal/internal/app/domain/application"
	"github.com/openapim/devportal/internal/app/domain/subscription"
	"github.com/openapim/devportal/internal/app/domain/workflow"
	"github.com/openapim/devportal/internal/app/storage"
	"github.com/openapim/devportal/pkg/logger"
)

// Service transitions the subject of a resolved workflow.
type Service struct {
	subscriptions storage.SubscriptionStore
	applications  storage.ApplicationStore
	registrations storage.RegistrationStore
	log           *logger.Logger
}

// New creates a configured approvals service.
func New(subs storage.SubscriptionStore, apps storage.ApplicationStore, registrations storage.RegistrationStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("approvals")
	}
	return &Service{
		subscriptions: subs,
		applications:  apps,
		registrations: registrations,
		log:           log,
	}
}

// Complete records the terminal status of a workflow on its subject row.
func (s *Service) Complete(ctx context.Context, req workflow.Request, status workflow.Status) error {
	switch req.Kind {
	case workflow.SubscriptionCreation:
		return s.completeSubscription(ctx, req.SubjectID, status)
	case workflow.ApplicationCreation:
		return s.completeApplication(ctx, req.SubjectID, status)
	case workflow.RegistrationProduction, workflow.RegistrationSandbox:
		return s.completeRegistration(ctx, req.SubjectID, req.KeyType, status)
	}
	return fmt.Errorf("unknown workflow kind %s", req.Kind)
}

func (s *Service) completeSubscription(ctx context.Context, subscriptionID string, status workflow.Status) error {
	target := subscription.StatusRejected
	if status == workflow.StatusApproved {
		target = subscription.StatusApproved
	}
	if err := s.subscriptions.UpdateSubscriptionStatus(ctx, subscriptionID, target); err != nil {
		return fmt.Errorf("update subscription %s: %w", subscriptionID, err)
	}
	s.log.WithField("subscription_id", subscriptionID).
		WithField("status", target).
		Info("subscription workflow resolved")
	return nil
}

func (s *Service) completeApplication(ctx context.Context, applicationID string, status workflow.Status) error {
	target := application.StatusRejected
	if status == workflow.StatusApproved {
		target = application.StatusApproved
	}
	if err := s.applications.UpdateApplicationStatus(ctx, applicationID, target); err != nil {
		return fmt.Errorf("update application %s: %w", applicationID, err)
	}
	s.log.WithField("application_id", applicationID).
		WithField("status", target).
		Info("application workflow resolved")
	return nil
}

func (s *Service) completeRegistration(ctx context.Context, applicationID string, kt application.KeyType, status workflow.Status) error {
	target := application.RegistrationRejected
	if status == workflow.StatusApproved {
		target = application.RegistrationApproved
	}
	if err := s.registrations.UpdateRegistrationStatus(ctx, applicationID, kt, target); err != nil {
		return fmt.Errorf("update registration %s/%s: %w", applicationID, kt, err)
	}
	s.log.WithField("application_id", applicationID).
		WithField("key_type", kt).
		WithField("status", target).
		Info("registration workflow resolved")
	return nil
}

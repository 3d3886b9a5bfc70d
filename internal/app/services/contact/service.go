// Package contact accepts contact-form submissions.
package contact

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/imagebulk/internal/app/domain/feedback"
	"github.com/R3E-Network/imagebulk/internal/app/services/mailer"
	"github.com/R3E-Network/imagebulk/internal/app/storage"
	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// Service stores feedback and notifies the site owner.
type Service struct {
	store storage.FeedbackStore
	mail  mailer.Mailer
	owner string
	log   *logger.Logger
}

// New constructs the contact service. An empty owner address disables the
// notification mail.
func New(store storage.FeedbackStore, mail mailer.Mailer, owner string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("contact")
	}
	return &Service{store: store, mail: mail, owner: strings.TrimSpace(owner), log: log}
}

// Submit persists one submission. The owner notification is best effort.
func (s *Service) Submit(ctx context.Context, name, email, message string) (feedback.Feedback, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	message = strings.TrimSpace(message)
	if name == "" || email == "" || message == "" {
		return feedback.Feedback{}, apperrors.Validation("name, email and message are required")
	}

	fb, err := s.store.CreateFeedback(ctx, feedback.Feedback{Name: name, Email: email, Message: message})
	if err != nil {
		return feedback.Feedback{}, fmt.Errorf("store feedback: %w", err)
	}

	if s.mail != nil && s.owner != "" {
		if err := s.mail.Send(ctx, mailer.ContactNotification(s.owner, name, email, message)); err != nil {
			s.log.WithError(err).WithField("feedback_id", fb.ID).Warn("owner notification failed")
		}
	}
	s.log.WithField("feedback_id", fb.ID).Info("feedback received")
	return fb, nil
}

package services

import (
	"context"
	"time"

	"donation-service/models"
	"donation-service/repository"
)

// DuplicateGuard finds a recent pending attempt for the same payer and amount
// so a resubmitted form reuses its checkout session.
type DuplicateGuard struct {
	repo   repository.DonationRepository
	window time.Duration
	now    func() time.Time
}

func NewDuplicateGuard(repo repository.DonationRepository, window time.Duration) *DuplicateGuard {
	return &DuplicateGuard{repo: repo, window: window, now: time.Now}
}

// FindRecentPending returns the newest pending attempt for the pair created
// within the window, or nil. An empty email never matches.
func (g *DuplicateGuard) FindRecentPending(ctx context.Context, email string, amountMinorUnits int64) (*models.Donation, error) {
	if email == "" || g.window <= 0 {
		return nil, nil
	}
	return g.repo.FindRecentPending(ctx, email, amountMinorUnits, g.now().Add(-g.window))
}

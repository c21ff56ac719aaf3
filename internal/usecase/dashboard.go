package usecase

import (
	"context"

	"github.com/example/chestscan/internal/classifier"
	"github.com/example/chestscan/internal/repository"
)

// RecentLimit is how many records the dashboard shows.
const RecentLimit = 20

// DashboardSummary aggregates one owner's screening activity.
type DashboardSummary struct {
	Total     int64                    `json:"total"`
	Pneumonia int64                    `json:"pneumonia"`
	Normal    int64                    `json:"normal"`
	Recent    []*repository.Prediction `json:"recent"`
}

// Dashboard computes the caller's counts and recent history. Counts are
// computed on read; nothing here has side effects.
func (uc *PredictionUseCase) Dashboard(ctx context.Context, ownerID string) (*DashboardSummary, error) {
	total, err := uc.store.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	pneumonia, err := uc.store.CountByOwnerAndLabel(ctx, ownerID, classifier.LabelPneumonia)
	if err != nil {
		return nil, err
	}

	normal, err := uc.store.CountByOwnerAndLabel(ctx, ownerID, classifier.LabelNormal)
	if err != nil {
		return nil, err
	}

	recent, err := uc.store.RecentByOwner(ctx, ownerID, RecentLimit)
	if err != nil {
		return nil, err
	}

	return &DashboardSummary{
		Total:     total,
		Pneumonia: pneumonia,
		Normal:    normal,
		Recent:    recent,
	}, nil
}

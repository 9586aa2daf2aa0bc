package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dormtrack/roomcheck-api/internal/models"
	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
)

type statsRepository interface {
	BuildingStats(ctx context.Context, dayStart, dayEnd time.Time) ([]models.BuildingStats, error)
	FloorStats(ctx context.Context, building int, dayStart, dayEnd time.Time) ([]models.FloorStats, error)
}

type capacityReader interface {
	CapacityStats(ctx context.Context) (*models.DeviceCapacityStats, error)
}

// DashboardSummary is the top-level admin overview for one date.
type DashboardSummary struct {
	Date        string                      `json:"date"`
	Buildings   []models.BuildingStats      `json:"buildings"`
	Totals      models.BuildingStats        `json:"totals"`
	Capacity    *models.DeviceCapacityStats `json:"capacity,omitempty"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// StatsService aggregates derived statuses for reporting.
type StatsService struct {
	repo     statsRepository
	capacity capacityReader
	cache    *CacheService
	logger   *zap.Logger
	statsTTL time.Duration
}

// NewStatsService constructs StatsService.
func NewStatsService(repo statsRepository, capacity capacityReader, cache *CacheService, statsTTL time.Duration, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statsTTL <= 0 {
		statsTTL = 5 * time.Minute
	}
	return &StatsService{repo: repo, capacity: capacity, cache: cache, statsTTL: statsTTL, logger: logger}
}

// Buildings returns per-building status counts for the date.
func (s *StatsService) Buildings(ctx context.Context, date string) ([]models.BuildingStats, error) {
	dayStart, dayEnd, err := dayWindow(date)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("stats:buildings:%s", dayStart.Format("2006-01-02"))
	var cached []models.BuildingStats
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	stats, err := s.repo.BuildingStats(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute building stats")
	}
	if err := s.cache.Set(ctx, key, stats, s.statsTTL); err != nil {
		s.logger.Warn("stats cache write failed", zap.Error(err))
	}
	return stats, nil
}

// Floors returns per-area/floor status counts for one building on the date.
func (s *StatsService) Floors(ctx context.Context, building int, date string) ([]models.FloorStats, error) {
	if building <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "building required")
	}
	dayStart, dayEnd, err := dayWindow(date)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("stats:floors:%d:%s", building, dayStart.Format("2006-01-02"))
	var cached []models.FloorStats
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	stats, err := s.repo.FloorStats(ctx, building, dayStart, dayEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute floor stats")
	}
	if err := s.cache.Set(ctx, key, stats, s.statsTTL); err != nil {
		s.logger.Warn("stats cache write failed", zap.Error(err))
	}
	return stats, nil
}

// Dashboard combines building stats with fleet capacity for the admin
// landing page.
func (s *StatsService) Dashboard(ctx context.Context, date string) (*DashboardSummary, error) {
	buildings, err := s.Buildings(ctx, date)
	if err != nil {
		return nil, err
	}
	dayStart, _, _ := dayWindow(date)

	summary := &DashboardSummary{
		Date:        dayStart.Format("2006-01-02"),
		Buildings:   buildings,
		GeneratedAt: time.Now(),
	}
	for _, b := range buildings {
		summary.Totals.Total += b.Total
		summary.Totals.Present += b.Present
		summary.Totals.Out += b.Out
		summary.Totals.OnLeave += b.OnLeave
		summary.Totals.NotChecked += b.NotChecked
	}
	if s.capacity != nil {
		capacity, err := s.capacity.CapacityStats(ctx)
		if err != nil {
			s.logger.Warn("capacity stats unavailable", zap.Error(err))
		} else {
			summary.Capacity = capacity
		}
	}
	return summary, nil
}

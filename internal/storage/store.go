package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tasooshi/pukpuk/internal/models"
)

var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")
)

// ListRunsParams contains parameters for listing runs with pagination.
// Runs are returned newest first.
type ListRunsParams struct {
	BeforeTime time.Time
	BeforeID   string
	Limit      int
}

// ListEndpointsParams contains parameters for listing the endpoints of a run.
// A zero Limit returns every matching endpoint.
type ListEndpointsParams struct {
	RunID    string
	Host     string
	Protocol models.Protocol
	Limit    int
}

// Storer defines the interface for storage operations on runs and their endpoints
type Storer interface {
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, id string, finishedAt time.Time, endpoints []models.Endpoint) error
	GetRunByID(ctx context.Context, id string) (*models.Run, error)
	LatestRun(ctx context.Context) (*models.Run, error)
	ListRuns(ctx context.Context, params ListRunsParams) ([]models.Run, error)

	ListEndpoints(ctx context.Context, params ListEndpointsParams) ([]models.Endpoint, error)
}

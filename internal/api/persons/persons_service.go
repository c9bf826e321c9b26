package persons

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/person-registry/internal/api/storage"
	"github.com/FACorreiaa/person-registry/internal/geo"
	"github.com/FACorreiaa/person-registry/internal/supabase"
	"github.com/FACorreiaa/person-registry/internal/types"
)

// MapPrecision is the number of decimals coordinates are rounded to on the map.
const MapPrecision = 2

// PartialFailureError reports a multi-step flow whose record was saved while
// a later step failed. The saved person is returned alongside it.
type PartialFailureError struct {
	Step string
	Err  error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("person saved but %s failed: %v", e.Step, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

var _ Service = (*ServiceImpl)(nil)

// Service defines the business logic of the registry.
type Service interface {
	List(ctx context.Context, token string, filters types.PersonFilters) ([]types.Person, error)
	Get(ctx context.Context, token, id string) (*types.Person, error)
	Create(ctx context.Context, token string, p types.NewPerson) (*types.Person, error)
	CreateWithPhoto(ctx context.Context, token string, p types.NewPerson, photo *types.PhotoFile) (*types.Person, error)
	Update(ctx context.Context, token, id string, u *types.PersonUpdate) (*types.Person, error)
	Delete(ctx context.Context, token, id string) error
	ReplacePhoto(ctx context.Context, token, id string, photo types.PhotoFile) (*types.Person, error)
	RemovePhoto(ctx context.Context, token, id string) (*types.Person, error)
	SetApproval(ctx context.Context, id string, decision types.ApprovalStatus, approverID string) (*types.Person, error)

	Stats(ctx context.Context, token string) (*types.Stats, error)
	MapData(ctx context.Context, token string) ([]types.LocationAggregate, error)
	Birthdays(ctx context.Context, token string, month int) ([]types.Person, error)
	Dashboard(ctx context.Context, token string, month int) types.Dashboard
}

type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
	photos storage.PhotoStore
	group  func([]types.GeoPoint) []types.LocationAggregate
	now    func() time.Time
}

func NewServiceImpl(repo Repository, photos storage.PhotoStore, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		repo:   repo,
		photos: photos,
		group:  geo.RoundingGrouper(MapPrecision),
		now:    time.Now,
	}
}

func (s *ServiceImpl) List(ctx context.Context, token string, filters types.PersonFilters) ([]types.Person, error) {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "List")
	defer span.End()

	persons, err := s.repo.List(ctx, token, filters)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list persons", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "List failed")
		return nil, err
	}
	return persons, nil
}

func (s *ServiceImpl) Get(ctx context.Context, token, id string) (*types.Person, error) {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "Get")
	defer span.End()

	p, err := s.repo.GetByID(ctx, token, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return p, nil
}

func (s *ServiceImpl) Create(ctx context.Context, token string, p types.NewPerson) (*types.Person, error) {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "Create")
	defer span.End()

	created, err := s.repo.Create(ctx, token, p)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create person", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Create failed")
		return nil, err
	}
	return created, nil
}

// CreateWithPhoto creates the person, uploads the photo and links it. Once
// the record exists, a failing upload or link is returned as a
// *PartialFailureError together with the created person.
func (s *ServiceImpl) CreateWithPhoto(ctx context.Context, token string, p types.NewPerson, photo *types.PhotoFile) (*types.Person, error) {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "CreateWithPhoto")
	defer span.End()
	l := s.logger.With(slog.String("method", "CreateWithPhoto"))

	created, err := s.Create(ctx, token, p)
	if err != nil || photo == nil {
		return created, err
	}
	span.SetAttributes(attribute.String("person.id", created.ID))

	url, err := s.photos.Upload(ctx, token, created.ID, *photo)
	if err != nil {
		l.WarnContext(ctx, "Person created without photo", slog.String("personID", created.ID), slog.Any("error", err))
		span.RecordError(err)
		return created, &PartialFailureError{Step: "photo upload", Err: err}
	}

	linked, err := s.repo.Update(ctx, token, created.ID, types.NewPersonUpdate().SetPhotoURL(&url))
	if err != nil {
		l.WarnContext(ctx, "Uploaded photo could not be linked", slog.String("personID", created.ID), slog.Any("error", err))
		span.RecordError(err)
		s.discardPhoto(ctx, token, url)
		return created, &PartialFailureError{Step: "photo link", Err: err}
	}
	return linked, nil
}

func (s *ServiceImpl) Update(ctx context.Context, token, id string, u *types.PersonUpdate) (*types.Person, error) {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "Update")
	defer span.End()

	updated, err := s.repo.Update(ctx, token, id, u)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to update person", slog.String("personID", id), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Update failed")
		return nil, err
	}
	return updated, nil
}

// Delete removes the record. Its photo, if any, stays in the blob store.
func (s *ServiceImpl) Delete(ctx context.Context, token, id string) error {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "Delete")
	defer span.End()

	if _, err := s.repo.Delete(ctx, token, id); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete person", slog.String("personID", id), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Delete failed")
		return err
	}
	return nil
}

// ReplacePhoto uploads the new photo, links it and then removes the previous
// one. Removing the previous photo is best effort.
func (s *ServiceImpl) ReplacePhoto(ctx context.Context, token, id string, photo types.PhotoFile) (*types.Person, error) {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "ReplacePhoto")
	defer span.End()
	span.SetAttributes(attribute.String("person.id", id))
	l := s.logger.With(slog.String("method", "ReplacePhoto"), slog.String("personID", id))

	current, err := s.repo.GetByID(ctx, token, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	url, err := s.photos.Upload(ctx, token, id, photo)
	if err != nil {
		l.ErrorContext(ctx, "Photo upload failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Upload failed")
		return nil, err
	}

	updated, err := s.repo.Update(ctx, token, id, types.NewPersonUpdate().SetPhotoURL(&url))
	if err != nil {
		l.ErrorContext(ctx, "Photo link failed", slog.Any("error", err))
		span.RecordError(err)
		s.discardPhoto(ctx, token, url)
		return nil, err
	}

	if current.PhotoURL != nil && *current.PhotoURL != "" && *current.PhotoURL != url {
		s.discardPhoto(ctx, token, *current.PhotoURL)
	}
	return updated, nil
}

// RemovePhoto clears the link, then deletes the stored photo (best effort).
func (s *ServiceImpl) RemovePhoto(ctx context.Context, token, id string) (*types.Person, error) {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "RemovePhoto")
	defer span.End()

	current, err := s.repo.GetByID(ctx, token, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if current.PhotoURL == nil || *current.PhotoURL == "" {
		return current, nil
	}

	updated, err := s.repo.Update(ctx, token, id, types.NewPersonUpdate().SetPhotoURL(nil))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Unlink failed")
		return nil, err
	}
	s.discardPhoto(ctx, token, *current.PhotoURL)
	return updated, nil
}

func (s *ServiceImpl) discardPhoto(ctx context.Context, token, url string) {
	if err := s.photos.Delete(ctx, token, url); err != nil {
		s.logger.WarnContext(ctx, "Failed to delete photo", slog.String("url", url), slog.Any("error", err))
	}
}

func (s *ServiceImpl) SetApproval(ctx context.Context, id string, decision types.ApprovalStatus, approverID string) (*types.Person, error) {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "SetApproval")
	defer span.End()

	p, err := s.repo.SetApproval(ctx, id, types.ApprovalChange{
		Status:     decision,
		ApproverID: approverID,
		ApprovedAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record approval decision",
			slog.String("personID", id),
			slog.String("decision", string(decision)),
			slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Approval failed")
		return nil, err
	}
	return p, nil
}

// Stats runs the six counts concurrently. The first failure fails the call.
func (s *ServiceImpl) Stats(ctx context.Context, token string) (*types.Stats, error) {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "Stats")
	defer span.End()

	var stats types.Stats
	counts := []struct {
		column, value string
		dst           *int64
	}{
		{"", "", &stats.Total},
		{"status", string(types.StatusActive), &stats.Active},
		{"status", string(types.StatusInactive), &stats.Inactive},
		{"status_aprovacao", string(types.ApprovalPending), &stats.Pending},
		{"status_aprovacao", string(types.ApprovalApproved), &stats.Approved},
		{"status_aprovacao", string(types.ApprovalRejected), &stats.Rejected},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range counts {
		g.Go(func() error {
			n, err := s.repo.Count(gctx, token, c.column, c.value)
			if err != nil {
				return err
			}
			*c.dst = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "failed to compute stats", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Stats failed")
		return nil, err
	}
	return &stats, nil
}

func (s *ServiceImpl) MapData(ctx context.Context, token string) ([]types.LocationAggregate, error) {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "MapData")
	defer span.End()

	points, err := s.repo.ApprovedCoordinates(ctx, token)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load coordinates", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Map data failed")
		return nil, err
	}
	groups := s.group(points)
	span.SetAttributes(attribute.Int("map.points", len(points)), attribute.Int("map.groups", len(groups)))
	return groups, nil
}

// Birthdays lists the persons born in month; 0 means the current month.
func (s *ServiceImpl) Birthdays(ctx context.Context, token string, month int) ([]types.Person, error) {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "Birthdays")
	defer span.End()

	if month == 0 {
		month = int(s.now().Month())
	}
	persons, err := s.repo.BirthdaysOfMonth(ctx, token, month)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load birthdays", slog.Int("month", month), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Birthdays failed")
		return nil, err
	}
	if persons == nil {
		persons = []types.Person{}
	}
	return persons, nil
}

// Dashboard loads the three sections concurrently. Each section keeps its
// own error and never fails the others.
func (s *ServiceImpl) Dashboard(ctx context.Context, token string, month int) types.Dashboard {
	ctx, span := otel.Tracer("PersonsService").Start(ctx, "Dashboard")
	defer span.End()

	d := types.Dashboard{Locations: []types.LocationAggregate{}, Birthdays: []types.Person{}}
	var g errgroup.Group
	g.Go(func() error {
		stats, err := s.Stats(ctx, token)
		if err != nil {
			d.StatsError = sectionError(err)
			return nil
		}
		d.Stats = stats
		return nil
	})
	g.Go(func() error {
		locations, err := s.MapData(ctx, token)
		if err != nil {
			d.MapError = sectionError(err)
			return nil
		}
		d.Locations = locations
		return nil
	})
	g.Go(func() error {
		birthdays, err := s.Birthdays(ctx, token, month)
		if err != nil {
			d.BirthdaysError = sectionError(err)
			return nil
		}
		d.Birthdays = birthdays
		return nil
	})
	_ = g.Wait()
	return d
}

func sectionError(err error) string {
	var apiErr *supabase.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

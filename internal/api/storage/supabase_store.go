package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FACorreiaa/person-registry/internal/supabase"
	"github.com/FACorreiaa/person-registry/internal/types"
)

var _ PhotoStore = (*SupabaseStore)(nil)

// SupabaseStore keeps photos in a public bucket of the hosted object storage.
type SupabaseStore struct {
	sb     *supabase.Client
	bucket string
	folder string
	logger *slog.Logger
	now    func() time.Time
}

func NewSupabaseStore(sb *supabase.Client, bucket, folder string, logger *slog.Logger) *SupabaseStore {
	return &SupabaseStore{sb: sb, bucket: bucket, folder: folder, logger: logger, now: time.Now}
}

func (s *SupabaseStore) publicPrefix() string {
	return s.sb.BaseURL() + "/storage/v1/object/public/"
}

func (s *SupabaseStore) Upload(ctx context.Context, token, personID string, file types.PhotoFile) (string, error) {
	ctx, span := otel.Tracer("SupabaseStore").Start(ctx, "Upload")
	defer span.End()
	l := s.logger.With(slog.String("method", "Upload"), slog.String("personID", personID))

	if err := validateUpload(personID, file); err != nil {
		span.RecordError(err)
		return "", err
	}

	objectPath := s.bucket + "/" + s.folder + "/" + objectName(personID, file, s.now())
	span.SetAttributes(attribute.String("storage.object", objectPath))

	_, err := s.sb.Do(ctx, supabase.Request{
		Method: http.MethodPost,
		Path:   "/storage/v1/object/" + objectPath,
		Header: http.Header{
			"Content-Type":  {contentType(file)},
			"Cache-Control": {"3600"},
			"X-Upsert":      {"true"},
		},
		Body:  file.Body,
		Token: token,
	})
	if err != nil {
		l.ErrorContext(ctx, "Photo upload failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Upload failed")
		return "", fmt.Errorf("%w: upload photo: %w", types.ErrStorage, err)
	}

	url := s.publicPrefix() + objectPath
	l.InfoContext(ctx, "Photo uploaded", slog.String("object", objectPath))
	span.SetStatus(codes.Ok, "")
	return url, nil
}

func (s *SupabaseStore) Delete(ctx context.Context, token, publicURL string) error {
	ctx, span := otel.Tracer("SupabaseStore").Start(ctx, "Delete")
	defer span.End()
	l := s.logger.With(slog.String("method", "Delete"))

	objectPath, ok := strings.CutPrefix(publicURL, s.publicPrefix())
	if !ok || !strings.Contains(strings.Trim(objectPath, "/"), "/") {
		err := fmt.Errorf("%w: %q is not a photo of this storage", types.ErrInvalidReference, publicURL)
		span.RecordError(err)
		return err
	}

	_, err := s.sb.Do(ctx, supabase.Request{
		Method: http.MethodDelete,
		Path:   "/storage/v1/object/" + objectPath,
		Token:  token,
	})
	if err != nil {
		l.WarnContext(ctx, "Photo delete failed", slog.String("object", objectPath), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Delete failed")
		return fmt.Errorf("%w: delete photo: %w", types.ErrStorage, err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

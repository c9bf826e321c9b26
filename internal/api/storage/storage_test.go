package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/person-registry/internal/supabase"
	"github.com/FACorreiaa/person-registry/internal/supabase/supabasetest"
	"github.com/FACorreiaa/person-registry/internal/types"
)

var fixedNow = time.UnixMilli(1714564800123)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestObjectName(t *testing.T) {
	tests := []struct {
		name string
		file types.PhotoFile
		want string
	}{
		{"extension from file name", types.PhotoFile{Name: "Me.JPG", ContentType: "image/png"}, "p1_1714564800123.jpg"},
		{"extension from content type", types.PhotoFile{ContentType: "image/png"}, "p1_1714564800123.png"},
		{"unknown", types.PhotoFile{ContentType: "application/x-nothing-known"}, "p1_1714564800123.bin"},
		{"path characters in extension", types.PhotoFile{Name: "x.png/../../etc", ContentType: "application/x-nothing-known"}, "p1_1714564800123.bin"},
		{"query characters fall back to content type", types.PhotoFile{Name: "a.jp?g=1", ContentType: "image/png"}, "p1_1714564800123.png"},
		{"overlong extension", types.PhotoFile{Name: "a.abcdefghijklmnop"}, "p1_1714564800123.bin"},
		{"mixed case digits", types.PhotoFile{Name: "scan.JP2"}, "p1_1714564800123.jp2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, objectName("p1", tt.file, fixedNow))
		})
	}
}

func setupSupabaseStoreTest(t *testing.T) (*SupabaseStore, *supabasetest.Server, string) {
	t.Helper()
	srv := supabasetest.New(t)
	sb, err := supabase.New(supabase.Config{URL: srv.URL, AnonKey: supabasetest.AnonKey}, discardLogger())
	require.NoError(t, err)
	srv.AddUser("ana@example.com", "secret123", "")
	token := srv.IssueToken("ana@example.com")

	store := NewSupabaseStore(sb, "fotos_perfil", "fotos_perfil", discardLogger())
	store.now = func() time.Time { return fixedNow }
	return store, srv, token
}

func TestSupabaseStore_Upload(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the object and returns its public url", func(t *testing.T) {
		store, srv, token := setupSupabaseStoreTest(t)
		file := types.PhotoFile{Name: "me.png", ContentType: "image/png", Body: []byte("png-bytes")}

		url, err := store.Upload(ctx, token, "p1", file)
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/storage/v1/object/public/fotos_perfil/fotos_perfil/p1_1714564800123.png", url)

		body, ok := srv.Object("fotos_perfil/fotos_perfil/p1_1714564800123.png")
		require.True(t, ok)
		assert.Equal(t, "png-bytes", string(body))

		resp, err := http.Get(url)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "public url is served")
	})

	t.Run("rejects empty photo without calling the backend", func(t *testing.T) {
		store, srv, token := setupSupabaseStoreTest(t)

		_, err := store.Upload(ctx, token, "p1", types.PhotoFile{Name: "me.png"})
		assert.ErrorIs(t, err, types.ErrValidation)
		assert.Empty(t, srv.Requests())
	})

	t.Run("backend failure is a storage error", func(t *testing.T) {
		store, _, _ := setupSupabaseStoreTest(t)

		_, err := store.Upload(ctx, "", "p1", types.PhotoFile{Name: "me.png", Body: []byte("x")})
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrStorage)
		var apiErr *supabase.APIError
		assert.True(t, errors.As(err, &apiErr))
	})
}

func TestSupabaseStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes an uploaded photo", func(t *testing.T) {
		store, srv, token := setupSupabaseStoreTest(t)
		url, err := store.Upload(ctx, token, "p1", types.PhotoFile{Name: "me.png", Body: []byte("x")})
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, token, url))
		assert.Equal(t, 0, srv.ObjectCount())
	})

	t.Run("foreign url is an invalid reference", func(t *testing.T) {
		store, srv, token := setupSupabaseStoreTest(t)

		err := store.Delete(ctx, token, "https://elsewhere.example.com/me.png")
		assert.ErrorIs(t, err, types.ErrInvalidReference)
		assert.Empty(t, srv.Requests())
	})

	t.Run("missing object is a storage error", func(t *testing.T) {
		store, srv, token := setupSupabaseStoreTest(t)

		err := store.Delete(ctx, token, srv.URL+"/storage/v1/object/public/fotos_perfil/fotos_perfil/gone.png")
		assert.ErrorIs(t, err, types.ErrStorage)
	})
}

// MockS3API is a mock implementation of S3API
type MockS3API struct {
	mock.Mock
}

func (m *MockS3API) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *MockS3API) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.DeleteObjectOutput), args.Error(1)
}

func setupS3StoreTest(t *testing.T) (*S3Store, *MockS3API) {
	t.Helper()
	client := new(MockS3API)
	store, err := NewS3Store(client, S3Config{
		Bucket:        "photos",
		Folder:        "/fotos_perfil/",
		PublicBaseURL: "https://cdn.example.com/photos/",
	}, discardLogger())
	require.NoError(t, err)
	store.now = func() time.Time { return fixedNow }
	return store, client
}

func TestNewS3Store_RequiresBucketAndURL(t *testing.T) {
	_, err := NewS3Store(new(MockS3API), S3Config{Bucket: "photos"}, discardLogger())
	assert.Error(t, err)
}

func TestS3Store_Upload(t *testing.T) {
	ctx := context.Background()
	store, client := setupS3StoreTest(t)
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "photos" &&
			aws.ToString(in.Key) == "fotos_perfil/p1_1714564800123.jpg" &&
			aws.ToString(in.ContentType) == "image/jpeg"
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	url, err := store.Upload(ctx, "ignored", "p1", types.PhotoFile{Name: "a.jpg", ContentType: "image/jpeg", Body: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/photos/fotos_perfil/p1_1714564800123.jpg", url)
	client.AssertExpectations(t)
}

func TestS3Store_UploadFailure(t *testing.T) {
	store, client := setupS3StoreTest(t)
	client.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied")).Once()

	_, err := store.Upload(context.Background(), "", "p1", types.PhotoFile{Name: "a.jpg", Body: []byte("x")})
	assert.ErrorIs(t, err, types.ErrStorage)
}

func TestS3Store_Delete(t *testing.T) {
	ctx := context.Background()
	store, client := setupS3StoreTest(t)
	client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Key) == "fotos_perfil/p1_1.jpg"
	})).Return(&s3.DeleteObjectOutput{}, nil).Once()

	require.NoError(t, store.Delete(ctx, "", "https://cdn.example.com/photos/fotos_perfil/p1_1.jpg"))
	assert.ErrorIs(t, store.Delete(ctx, "", "https://other.example.com/x.jpg"), types.ErrInvalidReference)
	client.AssertExpectations(t)
}

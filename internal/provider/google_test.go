package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadfinder/internal/resilience"
	"github.com/sells-group/leadfinder/pkg/google"
	"github.com/sells-group/leadfinder/pkg/google/mocks"
)

func fastGoogle(client google.Client, pages int) *Google {
	return NewGoogle(client, GoogleConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
		MaxPages: pages,
	})
}

func ptr[T any](v T) *T { return &v }

func TestGoogle_Search_MapsFields(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, google.TextSearchRequest{TextQuery: "plumbers austin"}).
		Return(&google.TextSearchResponse{Places: []google.Place{
			{
				ID:                  "ChIJ-1",
				DisplayName:         google.DisplayName{Text: "Acme Plumbing"},
				FormattedAddress:    "1 Main St",
				NationalPhoneNumber: "(512) 555-0100",
				WebsiteURI:          "https://acme.com",
				Rating:              ptr(4.8),
				UserRatingCount:     31,
				Location:            &google.LatLng{Latitude: 30.1, Longitude: -97.7},
				Types:               []string{"plumber", "store"},
			},
			{ID: "ChIJ-2", DisplayName: google.DisplayName{Text: "Bare"}},
		}}, nil).Once()

	places, err := fastGoogle(client, 1).Search(context.Background(), " plumbers austin ")

	require.NoError(t, err)
	require.Len(t, places, 2)
	p := places[0]
	assert.Equal(t, "ChIJ-1", p.PlaceID)
	assert.Equal(t, "Acme Plumbing", p.Name)
	assert.Equal(t, "1 Main St", p.Address)
	assert.Equal(t, "(512) 555-0100", p.Phone)
	assert.Equal(t, "https://acme.com", p.Website)
	assert.InDelta(t, 4.8, *p.Rating, 0.001)
	assert.Equal(t, 31, p.ReviewsCount)
	assert.InDelta(t, 30.1, *p.Latitude, 0.0001)
	assert.InDelta(t, -97.7, *p.Longitude, 0.0001)
	assert.Equal(t, "plumber", p.Category)

	bare := places[1]
	assert.Empty(t, bare.Category)
	assert.Nil(t, bare.Rating)
	assert.Nil(t, bare.Latitude)
}

func TestGoogle_Search_FollowsPages(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, google.TextSearchRequest{TextQuery: "q"}).
		Return(&google.TextSearchResponse{Places: []google.Place{{ID: "a"}}, NextPageToken: "t2"}, nil).Once()
	client.On("TextSearch", mock.Anything, google.TextSearchRequest{TextQuery: "q", PageToken: "t2"}).
		Return(&google.TextSearchResponse{Places: []google.Place{{ID: "b"}}, NextPageToken: "t3"}, nil).Once()

	places, err := fastGoogle(client, 2).Search(context.Background(), "q")

	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, "a", places[0].PlaceID)
	assert.Equal(t, "b", places[1].PlaceID)
}

func TestGoogle_Search_RetriesServerErrors(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, mock.Anything).
		Return(nil, &google.APIError{StatusCode: http.StatusServiceUnavailable}).Twice()
	client.On("TextSearch", mock.Anything, mock.Anything).
		Return(&google.TextSearchResponse{Places: []google.Place{{ID: "a"}}}, nil).Once()

	places, err := fastGoogle(client, 1).Search(context.Background(), "q")

	require.NoError(t, err)
	assert.Len(t, places, 1)
}

func TestGoogle_Search_QuotaExceededNotRetried(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, mock.Anything).
		Return(nil, &google.APIError{StatusCode: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"}).Once()

	_, err := fastGoogle(client, 1).Search(context.Background(), "q")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestGoogle_Search_AuthFailureIsUnavailable(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, mock.Anything).
		Return(nil, &google.APIError{StatusCode: http.StatusForbidden, Message: "API key invalid"}).Once()

	_, err := fastGoogle(client, 1).Search(context.Background(), "q")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "API key invalid")
}

func TestGoogle_Search_TransportFailureExhaustsRetries(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, mock.Anything).
		Return(nil, errors.New("google: send request: connection reset by peer")).Times(3)

	_, err := fastGoogle(client, 1).Search(context.Background(), "q")

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGoogle_Search_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled).Once()

	_, err := fastGoogle(client, 1).Search(ctx, "q")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestGoogle_Search_BreakerFailsFast(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, mock.Anything).
		Return(nil, &google.APIError{StatusCode: http.StatusServiceUnavailable}).Times(2)

	g := NewGoogle(client, GoogleConfig{
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
		Breaker: NewBreaker(2, time.Minute),
	})

	for i := 0; i < 2; i++ {
		_, err := g.Search(context.Background(), "plumbers")
		require.ErrorIs(t, err, ErrUnavailable)
	}

	// Open: the client is not called again.
	_, err := g.Search(context.Background(), "plumbers")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, resilience.BreakerOpen, g.breaker.State())
}

func TestGoogle_Search_QuotaDoesNotTripBreaker(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, mock.Anything).
		Return(nil, &google.APIError{StatusCode: http.StatusTooManyRequests}).Times(3)

	g := NewGoogle(client, GoogleConfig{
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
		Breaker: NewBreaker(1, time.Minute),
	})

	for i := 0; i < 3; i++ {
		_, err := g.Search(context.Background(), "plumbers")
		require.ErrorIs(t, err, ErrQuotaExceeded)
	}
	assert.Equal(t, resilience.BreakerClosed, g.breaker.State())
}

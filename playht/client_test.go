package playht

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playai-relay-backend/auth"
	"playai-relay-backend/models"
)

func testCredentials(t *testing.T) auth.Credentials {
	t.Helper()
	creds, err := auth.NewCredentials("test-key", "test-user")
	require.NoError(t, err)
	return creds
}

func TestNewClient_RejectsMissingCredentials(t *testing.T) {
	_, err := NewClient(auth.Credentials{})
	assert.ErrorIs(t, err, auth.ErrMissingAPIKey)
}

func TestClient_Stream(t *testing.T) {
	var got map[string]any
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-audio"))
	}))
	defer srv.Close()

	c, err := NewClient(testCredentials(t), WithEndpoint(srv.URL))
	require.NoError(t, err)

	s, err := models.SynthesisRequest{Text: "hello"}.Normalize()
	require.NoError(t, err)

	body, err := c.Stream(context.Background(), s)
	require.NoError(t, err)
	defer body.Close()

	audio, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "ID3-audio", string(audio))

	assert.Equal(t, "Bearer test-key", header.Get("Authorization"))
	assert.Equal(t, "test-user", header.Get("X-USER-ID"))
	assert.Equal(t, "application/json", header.Get("Content-Type"))

	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "Play3.0-mini", got["model"])
	assert.Equal(t, models.DefaultVoice, got["voice"])
	assert.Equal(t, "mp3", got["outputFormat"])
	assert.Equal(t, float64(1), got["speed"])
	assert.NotContains(t, got, "temperature")
}

func TestClient_StreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("rate limited\n"))
	}))
	defer srv.Close()

	c, err := NewClient(testCredentials(t), WithEndpoint(srv.URL))
	require.NoError(t, err)

	body, err := c.Stream(context.Background(), models.Synthesis{Text: "hi"})
	assert.Nil(t, body)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusInternalServerError, serr.StatusCode)
	assert.Equal(t, "rate limited", serr.Body)
	assert.Equal(t, "request failed with status code 500: rate limited", serr.Error())
}

func TestClient_StreamTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(testCredentials(t), WithEndpoint(url))
	require.NoError(t, err)

	_, err = c.Stream(context.Background(), models.Synthesis{Text: "hi"})
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
}

func TestClient_StreamCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewClient(testCredentials(t), WithEndpoint(srv.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Stream(ctx, models.Synthesis{Text: "hi"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClient_NoCaching(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	c, err := NewClient(testCredentials(t), WithEndpoint(srv.URL))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		body, err := c.Stream(context.Background(), models.Synthesis{Text: "same"})
		require.NoError(t, err)
		io.Copy(io.Discard, body)
		body.Close()
	}
	assert.Equal(t, int32(2), calls.Load())
}

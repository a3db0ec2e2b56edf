package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribe(t *testing.T) {
	var gotLang string
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLang = r.FormValue("language")
		f, _, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotAudio, _ = io.ReadAll(f)
		w.Write([]byte(`{"transcript":"  alice \n"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "es-ES", false)
	text, err := c.Transcribe(context.Background(), Clip{Data: []byte("opus")})
	require.NoError(t, err)
	assert.Equal(t, "alice", text)
	assert.Equal(t, "es-ES", gotLang)
	assert.Equal(t, []byte("opus"), gotAudio)
}

func TestTranscribeErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"not implemented", http.StatusNotImplemented, "", ErrUnsupported},
		{"server error", http.StatusInternalServerError, "boom", ErrRecognition},
		{"empty transcript", http.StatusOK, `{"transcript":"   "}`, ErrRecognition},
		{"bad json", http.StatusOK, `not json`, ErrRecognition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, "es-ES", false).Transcribe(context.Background(), Clip{Data: []byte("x")})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTranscribeUnconfigured(t *testing.T) {
	_, err := New("", "es-ES", false).Transcribe(context.Background(), Clip{Data: []byte("x")})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, New("", "", false).Health(context.Background()), ErrUnsupported)
}

func TestSkipReadsClipAsText(t *testing.T) {
	c := New("", "es-ES", true)
	text, err := c.Transcribe(context.Background(), Clip{Data: []byte(" bob ")})
	require.NoError(t, err)
	assert.Equal(t, "bob", text)
	assert.NoError(t, c.Health(context.Background()))
}

type scripted struct {
	calls   []string
	results []string
	errs    []error
}

func (s *scripted) Transcribe(_ context.Context, clip Clip) (string, error) {
	i := len(s.calls)
	s.calls = append(s.calls, string(clip.Data))
	return s.results[i], s.errs[i]
}

func TestCredentialsOrder(t *testing.T) {
	s := &scripted{results: []string{"alice", "pw1"}, errs: []error{nil, nil}}
	user, pass, err := Credentials(context.Background(), s, Clip{Data: []byte("u")}, Clip{Data: []byte("p")})
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "pw1", pass)
	assert.Equal(t, []string{"u", "p"}, s.calls)
}

func TestCredentialsStopsAfterFirstFailure(t *testing.T) {
	s := &scripted{results: []string{"", ""}, errs: []error{ErrRecognition, nil}}
	_, _, err := Credentials(context.Background(), s, Clip{Data: []byte("u")}, Clip{Data: []byte("p")})
	assert.True(t, errors.Is(err, ErrRecognition))
	assert.Len(t, s.calls, 1)

	_, _, err = Credentials(context.Background(), nil, Clip{}, Clip{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

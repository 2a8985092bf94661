package imagegen

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/replicate/replicate-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputURL(t *testing.T) {
	cases := []struct {
		name   string
		output replicate.PredictionOutput
		want   string
	}{
		{"string", "https://x/1.png", "https://x/1.png"},
		{"list", []interface{}{"https://x/2.png"}, "https://x/2.png"},
		{"string list", []string{"https://x/3.png"}, "https://x/3.png"},
		{"object", map[string]interface{}{"url": "https://x/4.png"}, "https://x/4.png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := OutputURL(tc.output)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range []replicate.PredictionOutput{nil, "", []interface{}{}, map[string]interface{}{}, 42} {
		_, err := OutputURL(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	g := newReplicate(Config{}, nil)
	g.run = func(ctx context.Context, model string, input replicate.PredictionInput) (replicate.PredictionOutput, error) {
		assert.Equal(t, DefaultModel, model)
		assert.Equal(t, "a cat", input["prompt"])
		assert.Equal(t, true, input["prompt_upsampling"])
		assert.Equal(t, "9:16", input["aspect_ratio"])
		return srv.URL + "/out.png", nil
	}

	data, err := g.Generate(context.Background(), "a cat")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestGenerateErrors(t *testing.T) {
	g := newReplicate(Config{}, nil)
	g.run = func(ctx context.Context, model string, input replicate.PredictionInput) (replicate.PredictionOutput, error) {
		return nil, errors.New("nsfw")
	}
	_, err := g.Generate(context.Background(), "x")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	g.run = func(ctx context.Context, model string, input replicate.PredictionInput) (replicate.PredictionOutput, error) {
		return srv.URL, nil
	}
	_, err = g.Generate(context.Background(), "x")
	assert.Error(t, err)
}

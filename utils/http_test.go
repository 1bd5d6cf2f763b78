package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()
		data := map[string]string{"message": "test"}

		err := WriteJSON(w, http.StatusOK, data)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		err = json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusNoContent, nil)
		require.NoError(t, err)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteBadRequest(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteBadRequest(w, "Validation failed", map[string]string{"email": "email is required"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Validation failed","fields":{"email":"email is required"}}`, w.Body.String())
}

func TestWriteUnauthorized(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteUnauthorized(w)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
}

func TestWriteForbidden(t *testing.T) {
	t.Run("lists required and held permissions", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteForbidden(w, []string{"permissions:manage"}, []string{"roles:manage"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.JSONEq(t, `{
			"error": "Insufficient permissions",
			"required": ["permissions:manage"],
			"has": ["roles:manage"]
		}`, w.Body.String())
	})

	t.Run("nil held list renders as empty array", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteForbidden(w, []string{"a:read"}, nil)
		require.NoError(t, err)

		assert.JSONEq(t, `{"error":"Insufficient permissions","required":["a:read"],"has":[]}`, w.Body.String())
	})
}

func TestWriteInternalServerError(t *testing.T) {
	t.Run("with details", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteInternalServerError(w, "reference 1234")
		require.NoError(t, err)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"Internal server error","details":"reference 1234"}`, w.Body.String())
	})

	t.Run("without details", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteInternalServerError(w, "")
		require.NoError(t, err)

		assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
	})
}

func TestWriteBadGateway(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteBadGateway(w, "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"Bad gateway"}`, w.Body.String())
}

func TestWriteServiceUnavailable(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteServiceUnavailable(w, "jwks unavailable")
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"jwks unavailable"}`, w.Body.String())
}

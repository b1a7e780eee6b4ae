package rest_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocations(t *testing.T) {
	e := newEnv(t)
	e.seedCatalog(t)

	w := e.do(http.MethodGet, "/api/locations", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["locations"], 5)

	w = e.do(http.MethodGet, "/api/places", nil, "")
	assert.Len(t, decode(t, w)["locations"], 4)

	w = e.do(http.MethodGet, "/api/events", nil, "")
	events := decode(t, w)["locations"].([]interface{})
	require.Len(t, events, 1)
	assert.Equal(t, "y", events[0].(map[string]interface{})["id"])

	w = e.do(http.MethodGet, "/api/locations?limit=2", nil, "")
	assert.Len(t, decode(t, w)["locations"], 2)

	w = e.do(http.MethodGet, "/api/locations?borough=Bronx", nil, "")
	assert.Empty(t, decode(t, w)["locations"])
}

func TestLocation_Get(t *testing.T) {
	e := newEnv(t)
	e.seedCatalog(t)

	w := e.do(http.MethodGet, "/api/locations/a", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Loc a", decode(t, w)["location"].(map[string]interface{})["name"])

	w = e.do(http.MethodGet, "/api/locations/zzz", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

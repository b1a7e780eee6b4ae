package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIPWhitelist(t *testing.T) {
	cases := []struct {
		name    string
		entries []string
		client  string
		want    int
	}{
		{"empty list", nil, "1.2.3.4", http.StatusOK},
		{"exact match", []string{"192.168.1.1"}, "192.168.1.1", http.StatusOK},
		{"exact miss", []string{"10.0.0.1", "10.0.0.2"}, "10.0.0.3", http.StatusForbidden},
		{"cidr hit", []string{"10.1.0.0/16"}, "10.1.42.7", http.StatusOK},
		{"cidr miss", []string{"10.1.0.0/16"}, "10.2.0.1", http.StatusForbidden},
		{"unmasked cidr", []string{"10.1.2.3/16"}, "10.1.99.1", http.StatusOK},
		{"ipv6", []string{"2001:db8::/32"}, "2001:db8::5", http.StatusOK},
		{"mapped ipv4", []string{"::ffff:10.0.0.9"}, "10.0.0.9", http.StatusOK},
		{"only bad entries", []string{"not-an-ip"}, "10.0.0.9", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(IPWhitelist(tc.entries))
			r.GET("/api/admin/stats", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
			req.Header.Set("X-Real-IP", tc.client)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestParseAllowList(t *testing.T) {
	prefixes, err := ParseAllowList([]string{"10.0.0.1", " 172.16.5.0/12 ", ""})
	require.NoError(t, err)
	require.Len(t, prefixes, 2)
	assert.Equal(t, "10.0.0.1/32", prefixes[0].String())
	assert.Equal(t, "172.16.0.0/12", prefixes[1].String())

	_, err = ParseAllowList([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseAllowList([]string{"localhost"})
	assert.Error(t, err)
}

package alpaca

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGet(t *testing.T) {
	f := newFakeServer(t)
	f.script("altitude", 45.5)
	c := NewClient(f.URL(), "telescope", 0, 7)

	v, err := c.GetFloat(context.Background(), "altitude")
	require.NoError(t, err)
	assert.Equal(t, 45.5, v)
}

func TestClientGetTypes(t *testing.T) {
	f := newFakeServer(t)
	f.script("slewing", true)
	f.script("shutterstatus", 2)
	f.script("name", "Simulator")
	c := NewClient(f.URL(), "dome", 0, 1)
	ctx := context.Background()

	b, err := c.GetBool(ctx, "slewing")
	require.NoError(t, err)
	assert.True(t, b)

	n, err := c.GetInt(ctx, "shutterstatus")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s, err := c.GetString(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Simulator", s)
}

func TestClientRequestShape(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []*http.Request
		txs  []int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		tx, _ := strconv.Atoi(r.Form.Get("ClientTransactionID"))
		mu.Lock()
		seen = append(seen, r)
		txs = append(txs, tx)
		mu.Unlock()
		w.Write([]byte(`{"ErrorNumber":0,"ErrorMessage":"","Value":0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "Telescope", 3, 42)
	ctx := context.Background()

	require.NoError(t, c.Get(ctx, "azimuth", nil))

	form := url.Values{}
	form.Set("Tracking", "True")
	require.NoError(t, c.Put(ctx, "tracking", form))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)

	// Device type is lowercased into the path, regardless of how the
	// session was constructed.
	assert.Equal(t, "/api/v1/telescope/3/azimuth", seen[0].URL.Path)
	assert.Equal(t, "42", seen[0].URL.Query().Get("ClientID"))

	assert.Equal(t, http.MethodPut, seen[1].Method)
	assert.Equal(t, "application/x-www-form-urlencoded", seen[1].Header.Get("Content-Type"))
	assert.Equal(t, "42", seen[1].PostForm.Get("ClientID"))
	assert.Equal(t, "True", seen[1].PostForm.Get("Tracking"))

	// Transaction IDs are strictly increasing across requests.
	assert.Greater(t, txs[1], txs[0])
}

func TestClientDeviceError(t *testing.T) {
	f := newFakeServer(t)
	f.fail("slewtocoordinates", 1025, "invalid value")
	c := NewClient(f.URL(), "telescope", 0, 1)

	err := c.Put(context.Background(), "slewtocoordinates", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceReported))

	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 1025, aerr.Code)
	assert.Contains(t, aerr.Error(), "invalid value")

	// Failed requests count like successful ones.
	assert.Equal(t, 1, f.putCount("slewtocoordinates"))

	_, err = c.GetInt(context.Background(), "slewtocoordinates")
	assert.True(t, errors.Is(err, ErrDeviceReported))
	assert.Equal(t, 1, f.getCount("slewtocoordinates"))
}

func TestClientTransportErrors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		f := newFakeServer(t)
		f.failHTTP("altitude", http.StatusInternalServerError)
		c := NewClient(f.URL(), "telescope", 0, 1)

		_, err := c.GetFloat(context.Background(), "altitude")
		assert.True(t, errors.Is(err, ErrTransport))
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFakeServer(t)
		f.respondRaw("altitude", "<html>not json</html>")
		c := NewClient(f.URL(), "telescope", 0, 1)

		_, err := c.GetFloat(context.Background(), "altitude")
		assert.True(t, errors.Is(err, ErrTransport))
	})

	t.Run("unreachable server", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", "telescope", 0, 1)
		_, err := c.GetFloat(context.Background(), "altitude")
		assert.True(t, errors.Is(err, ErrTransport))
	})
}

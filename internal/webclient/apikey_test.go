package webclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyResolver_LimitedAccountNeverScrapes(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeAccount{steamID: 1})
	r := NewAPIKeyResolver(c, true)

	ok, key := r.Get(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "", key)
	assert.Equal(t, 0, hits)
}

func TestAPIKeyResolver_AlreadyRegistered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`Access Media Key: <p>key=ABCDEF0123456789ABCDEF0123456789</p>`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeAccount{steamID: 1})
	r := NewAPIKeyResolver(c, false)

	ok, key := r.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, "ABCDEF0123456789ABCDEF0123456789", key)
}

func TestAPIKeyResolver_RegistersWhenAbsent(t *testing.T) {
	var registered bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == pathAPIKeyRegister {
			registered = true
			w.Write([]byte(`{}`))
			return
		}
		if registered {
			w.Write([]byte(`key=FEDCBA9876543210FEDCBA9876543210`))
			return
		}
		w.Write([]byte(`<p>Register</p>`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeAccount{steamID: 1})
	r := NewAPIKeyResolver(c, false)

	ok, key := r.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, "FEDCBA9876543210FEDCBA9876543210", key)
	assert.True(t, registered)
}

func TestAPIKeyResolver_AccessDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`Access Denied`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeAccount{steamID: 1})
	r := NewAPIKeyResolver(c, false)

	ok, _ := r.Get(context.Background())
	assert.False(t, ok)
}

func TestAPIKeyResolver_CachesAcrossCalls(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`key=0123456789ABCDEF0123456789ABCDEF`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeAccount{steamID: 1})
	r := NewAPIKeyResolver(c, false)

	_, _ = r.Get(context.Background())
	_, _ = r.Get(context.Background())
	assert.Equal(t, 1, hits)
}

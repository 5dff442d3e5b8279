package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduassist/supervisor/internal/obslog"
	"github.com/eduassist/supervisor/internal/registry"
)

func writeRegistryFile(t *testing.T, id, url string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "registry-*.json")
	require.NoError(t, err)
	_, err = f.WriteString(`[{"id":"` + id + `","name":"Test","url":"` + url + `","description":"d","required_params":[]}]`)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestProbeHealthyAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	path := writeRegistryFile(t, "quiz_agent", srv.URL)
	reg, err := registry.Load(path)
	require.NoError(t, err)

	p := New(reg, time.Minute, 2*time.Second, obslog.New("test"))
	ok := p.Probe(context.Background(), "quiz_agent")
	assert.True(t, ok)

	snap, _ := reg.Get("quiz_agent")
	assert.Equal(t, registry.StatusHealthy, snap.Status)
}

func TestProbeOfflineAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := writeRegistryFile(t, "quiz_agent", srv.URL)
	reg, err := registry.Load(path)
	require.NoError(t, err)

	p := New(reg, time.Minute, 2*time.Second, obslog.New("test"))
	ok := p.Probe(context.Background(), "quiz_agent")
	assert.False(t, ok)

	snap, _ := reg.Get("quiz_agent")
	assert.Equal(t, registry.StatusOffline, snap.Status)
}

func TestProbeUnreachableAgentMarksOffline(t *testing.T) {
	path := writeRegistryFile(t, "quiz_agent", "http://127.0.0.1:1")
	reg, err := registry.Load(path)
	require.NoError(t, err)

	p := New(reg, time.Minute, 200*time.Millisecond, obslog.New("test"))
	ok := p.Probe(context.Background(), "quiz_agent")
	assert.False(t, ok)

	snap, _ := reg.Get("quiz_agent")
	assert.Equal(t, registry.StatusOffline, snap.Status)
}

func TestProbeAllCoalescesOverlappingRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	path := writeRegistryFile(t, "quiz_agent", srv.URL)
	reg, err := registry.Load(path)
	require.NoError(t, err)

	p := New(reg, time.Minute, 2*time.Second, obslog.New("test"))

	done := make(chan struct{})
	go func() {
		p.ProbeAll(context.Background())
		close(done)
	}()
	// second call overlapping the first should return immediately without error
	p.ProbeAll(context.Background())
	<-done
}

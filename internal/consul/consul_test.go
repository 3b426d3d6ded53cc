package consul

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	mu           sync.Mutex
	registered   map[string]consulapi.AgentServiceRegistration
	deregistered []string
}

func (f *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.URL.Path == "/v1/agent/service/register":
		var reg consulapi.AgentServiceRegistration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.registered[reg.ID] = reg
	case strings.HasPrefix(r.URL.Path, "/v1/agent/service/deregister/"):
		f.deregistered = append(f.deregistered, strings.TrimPrefix(r.URL.Path, "/v1/agent/service/deregister/"))
	case r.URL.Path == "/v1/health/service/storefront":
		var out []consulapi.ServiceEntry
		for _, reg := range f.registered {
			out = append(out, consulapi.ServiceEntry{
				Node:    &consulapi.Node{Address: "10.0.0.1"},
				Service: &consulapi.AgentService{ID: reg.ID, Service: reg.Name, Address: reg.Address, Port: reg.Port},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func TestRegisterAndDeregister(t *testing.T) {
	agent := &fakeAgent{registered: map[string]consulapi.AgentServiceRegistration{}}
	srv := httptest.NewServer(agent)
	defer srv.Close()

	client, err := NewClient(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)

	id, err := RegisterService(client, Registration{ServiceName: "storefront", Addr: ":8080", Host: "api-1", GRPCPort: 9090})
	require.NoError(t, err)
	assert.Equal(t, "storefront-api-1-8080", id)

	reg := agent.registered[id]
	assert.Equal(t, 8080, reg.Port)
	require.NotNil(t, reg.Check)
	assert.Equal(t, "http://api-1:8080/ping", reg.Check.HTTP)
	assert.Equal(t, "9090", reg.Meta["grpc_port"])

	addr, port, err := GetServiceAddress(client, "storefront")
	require.NoError(t, err)
	assert.Equal(t, "api-1", addr)
	assert.Equal(t, 8080, port)

	require.NoError(t, Deregister(client, id))
	assert.Equal(t, []string{id}, agent.deregistered)
}

func TestRegisterRejectsBadAddr(t *testing.T) {
	client, err := NewClient("127.0.0.1:1")
	require.NoError(t, err)
	_, err = RegisterService(client, Registration{ServiceName: "storefront", Addr: "8080"})
	assert.Error(t, err)
}

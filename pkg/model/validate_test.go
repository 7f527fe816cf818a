package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateServiceName(t *testing.T) {
	valid := []string{"menu", "api_gateway", "fortune-cookie", "login.v2", "A1"}
	for _, name := range valid {
		assert.NoError(t, ValidateServiceName(name), name)
	}

	invalid := []string{
		"",
		"menu; DROP TABLE menu",
		"menu'--",
		"../etc",
		"menu/items",
		"_hidden",
		"名字",
		"a b",
	}
	for _, name := range invalid {
		err := ValidateServiceName(name)
		require.Error(t, err, name)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
	}
}

func TestValidateAddress(t *testing.T) {
	for _, addr := range []string{"10.0.0.5", "127.0.0.1", "::1", "fe80::1", "menu-1.cafe.local", "localhost"} {
		assert.NoError(t, ValidateAddress(addr), addr)
	}
	for _, addr := range []string{"", "10.0.0.5' OR '1'='1", "host name", "-bad.example", "a/b", "%"} {
		assert.Error(t, ValidateAddress(addr), addr)
	}
}

func TestParsePort(t *testing.T) {
	port, err := ParsePort("9000")
	require.NoError(t, err)
	assert.Equal(t, 9000, port)

	for _, s := range []string{"0", "65536", "-1", "90a", "", "9000 OR 1=1"} {
		_, err := ParsePort(s)
		assert.Error(t, err, s)
	}
}

func TestNewKey(t *testing.T) {
	key, err := NewKey("menu", "10.0.0.5", 9000)
	require.NoError(t, err)
	assert.Equal(t, "menu/10.0.0.5:9000", key.String())

	_, err = NewKey("menu", "10.0.0.5", 0)
	assert.Error(t, err)
}

func TestAddressPairJSON(t *testing.T) {
	resp := EndpointsResponse{Endpoints: []AddressPair{{Address: "10.0.0.5", Port: 9000}}}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"endpoints":[["10.0.0.5",9000]]}`, string(data))

	var one EndpointResponse
	require.NoError(t, json.Unmarshal([]byte(`{"endpoints":["127.0.0.1",9100]}`), &one))
	assert.Equal(t, "127.0.0.1:9100", one.Endpoints.HostPort())

	assert.Error(t, json.Unmarshal([]byte(`{"endpoints":["127.0.0.1"]}`), &one))
}

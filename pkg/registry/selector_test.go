package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hewenyu/service-registry/pkg/model"
)

func TestRandomSelector_PicksFromList(t *testing.T) {
	endpoints := []model.Endpoint{
		{Service: "menu", Address: "10.0.0.1", Port: 9000},
		{Service: "menu", Address: "10.0.0.2", Port: 9000},
	}

	var s RandomSelector
	for i := 0; i < 100; i++ {
		assert.Contains(t, endpoints, s.Pick(endpoints))
	}
}

func TestRandomSelector_SingleEndpoint(t *testing.T) {
	only := model.Endpoint{Service: "menu", Address: "10.0.0.1", Port: 9000}
	assert.Equal(t, only, RandomSelector{}.Pick([]model.Endpoint{only}))
}

package registry

import (
	"math/rand/v2"

	"github.com/hewenyu/service-registry/pkg/model"
)

// Selector 从存活实例中选出一个
type Selector interface {
	// Pick 从非空列表中选择一个实例
	Pick(endpoints []model.Endpoint) model.Endpoint
}

// RandomSelector 等概率随机选择，可并发使用
type RandomSelector struct{}

// Pick 实现Selector
func (RandomSelector) Pick(endpoints []model.Endpoint) model.Endpoint {
	return endpoints[rand.IntN(len(endpoints))]
}

package arq

import (
	"testing"

	"github.com/cheekybits/is"
)

func TestNamespaceKeys(t *testing.T) {
	is := is.New(t)

	ns := NewNamespace("")
	is.Equal(ns.Name(), DefaultNamespace)

	ns = NewNamespace("shop:jobs")
	is.Equal(ns.Pending(), "shop:jobs:pending")
	is.Equal(ns.Payload("42"), "shop:jobs:payload:42")
	is.Equal(ns.Result("42"), "shop:jobs:result:42")
	is.Equal(ns.Status("42"), "shop:jobs:status:42")
	is.Equal(ns.Liveness("agent", "10.1.2.3"), "shop:jobs:agent:10.1.2.3")
	is.Equal(ns.Key(), "shop:jobs")
	is.Equal(ns.KeyFrom("other", "a", "b"), "other:a:b")
}

func TestBackOff(t *testing.T) {
	is := is.New(t)

	bo := newBackOff(10_000_000, 40_000_000, 2)
	is.Equal(int64(bo.NextAttempt()), int64(20_000_000))
	is.Equal(int64(bo.NextAttempt()), int64(40_000_000))
	is.Equal(int64(bo.NextAttempt()), int64(40_000_000))
	bo.Reset()
	is.Equal(int64(bo.NextAttempt()), int64(20_000_000))
}
